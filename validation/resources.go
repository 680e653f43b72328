package validation

import (
	"sync"

	"go.uber.org/zap"
)

// ResourceManager tracks every in-flight candidate's buffer and guarantees
// release on every exit path. Acquisition is scoped per candidate; there is no
// process-wide shared collection of temp resources to contend on beyond the
// tracking map itself.
type ResourceManager struct {
	mu     sync.Mutex
	active map[string]*Candidate
	logger *zap.SugaredLogger
}

// NewResourceManager builds a manager. logger may be nil in tests.
func NewResourceManager(logger *zap.SugaredLogger) *ResourceManager {
	return &ResourceManager{
		active: make(map[string]*Candidate),
		logger: logger,
	}
}

// Track registers a candidate whose buffer is now owned by a validation flow.
func (m *ResourceManager) Track(c *Candidate) {
	m.mu.Lock()
	m.active[c.ID] = c
	m.mu.Unlock()
}

// Release frees a rejected candidate's buffer immediately and
// deterministically. Releasing an already-released or handed-off candidate is
// a cleanup failure: logged, never raised, so the original rejection stays
// visible to the caller.
func (m *ResourceManager) Release(c *Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.released || c.handed {
		if m.logger != nil {
			m.logger.Warnw("duplicate resource release",
				"candidate_id", c.ID,
				"kind", string(FailureCleanupFailure),
			)
		}
		return
	}
	if _, ok := m.active[c.ID]; !ok {
		if m.logger != nil {
			m.logger.Warnw("release of untracked candidate",
				"candidate_id", c.ID,
				"kind", string(FailureCleanupFailure),
			)
		}
	}
	delete(m.active, c.ID)
	// Drop the reference and zero the slice header so no later stage can
	// read a buffer the pipeline already rejected.
	for i := range c.RawBytes {
		c.RawBytes[i] = 0
	}
	c.RawBytes = nil
	c.released = true
}

// Abandon stops tracking a candidate whose buffer may still be read by an
// orphaned worker, such as a scan goroutine that outlived its deadline. The
// pipeline's reference is dropped without zeroing; the collector reclaims the
// buffer once the last reader returns.
func (m *ResourceManager) Abandon(c *Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.released || c.handed {
		if m.logger != nil {
			m.logger.Warnw("duplicate resource release",
				"candidate_id", c.ID,
				"kind", string(FailureCleanupFailure),
			)
		}
		return
	}
	delete(m.active, c.ID)
	c.RawBytes = nil
	c.released = true
}

// Handoff transfers buffer ownership to the storage collaborator on accept.
// The manager stops tracking the candidate; the returned slice is the caller's.
func (m *ResourceManager) Handoff(c *Candidate) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, c.ID)
	c.handed = true
	buf := c.RawBytes
	c.RawBytes = nil
	return buf
}

// ActiveCount reports candidates currently holding buffers; used by leak tests.
func (m *ResourceManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
