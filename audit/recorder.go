// Package audit persists one security event per validation attempt. The log
// is append-only and fire-and-forget: the pipeline never waits on it and a
// persistence failure never fails an upload.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/chartgate/models"
	"github.com/cppla/chartgate/utils"
	"github.com/cppla/chartgate/validation"
)

// DBRecorder appends events through a buffered channel drained by one writer
// goroutine, so concurrent uploads each get a single atomic append without
// interleaving and without blocking on the database.
type DBRecorder struct {
	db     *gorm.DB
	events chan models.SecurityEvent
	logger *zap.SugaredLogger

	closeOnce sync.Once
	done      chan struct{}
}

// NewDBRecorder starts the writer goroutine. buffer bounds how many pending
// events are held before new ones are dropped (dropped events are logged).
func NewDBRecorder(db *gorm.DB, buffer int, logger *zap.SugaredLogger) *DBRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	r := &DBRecorder{
		db:     db,
		events: make(chan models.SecurityEvent, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record converts an outcome into a persisted row. Non-blocking: when the
// buffer is full the event is dropped locally rather than stalling an upload.
func (r *DBRecorder) Record(out validation.Outcome, c *validation.Candidate) {
	ev := eventFromOutcome(out, c)
	select {
	case r.events <- ev:
	default:
		if r.logger != nil {
			r.logger.Warnw("security event buffer full, dropping event",
				"candidate_id", ev.CandidateID)
		}
	}
}

// Close stops the writer after flushing buffered events.
func (r *DBRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.events)
		<-r.done
	})
}

func (r *DBRecorder) drain() {
	defer close(r.done)
	for ev := range r.events {
		if err := r.db.Create(&ev).Error; err != nil && r.logger != nil {
			r.logger.Errorw("security event persist failed",
				"candidate_id", ev.CandidateID, "error", err)
		}
	}
}

// MemoryRecorder keeps events in memory. It backs tests and database-less
// deployments; ordering across concurrent uploads is not guaranteed, only
// one-record-per-candidate.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(out validation.Outcome, c *validation.Candidate) {
	ev := eventFromOutcome(out, c)
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a snapshot copy of everything recorded so far.
func (r *MemoryRecorder) Events() []models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SecurityEvent, len(r.events))
	copy(out, r.events)
	return out
}

// eventFromOutcome builds the persisted row. The filename is sanitized before
// it ever touches the log; threat matches are category labels only.
func eventFromOutcome(out validation.Outcome, c *validation.Candidate) models.SecurityEvent {
	outcome := "rejected"
	if out.Accepted {
		outcome = "accepted"
	}
	return models.SecurityEvent{
		CandidateID:       out.CandidateID,
		Outcome:           outcome,
		FailureKind:       string(out.FailureKind),
		DetectedType:      out.DetectedType,
		ThreatCategory:    out.ThreatCategory,
		SizeBytes:         out.SizeBytes,
		ElapsedMillis:     out.ElapsedMillis,
		SanitizedFilename: utils.SanitizeFilename(c.DeclaredFilename),
		SourceIdentifier:  c.SourceIdentifier,
		CreatedAt:         time.Now(),
	}
}
