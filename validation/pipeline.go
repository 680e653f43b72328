package validation

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// Config carries the per-profile validation settings. The size ceiling is
// deliberately configuration, not a constant: the product never settled on a
// single figure, so callers pick one per upload context.
type Config struct {
	MaxSizeBytes     int64
	AllowedTypes     []string
	ScanEnabled      bool
	ScanWindowBytes  int
	AnomalyEnabled   bool
	AnomalyThreshold float64
	Timeout          time.Duration
}

// DefaultTimeout bounds one full validation pass end to end.
const DefaultTimeout = 500 * time.Millisecond

// Recorder receives exactly one event per validated candidate, success or
// failure. Implementations must be fire-and-forget: a recording failure never
// fails the upload.
type Recorder interface {
	Record(out Outcome, c *Candidate)
}

// state names the pipeline's progress through one candidate.
type state int

const (
	stateReceived state = iota
	stateSizeChecked
	stateTypeChecked
	stateContentScanned
	stateAccepted
	stateRejected
)

func (s state) String() string {
	switch s {
	case stateReceived:
		return "received"
	case stateSizeChecked:
		return "size_checked"
	case stateTypeChecked:
		return "type_checked"
	case stateContentScanned:
		return "content_scanned"
	case stateAccepted:
		return "accepted"
	case stateRejected:
		return "rejected"
	}
	return "unknown"
}

// advance moves the candidate forward through the stage machine. Terminal
// states are accepted and rejected; transitions never go backwards.
func (c *Candidate) advance(s state) {
	if c.st == stateAccepted || c.st == stateRejected {
		return
	}
	c.st = s
}

// Pipeline orchestrates size, signature, and content checks in fixed order
// with short-circuit on first failure. Stage ordering is intentional: size is
// the cheapest check and rejects abuse before any CPU is spent on parsing;
// the content scan is the most expensive and runs last.
type Pipeline struct {
	cfg       Config
	scanner   *Scanner
	anomaly   *AnomalyDetector
	resources *ResourceManager
	recorder  Recorder
	logger    *zap.SugaredLogger

	// scan is the content scan entry point; defaults to scanner.Scan.
	scan func(buf []byte, confirmedType string) error
}

// New builds a pipeline. recorder and logger may be nil (events dropped,
// logging silent); resources must not be nil.
func New(cfg Config, resources *ResourceManager, recorder Recorder, logger *zap.SugaredLogger) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 0.7
	}
	p := &Pipeline{
		cfg:       cfg,
		scanner:   &Scanner{Window: cfg.ScanWindowBytes},
		anomaly:   &AnomalyDetector{Threshold: cfg.AnomalyThreshold},
		resources: resources,
		recorder:  recorder,
		logger:    logger,
	}
	p.scan = p.scanner.Scan
	return p
}

// Config returns the pipeline's settings.
func (p *Pipeline) Config() Config { return p.cfg }

// Run executes the whole flow from a streaming request body: header size
// check, guarded streaming receipt, then the buffered stages. The returned
// candidate is non-nil only on acceptance, when its buffer awaits hand-off.
func (p *Pipeline) Run(ctx context.Context, body io.Reader, declaredLen int64, declaredType, declaredFilename, source string) (Outcome, *Candidate) {
	start := time.Now()
	c := NewCandidate(declaredType, declaredFilename, source)
	p.resources.Track(c)

	// Header check: reject a declared oversize without reading the body.
	if err := CheckDeclaredSize(declaredLen, p.cfg.MaxSizeBytes); err != nil {
		return p.reject(c, err, start), nil
	}

	// Streaming check: the running total is enforced chunk by chunk, so an
	// absent or understated content-length cannot smuggle an oversized body.
	buf, total, err := ReadLimited(body, p.cfg.MaxSizeBytes)
	c.SizeBytes = total
	if err != nil {
		return p.reject(c, err, start), nil
	}
	c.RawBytes = buf

	out := p.validateBuffered(ctx, c, start)
	if !out.Accepted {
		return out, nil
	}
	return out, c
}

// Validate runs the buffered stages on an already-received candidate. It is a
// pure function of the candidate's bytes and the pipeline configuration:
// byte-identical candidates always produce the same outcome.
func (p *Pipeline) Validate(ctx context.Context, c *Candidate) Outcome {
	return p.validateBuffered(ctx, c, time.Now())
}

func (p *Pipeline) validateBuffered(ctx context.Context, c *Candidate, start time.Time) (out Outcome) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	// Genuinely unexpected internal failures must reach the caller as a
	// typed internal error, never as an unhandled panic or opaque 500, and
	// cleanup must still run.
	defer func() {
		if r := recover(); r != nil {
			if p.logger != nil {
				p.logger.Errorw("validation panic", "candidate_id", c.ID, "panic", r)
			}
			out = p.reject(c, newError(FailureInternal, "upload could not be validated"), start)
		}
	}()

	// Size stage. Streaming enforcement already ran during receipt; this
	// recheck keeps Validate self-contained for callers that buffered the
	// candidate themselves.
	if c.SizeBytes == 0 {
		c.SizeBytes = int64(len(c.RawBytes))
	}
	guard := StreamGuard{Limit: p.cfg.MaxSizeBytes}
	if err := guard.Add(c.SizeBytes); err != nil {
		return p.reject(c, err, start)
	}
	c.advance(stateSizeChecked)

	// Signature stage.
	if err := p.checkDeadline(ctx); err != nil {
		return p.reject(c, err, start)
	}
	detected, err := ValidateSignature(c.RawBytes, c.DeclaredContentType, p.cfg.AllowedTypes)
	if err != nil {
		return p.reject(c, err, start)
	}
	c.advance(stateTypeChecked)

	// Content scan stage, deadline-bounded: a hung scan must not hold the
	// buffer indefinitely.
	if p.cfg.ScanEnabled {
		if err := p.scanWithDeadline(ctx, c.RawBytes, detected); err != nil {
			if KindOf(err) == FailureValidationTimeout {
				// The orphaned scan goroutine may still be reading the
				// buffer; drop the reference instead of zeroing under it.
				return p.rejectAbandoned(c, err, detected, start)
			}
			return p.rejectTyped(c, err, detected, start)
		}
		if p.cfg.AnomalyEnabled {
			if err := p.anomaly.Check(c.RawBytes, detected); err != nil {
				return p.rejectTyped(c, err, detected, start)
			}
		}
	}
	c.advance(stateContentScanned)
	c.advance(stateAccepted)

	out = Outcome{
		CandidateID:   c.ID,
		Accepted:      true,
		DetectedType:  detected,
		SizeBytes:     c.SizeBytes,
		ElapsedMillis: time.Since(start).Milliseconds(),
	}
	p.record(out, c)
	return out
}

// scanWithDeadline runs the scanner and classifies deadline overrun as a
// timeout failure, distinct from a content-based rejection.
func (p *Pipeline) scanWithDeadline(ctx context.Context, buf []byte, confirmedType string) error {
	done := make(chan error, 1)
	go func() {
		done <- p.scan(buf, confirmedType)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return newError(FailureValidationTimeout, "validation took too long and was aborted")
	}
}

func (p *Pipeline) checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return newError(FailureValidationTimeout, "validation took too long and was aborted")
	default:
		return nil
	}
}

func (p *Pipeline) reject(c *Candidate, err error, start time.Time) Outcome {
	return p.finishReject(c, err, "", start, false)
}

func (p *Pipeline) rejectTyped(c *Candidate, err error, detected string, start time.Time) Outcome {
	return p.finishReject(c, err, detected, start, false)
}

func (p *Pipeline) rejectAbandoned(c *Candidate, err error, detected string, start time.Time) Outcome {
	return p.finishReject(c, err, detected, start, true)
}

func (p *Pipeline) finishReject(c *Candidate, err error, detected string, start time.Time, abandon bool) Outcome {
	verr, ok := err.(*Error)
	if !ok {
		verr = newError(FailureInternal, "upload could not be validated")
	}
	c.advance(stateRejected)
	out := Outcome{
		CandidateID:    c.ID,
		Accepted:       false,
		FailureKind:    verr.Kind,
		DetectedType:   detected,
		ThreatCategory: verr.Category,
		SizeBytes:      c.SizeBytes,
		ElapsedMillis:  time.Since(start).Milliseconds(),
		Err:            verr,
	}
	if abandon {
		p.resources.Abandon(c)
	} else {
		p.resources.Release(c)
	}
	p.record(out, c)
	return out
}

func (p *Pipeline) record(out Outcome, c *Candidate) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(out, c)
}
