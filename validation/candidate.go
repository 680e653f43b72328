package validation

import (
	"github.com/google/uuid"
)

// Candidate represents one inbound file before acceptance. Its buffer is
// exclusively owned by the validation flow processing it: released by the
// resource manager on rejection, or handed off to storage on acceptance,
// never both.
type Candidate struct {
	ID                  string
	RawBytes            []byte
	DeclaredContentType string
	DeclaredFilename    string
	SizeBytes           int64
	SourceIdentifier    string

	st       state
	released bool
	handed   bool
}

// NewCandidate allocates a candidate for an incoming upload. The buffer is
// filled afterwards by the streaming size guard.
func NewCandidate(declaredType, declaredFilename, source string) *Candidate {
	return &Candidate{
		ID:                  uuid.NewString(),
		DeclaredContentType: declaredType,
		DeclaredFilename:    declaredFilename,
		SourceIdentifier:    source,
	}
}

// Outcome is the immutable result of running the pipeline on one candidate.
// It is the sole artifact passed to both the caller and the audit log.
type Outcome struct {
	CandidateID  string
	Accepted     bool
	FailureKind  FailureKind
	DetectedType string
	// ThreatCategory is a pattern-class label, never verbatim matched bytes.
	ThreatCategory string
	SizeBytes      int64
	ElapsedMillis  int64
	// Err carries the typed rejection for the HTTP layer; nil when accepted.
	Err *Error
}
