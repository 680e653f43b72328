package validation

import "net/http"

// FailureKind is the discriminant for every way a candidate can be rejected.
// Handlers and tests must branch on this value, never on error message text.
type FailureKind string

const (
	// FailureNone marks an accepted candidate.
	FailureNone FailureKind = ""
	// FailureSizeExceededHeader: declared content-length over limit; body not read.
	FailureSizeExceededHeader FailureKind = "size_exceeded_header"
	// FailureSizeExceededStream: running byte count exceeded limit mid-stream.
	FailureSizeExceededStream FailureKind = "size_exceeded_stream"
	// FailureUnsupportedDeclaredType: declared MIME type not in the allowed set.
	FailureUnsupportedDeclaredType FailureKind = "unsupported_declared_type"
	// FailureSignatureMismatch: leading bytes do not match the declared type.
	FailureSignatureMismatch FailureKind = "signature_mismatch"
	// FailureMalformedFile: buffer too short to hold the declared type's signature.
	FailureMalformedFile FailureKind = "malformed_file"
	// FailureThreatPatternDetected: dangerous pattern found in file content.
	FailureThreatPatternDetected FailureKind = "threat_pattern_detected"
	// FailureThreatPatternInMetadata: dangerous pattern found in parsed metadata fields.
	FailureThreatPatternInMetadata FailureKind = "threat_pattern_in_metadata"
	// FailureMetadataParseFailure: metadata present but unparsable; fail closed.
	FailureMetadataParseFailure FailureKind = "metadata_parse_failure"
	// FailureAnomalyScore: structural anomaly confidence fell below threshold.
	FailureAnomalyScore FailureKind = "anomaly_score_below_threshold"
	// FailureValidationTimeout: a stage exceeded its time budget.
	FailureValidationTimeout FailureKind = "validation_timeout"
	// FailureCleanupFailure: resource release failed after a rejection. Logged
	// only; never returned to the caller in place of the original failure.
	FailureCleanupFailure FailureKind = "cleanup_failure"
	// FailureInternal: unexpected internal error; no security judgment implied.
	FailureInternal FailureKind = "internal_validation_error"
)

// Error is the tagged error type produced by every pipeline stage.
// Message is user-safe: it never contains file bytes, signature bytes,
// matched pattern text, or internal exception detail.
type Error struct {
	Kind    FailureKind
	Message string
	// Category identifies the matched threat pattern class (e.g. "script-tag")
	// for audit records. It is a label from our own pattern table, never
	// attacker-controlled content.
	Category string
}

func (e *Error) Error() string {
	return e.Message
}

// HTTPStatus maps a failure kind to the status returned by the upload endpoint.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case FailureSizeExceededHeader, FailureSizeExceededStream:
		return http.StatusRequestEntityTooLarge
	case FailureInternal, FailureValidationTimeout:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func newError(kind FailureKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf extracts the failure kind from an error returned by the pipeline.
// Unknown error types classify as internal.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if ve, ok := err.(*Error); ok {
		return ve.Kind
	}
	return FailureInternal
}
