package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies application errors. Transport status codes are derived
// from it once, at the boundary.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindTemplateMissing   Kind = "template_missing"
	KindUpstreamTransport Kind = "upstream_transport"
	KindUpstreamProtocol  Kind = "upstream_protocol"
	KindJobFailure        Kind = "job_failure"
	KindPollTimeout       Kind = "poll_timeout"
	KindExtraction        Kind = "extraction"
	KindPersistence       Kind = "persistence"
	KindConflict          Kind = "conflict"
	KindPayloadTooLarge   Kind = "payload_too_large"
	KindNotFound          Kind = "not_found"
	KindConfig            Kind = "config"
	KindInternal          Kind = "internal"
)

// Phase tells a validation failure on client input apart from one on
// provider output.
type Phase string

const (
	PhaseInput  Phase = "input"
	PhaseResult Phase = "result"
)

// AppError represents application-specific errors
type AppError struct {
	Kind    Kind
	Message string
	Key     string // missing key or placeholder, when relevant
	Reason  string // provider-reported failure reason
	Phase   Phase
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by kind so errors.Is(err, &AppError{Kind: k}) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Error constructors
func NewAppError(kind Kind, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

func ValidationErrorf(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Phase: PhaseInput, Message: fmt.Sprintf(format, args...)}
}

// MissingArtifactError reports an unmet stage precondition.
func MissingArtifactError(document, key string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Phase:   PhaseInput,
		Key:     key,
		Message: fmt.Sprintf("missing required artifact %q for document %q", key, document),
		Cause:   ErrNotFound,
	}
}

// MissingKeyError reports a required key absent from a model result.
func MissingKeyError(key string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Phase:   PhaseResult,
		Key:     key,
		Message: fmt.Sprintf("result missing required key %q", key),
	}
}

func TemplateMissingError(stage string) *AppError {
	return &AppError{Kind: KindTemplateMissing, Key: stage, Message: fmt.Sprintf("no instruction template registered for stage %q", stage)}
}

func UpstreamTransportError(cause error) *AppError {
	return &AppError{Kind: KindUpstreamTransport, Message: "provider unreachable", Cause: cause}
}

func UpstreamProtocolErrorf(format string, args ...any) *AppError {
	return &AppError{Kind: KindUpstreamProtocol, Message: fmt.Sprintf(format, args...)}
}

// JobFailureError carries the provider's reason for a failed run.
func JobFailureError(status, reason string) *AppError {
	msg := "job ended with status " + status
	if reason != "" {
		msg += ": " + reason
	}
	return &AppError{Kind: KindJobFailure, Reason: reason, Message: msg}
}

func PollTimeoutError(attempts int, cause error) *AppError {
	return &AppError{Kind: KindPollTimeout, Message: fmt.Sprintf("job not terminal after %d polls", attempts), Cause: cause}
}

func ExtractionError(message string) *AppError {
	return &AppError{Kind: KindExtraction, Message: message}
}

func PersistenceError(message string, cause error) *AppError {
	return &AppError{Kind: KindPersistence, Message: message, Cause: cause}
}

func ConflictErrorf(format string, args ...any) *AppError {
	return &AppError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to a response status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ae *AppError
	if !errors.As(err, &ae) {
		if errors.Is(err, ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindValidation:
		if ae.Phase == PhaseResult {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamTransport, KindUpstreamProtocol, KindJobFailure, KindExtraction:
		return http.StatusBadGateway
	case KindPollTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
