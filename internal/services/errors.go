package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrBusinessRejection = errors.New("business rejection")
	ErrTransient         = errors.New("transient failure")
	ErrTimeout           = errors.New("timeout")
	ErrValidation        = errors.New("validation error")
	ErrPolicyDegradation = errors.New("policy degradation")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
	ErrCancelled         = errors.New("cancelled")
)

// ErrorKind is the persisted classification of a stage failure.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindBusinessRejection ErrorKind = "business_rejection"
	KindTransient         ErrorKind = "transient_infra"
	KindTimeout           ErrorKind = "timeout"
	KindValidation        ErrorKind = "validation_error"
	KindPolicyDegradation ErrorKind = "policy_degradation"
	KindConfiguration     ErrorKind = "configuration"
	KindNotFound          ErrorKind = "not_found"
	KindCancelled         ErrorKind = "cancelled"
)

// Error carries a marker sentinel alongside stage context and the root cause.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
	// RetryAfter is the dependency's requested wait before the next attempt.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

// Unwrap exposes both the marker and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// WithHint attaches an operator hint to a wrapped error. Non-service errors
// are wrapped as transient first.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		clone := *svcErr
		clone.Hint = strings.TrimSpace(hint)
		return &clone
	}
	return &Error{Marker: ErrTransient, Cause: err, Hint: strings.TrimSpace(hint)}
}

// WithRetryAfter records a dependency supplied backoff on a wrapped error.
func WithRetryAfter(err error, wait time.Duration) error {
	if err == nil || wait <= 0 {
		return err
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		clone := *svcErr
		clone.RetryAfter = wait
		return &clone
	}
	return &Error{Marker: ErrTransient, Cause: err, RetryAfter: wait}
}

// ErrorDetails is the flattened view of a classified error used for logging
// and persistence.
type ErrorDetails struct {
	Kind       ErrorKind
	Stage      string
	Operation  string
	Message    string
	Hint       string
	Cause      error
	RetryAfter time.Duration
}

// Details extracts classification data from err. Unclassified errors are
// reported as transient infrastructure failures.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindOf(err), Message: err.Error()}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		if svcErr.Message != "" {
			details.Message = svcErr.Message
		}
		details.Hint = svcErr.Hint
		details.Cause = svcErr.Cause
		details.RetryAfter = svcErr.RetryAfter
	}
	if details.Hint == "" {
		details.Hint = defaultHint(details.Kind)
	}
	return details
}

// KindOf maps an error to its taxonomy kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrBusinessRejection):
		return KindBusinessRejection
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrPolicyDegradation):
		return KindPolicyDegradation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransient
	}
}

// IsRetryable reports whether err should consume retry budget. Only
// transient infrastructure failures and timeouts qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

func defaultHint(kind ErrorKind) string {
	switch kind {
	case KindInvalidInput:
		return "check the scan identifiers and angle URLs"
	case KindBusinessRejection:
		return "ask the user to retake photos"
	case KindValidation:
		return "inspect the upstream model response"
	case KindConfiguration:
		return "run scanpipe config validate"
	case KindTimeout, KindTransient:
		return "retry once the dependency recovers"
	case KindCancelled:
		return "retry the scan to resume"
	default:
		return ""
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
