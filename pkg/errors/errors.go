package ordersync_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrLeaseLost         = errors.New("lease lost")
)

// Kind classifies a failure so the retry classifier can pattern-match
// on error kind instead of string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindValidation
	KindDuplicate
	KindTransientExternal
	KindPermanentExternal
	KindHandlerLogic
	KindReconciliationDrift
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "AUTHENTICATION"
	case KindValidation:
		return "VALIDATION"
	case KindDuplicate:
		return "DUPLICATE"
	case KindTransientExternal:
		return "TRANSIENT_EXTERNAL"
	case KindPermanentExternal:
		return "PERMANENT_EXTERNAL"
	case KindHandlerLogic:
		return "HANDLER_LOGIC"
	case KindReconciliationDrift:
		return "RECONCILIATION_DRIFT"
	default:
		return "UNKNOWN"
	}
}

// Error carries a Kind plus optional upstream context (HTTP status,
// Retry-After) through the processing pipeline.
type Error struct {
	Kind       Kind
	Msg        string
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the classification of err, walking the wrap chain.
// Errors that never got classified report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAfterOf reports an externally signaled retry delay (a 429
// Retry-After header), if the error chain carries one.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// StatusCodeOf reports the upstream HTTP status attached to err, or 0.
func StatusCodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
