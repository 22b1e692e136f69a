package audit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the engine's failure taxonomy. Callers match on these
// with errors.Is; the typed wrappers below carry the context needed to act.
var (
	ErrValidation         = errors.New("invalid audit request")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrAllReviewersFailed = errors.New("no usable reviewer output")
	ErrAuditTimeout       = errors.New("audit timed out")
	ErrNotFound           = errors.New("not found")
)

// ValidationError describes a request that failed entry validation. It is
// terminal: no session is created and retrying without changes is pointless.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func wrapValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError is returned when the admission gate denies an audit. The
// caller should retry after the hinted delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// AllReviewersFailedError is surfaced when every configured reviewer failed
// to produce output; the audit as a whole fails.
type AllReviewersFailedError struct {
	ProjectID string
	Attempted int
}

func (e *AllReviewersFailedError) Error() string {
	return fmt.Sprintf("%s: project %s, %d reviewers attempted",
		ErrAllReviewersFailed.Error(), e.ProjectID, e.Attempted)
}

func (e *AllReviewersFailedError) Unwrap() error { return ErrAllReviewersFailed }

// TimeoutError is surfaced when the whole-audit budget is exceeded.
// Outstanding reviewer calls are abandoned.
type TimeoutError struct {
	ProjectID string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: project %s after %s", ErrAuditTimeout.Error(), e.ProjectID, e.Elapsed)
}

func (e *TimeoutError) Unwrap() error { return ErrAuditTimeout }

// NotFoundError is returned by the session query and report surfaces for
// unknown ids.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, ErrNotFound.Error())
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
