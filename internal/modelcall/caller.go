// Package modelcall implements the outbound model-call capability: one HTTP
// request per reviewer analysis, with bearer-token auth, typed error
// classification, per-reviewer outbound throttling, and token/cost
// accounting.
package modelcall

import (
	"context"
	"errors"

	"github.com/auditmesh/consensus/internal/audit"
)

// Common errors. Rate-limit and server errors are retryable; the rest are
// not worth repeating.
var (
	ErrRateLimited     = errors.New("model provider rate limited")
	ErrServerError     = errors.New("model provider server error")
	ErrUnauthorized    = errors.New("model provider rejected credentials")
	ErrBadRequest      = errors.New("model provider rejected request")
	ErrInvalidResponse = errors.New("invalid response from model provider")
	ErrNotConfigured   = errors.New("model provider not configured")
)

// Caller performs one reviewer's remote analysis.
type Caller interface {
	Call(ctx context.Context, reviewerID string, req *Request) (*Response, error)
}

// Request is the payload sent to the model provider for one analysis.
type Request struct {
	Code       string   `json:"code"`
	Language   string   `json:"language,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Depth      string   `json:"depth,omitempty"`
	FocusAreas []string `json:"focus_areas,omitempty"`
}

// Response is one reviewer's analysis output.
type Response struct {
	Findings   []audit.Finding `json:"findings"`
	Confidence float64         `json:"confidence,omitempty"`
	Usage      audit.Usage     `json:"usage"`
	RequestID  string          `json:"request_id,omitempty"`
	LatencyMS  int64           `json:"latency_ms,omitempty"`
}

// IsRetryable reports whether the invoker should retry after err. Network
// and timeout failures arrive as transport errors and are retryable; of the
// typed failures only rate limiting and 5xx responses are.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrServerError):
		return true
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrNotConfigured):
		return false
	default:
		// Transport-level failure (connection refused, timeout, reset).
		return true
	}
}
