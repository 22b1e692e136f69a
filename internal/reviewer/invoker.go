// Package reviewer runs one reviewer's analysis with bounded retries and
// graceful degradation. The invoker never propagates an error to its
// caller: a reviewer that fails completely is simply removed from the
// consensus pool.
package reviewer

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/util"

	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/modelcall"
)

const defaultRetryDelay = time.Second

// Outcome is one reviewer's settled result. Err records the last remote
// failure for diagnostics even when the fallback produced usable output.
type Outcome struct {
	ReviewerID   string
	Findings     []audit.Finding
	Usage        audit.Usage
	UsedFallback bool
	Failed       bool
	Err          error
}

// Usable reports whether the outcome contributes to consensus.
func (o *Outcome) Usable() bool { return !o.Failed }

// Invoker performs reviewer invocations. Tier 1 is the remote model call
// with exponential backoff; tier 2 is the offline heuristic scanner. A nil
// scanner disables the fallback tier.
type Invoker struct {
	caller     modelcall.Caller
	scanner    *HeuristicScanner
	maxRetries int
	retryDelay time.Duration
}

// NewInvoker creates an invoker. maxRetries is the total attempt budget for
// the remote tier; values below one still grant a single attempt.
func NewInvoker(caller modelcall.Caller, scanner *HeuristicScanner, maxRetries int, retryDelay time.Duration) *Invoker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Invoker{
		caller:     caller,
		scanner:    scanner,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Invoke runs one reviewer against the request. It never returns an error;
// total failure is reported through the outcome.
func (iv *Invoker) Invoke(ctx context.Context, reviewerID string, req *audit.Request) *Outcome {
	log := util.Log(ctx).With("reviewer_id", reviewerID, "project_id", req.ProjectID)
	outcome := &Outcome{ReviewerID: reviewerID}

	resp, err := iv.callWithRetry(ctx, reviewerID, req, log)
	if err == nil {
		outcome.Findings = stampFindings(resp.Findings, reviewerID)
		outcome.Usage = resp.Usage
		return outcome
	}
	outcome.Err = err

	if iv.scanner == nil {
		log.WithError(err).Error("reviewer failed with no fallback available")
		outcome.Failed = true
		return outcome
	}

	log.WithError(err).Warn("remote analysis failed, falling back to heuristic scan")
	outcome.Findings = stampFindings(iv.scanner.Scan(req), reviewerID)
	outcome.UsedFallback = true
	return outcome
}

// callWithRetry attempts the remote call with exponential backoff: attempt
// k waits retryDelay * 2^(k-1) before the next try.
func (iv *Invoker) callWithRetry(
	ctx context.Context,
	reviewerID string,
	req *audit.Request,
	log *util.LogEntry,
) (*modelcall.Response, error) {
	if iv.caller == nil {
		return nil, modelcall.ErrNotConfigured
	}

	callReq := &modelcall.Request{
		Code:       req.Codebase,
		Language:   req.Language,
		Targets:    req.Targets,
		Depth:      string(req.Options.Depth.OrDefault()),
		FocusAreas: req.Options.FocusAreas,
	}

	var lastErr error
	for attempt := 1; attempt <= iv.maxRetries; attempt++ {
		resp, err := iv.caller.Call(ctx, reviewerID, callReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !modelcall.IsRetryable(err) {
			log.WithError(err).Warn("non-retryable reviewer error", "attempt", attempt)
			break
		}
		if attempt == iv.maxRetries {
			break
		}

		backoff := iv.retryDelay * (1 << (attempt - 1))
		log.WithError(err).Warn("reviewer call failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

// stampFindings marks every finding with the reviewer that produced it and
// appends the detection evidence line.
func stampFindings(findings []audit.Finding, reviewerID string) []audit.Finding {
	out := make([]audit.Finding, len(findings))
	for i, f := range findings {
		stamped := f.Clone()
		stamped.ReviewerID = reviewerID
		stamped.Evidence = append(stamped.Evidence, "Detected by "+reviewerID)
		if stamped.ID == "" {
			file, line := "", 0
			if stamped.Location != nil {
				file, line = stamped.Location.File, stamped.Location.Line
			}
			stamped.ID = findingID(stamped.Type, file, line)
		}
		out[i] = stamped
	}
	return out
}
