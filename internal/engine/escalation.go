package engine

import (
	"context"

	"github.com/auditmesh/consensus/internal/audit"
)

// Escalator decides whether a merged finding needs a human review task.
// Implementations may call out to a ticketing system; failures here are
// logged and swallowed, never failing the audit.
type Escalator interface {
	// Escalate returns an opaque task handle when a task was created.
	Escalate(ctx context.Context, sessionID string, finding audit.Finding) (taskID string, created bool, err error)
}

// NoopEscalator never creates tasks. It is the default.
type NoopEscalator struct{}

// Escalate implements Escalator.
func (NoopEscalator) Escalate(context.Context, string, audit.Finding) (string, bool, error) {
	return "", false, nil
}
