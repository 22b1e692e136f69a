// Package admission implements the token-bucket gate guarding outbound
// reviewer work. One gate instance is shared by all in-flight audits; each
// read-modify-write of the bucket happens under a single mutex so token
// accounting is never interleaved.
package admission

import (
	"sync"
	"time"
)

// Limits configures the gate. RefillRate tokens are restored per Window,
// and the bucket never holds more than MaxRequests tokens.
type Limits struct {
	MaxRequests int
	RefillRate  int
	Window      time.Duration
}

// Decision is the outcome of one TryAcquire call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Gate is a token-bucket rate limiter. The zero-limits gate is disabled and
// always admits.
type Gate struct {
	mu         sync.Mutex
	enabled    bool
	tokens     float64
	maxTokens  float64
	refillRate float64
	window     time.Duration
	lastRefill time.Time

	now func() time.Time // injectable clock for tests
}

// NewGate creates a gate from limits. A nil limits value, or a non-positive
// request count or window, disables admission control entirely.
func NewGate(limits *Limits) *Gate {
	g := &Gate{now: time.Now}
	if limits == nil || limits.MaxRequests <= 0 || limits.Window <= 0 {
		return g
	}
	refill := limits.RefillRate
	if refill <= 0 {
		refill = limits.MaxRequests
	}
	g.enabled = true
	g.maxTokens = float64(limits.MaxRequests)
	g.tokens = float64(limits.MaxRequests)
	g.refillRate = float64(refill)
	g.window = limits.Window
	g.lastRefill = g.now()
	return g
}

// TryAcquire admits one audit or rejects it with a retry hint. Tokens refill
// continuously: elapsed time since the last refill grants
// floor(elapsed/window * refillRate) tokens, capped at the bucket size.
func (g *Gate) TryAcquire() Decision {
	if !g.enabled {
		return Decision{Allowed: true}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	elapsed := now.Sub(g.lastRefill)
	if elapsed > 0 {
		refilled := float64(int(elapsed.Seconds() / g.window.Seconds() * g.refillRate))
		if refilled > 0 {
			g.tokens += refilled
			if g.tokens > g.maxTokens {
				g.tokens = g.maxTokens
			}
			g.lastRefill = now
			elapsed = 0
		}
	}

	if g.tokens < 1 {
		retryAfter := g.window - elapsed
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	g.tokens--
	return Decision{Allowed: true}
}

// Enabled reports whether admission control is active.
func (g *Gate) Enabled() bool { return g.enabled }

// Tokens returns the current token count. Intended for observation only.
func (g *Gate) Tokens() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens
}
