package reviewer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/modelcall"
	"github.com/auditmesh/consensus/internal/reviewer"
)

// scriptedCaller fails a fixed number of times before succeeding.
type scriptedCaller struct {
	mu        sync.Mutex
	failures  int
	err       error
	calls     int
	responses *modelcall.Response
}

func (c *scriptedCaller) Call(_ context.Context, _ string, _ *modelcall.Request) (*modelcall.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return c.responses, nil
}

func testRequest() *audit.Request {
	return &audit.Request{
		ProjectID: "p1",
		Codebase:  `db.Exec("SELECT * FROM users WHERE id=" + userID)`,
		Targets:   []string{"db.go"},
		Language:  "go",
	}
}

func remoteResponse() *modelcall.Response {
	return &modelcall.Response{
		Findings: []audit.Finding{{
			Type:            "sql_injection",
			Severity:        audit.SeverityCritical,
			ConfidenceScore: 0.9,
			Evidence:        []string{"raw concatenation"},
			Location:        &audit.Location{File: "db.go", Line: 1},
		}},
		Usage: audit.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120, CostUSD: 0.001},
	}
}

func TestInvoker_Success(t *testing.T) {
	caller := &scriptedCaller{responses: remoteResponse()}
	iv := reviewer.NewInvoker(caller, reviewer.NewHeuristicScanner(), 3, time.Millisecond)

	outcome := iv.Invoke(context.Background(), "sec-specialist", testRequest())

	require.True(t, outcome.Usable())
	assert.False(t, outcome.UsedFallback)
	assert.Equal(t, 1, caller.calls)
	require.Len(t, outcome.Findings, 1)

	f := outcome.Findings[0]
	assert.Equal(t, "sec-specialist", f.ReviewerID)
	assert.Contains(t, f.Evidence, "Detected by sec-specialist")
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, 120, outcome.Usage.TotalTokens)
}

func TestInvoker_RetriesThenSucceeds(t *testing.T) {
	caller := &scriptedCaller{
		failures:  2,
		err:       fmt.Errorf("%w: overloaded", modelcall.ErrServerError),
		responses: remoteResponse(),
	}
	iv := reviewer.NewInvoker(caller, nil, 3, time.Millisecond)

	outcome := iv.Invoke(context.Background(), "r1", testRequest())

	require.True(t, outcome.Usable())
	assert.Equal(t, 3, caller.calls)
	assert.False(t, outcome.UsedFallback)
}

func TestInvoker_NonRetryableStopsEarly(t *testing.T) {
	caller := &scriptedCaller{
		failures: 10,
		err:      fmt.Errorf("%w: bad payload", modelcall.ErrBadRequest),
	}
	iv := reviewer.NewInvoker(caller, nil, 5, time.Millisecond)

	outcome := iv.Invoke(context.Background(), "r1", testRequest())

	assert.False(t, outcome.Usable())
	assert.Equal(t, 1, caller.calls, "non-retryable errors must not be retried")
	assert.ErrorIs(t, outcome.Err, modelcall.ErrBadRequest)
}

func TestInvoker_FallbackOnExhaustedRetries(t *testing.T) {
	caller := &scriptedCaller{
		failures: 10,
		err:      fmt.Errorf("%w: down", modelcall.ErrServerError),
	}
	iv := reviewer.NewInvoker(caller, reviewer.NewHeuristicScanner(), 2, time.Millisecond)

	outcome := iv.Invoke(context.Background(), "r1", testRequest())

	require.True(t, outcome.Usable(), "fallback keeps the reviewer in the pool")
	assert.True(t, outcome.UsedFallback)
	assert.Equal(t, 2, caller.calls)
	assert.ErrorIs(t, outcome.Err, modelcall.ErrServerError)

	// The codebase contains a SQL concatenation; the signature table finds it.
	require.NotEmpty(t, outcome.Findings)
	found := false
	for _, f := range outcome.Findings {
		if f.Type == "sql_injection" {
			found = true
			assert.Equal(t, "r1", f.ReviewerID)
			assert.Contains(t, f.Evidence, "Detected by r1")
			assert.Less(t, f.ConfidenceScore, 0.7, "fallback findings carry reduced confidence")
		}
	}
	assert.True(t, found)
}

func TestInvoker_NoCallerUsesFallback(t *testing.T) {
	iv := reviewer.NewInvoker(nil, reviewer.NewHeuristicScanner(), 3, time.Millisecond)

	outcome := iv.Invoke(context.Background(), "r1", testRequest())

	require.True(t, outcome.Usable())
	assert.True(t, outcome.UsedFallback)
	assert.ErrorIs(t, outcome.Err, modelcall.ErrNotConfigured)
}

func TestInvoker_TotalFailureWithoutFallback(t *testing.T) {
	caller := &scriptedCaller{
		failures: 10,
		err:      fmt.Errorf("%w", modelcall.ErrServerError),
	}
	iv := reviewer.NewInvoker(caller, nil, 2, time.Millisecond)

	outcome := iv.Invoke(context.Background(), "r1", testRequest())

	assert.False(t, outcome.Usable())
	assert.True(t, outcome.Failed)
	assert.Empty(t, outcome.Findings)
}

func TestInvoker_ContextCancelledDuringBackoff(t *testing.T) {
	caller := &scriptedCaller{
		failures: 10,
		err:      fmt.Errorf("%w", modelcall.ErrServerError),
	}
	iv := reviewer.NewInvoker(caller, nil, 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome := iv.Invoke(ctx, "r1", testRequest())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, outcome.Usable())
	assert.True(t, errors.Is(outcome.Err, context.Canceled))
}

func TestHeuristicScanner_Deterministic(t *testing.T) {
	s := reviewer.NewHeuristicScanner()
	req := &audit.Request{
		ProjectID: "p1",
		Codebase: "password = \"supersecret123\"\n" +
			"db.Exec(\"SELECT * FROM t WHERE x=\" + y)\n" +
			"tls.Config{InsecureSkipVerify: true}\n",
		Targets: []string{"main.go"},
	}

	first := s.Scan(req)
	second := s.Scan(req)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second, "scanner must be deterministic")

	types := map[string]bool{}
	for _, f := range first {
		types[f.Type] = true
		require.NotNil(t, f.Location)
		assert.Equal(t, "main.go", f.Location.File)
		assert.Positive(t, f.Location.Line)
	}
	assert.True(t, types["hardcoded_credentials"])
	assert.True(t, types["sql_injection"])
	assert.True(t, types["insecure_tls"])
}

func TestHeuristicScanner_CleanCode(t *testing.T) {
	s := reviewer.NewHeuristicScanner()
	req := &audit.Request{
		ProjectID: "p1",
		Codebase:  "package main\n\nfunc add(a, b int) int { return a + b }\n",
	}
	assert.Empty(t, s.Scan(req))
}
