package modelcall_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/modelcall"
)

func TestHTTPCaller_Call(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sec-reviewer", body["reviewer_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"findings": [{
				"type": "sql_injection",
				"severity": "critical",
				"confidence_score": 0.92,
				"evidence": ["raw query concatenation"],
				"file": "db.go",
				"line": 42,
				"risk_categories": ["injection"]
			}],
			"confidence": 0.9,
			"request_id": "req-123",
			"usage": {"input_tokens": 1000, "output_tokens": 200}
		}`))
	}))
	defer server.Close()

	caller := modelcall.NewHTTPCaller(modelcall.Config{
		BaseURL: server.URL,
		APIKey:  "secret-token",
	})

	resp, err := caller.Call(context.Background(), "sec-reviewer", &modelcall.Request{
		Code:     "SELECT * FROM users WHERE id = ' + id",
		Language: "go",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/reviewers/sec-reviewer/analyze", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)

	require.Len(t, resp.Findings, 1)
	f := resp.Findings[0]
	assert.Equal(t, "sql_injection", f.Type)
	assert.Equal(t, audit.SeverityCritical, f.Severity)
	assert.InDelta(t, 0.92, f.ConfidenceScore, 1e-9)
	require.NotNil(t, f.Location)
	assert.Equal(t, "db.go", f.Location.File)
	assert.Equal(t, 42, f.Location.Line)

	assert.Equal(t, "req-123", resp.RequestID)
	assert.Equal(t, 1200, resp.Usage.TotalTokens)
	assert.Positive(t, resp.Usage.CostUSD)
}

func TestHTTPCaller_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, modelcall.ErrRateLimited, true},
		{"server error", http.StatusInternalServerError, modelcall.ErrServerError, true},
		{"bad gateway", http.StatusBadGateway, modelcall.ErrServerError, true},
		{"unauthorized", http.StatusUnauthorized, modelcall.ErrUnauthorized, false},
		{"bad request", http.StatusBadRequest, modelcall.ErrBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"type":"x","message":"nope"}}`))
			}))
			defer server.Close()

			caller := modelcall.NewHTTPCaller(modelcall.Config{BaseURL: server.URL})
			_, err := caller.Call(context.Background(), "r1", &modelcall.Request{Code: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.retryable, modelcall.IsRetryable(err))
		})
	}
}

func TestHTTPCaller_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	caller := modelcall.NewHTTPCaller(modelcall.Config{BaseURL: server.URL})
	_, err := caller.Call(context.Background(), "r1", &modelcall.Request{Code: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, modelcall.ErrInvalidResponse)
	assert.False(t, modelcall.IsRetryable(err))
}

func TestHTTPCaller_NotConfigured(t *testing.T) {
	caller := modelcall.NewHTTPCaller(modelcall.Config{})
	_, err := caller.Call(context.Background(), "r1", &modelcall.Request{Code: "x"})
	assert.ErrorIs(t, err, modelcall.ErrNotConfigured)
	assert.False(t, modelcall.IsRetryable(err))
}

func TestIsRetryable_TransportError(t *testing.T) {
	// A closed server produces a transport error, which is retryable.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	caller := modelcall.NewHTTPCaller(modelcall.Config{BaseURL: server.URL})
	_, err := caller.Call(context.Background(), "r1", &modelcall.Request{Code: "x"})
	require.Error(t, err)
	assert.True(t, modelcall.IsRetryable(err))
}
