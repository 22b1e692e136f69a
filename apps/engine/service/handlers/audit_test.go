//nolint:testpackage // white-box access to handler internals
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/auditmesh/consensus/apps/engine/config"
	"github.com/auditmesh/consensus/internal/admission"
	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/engine"
	"github.com/auditmesh/consensus/internal/report"
)

func testEngine(extra ...engine.Option) *engine.Engine {
	return engine.New(engine.Config{
		Models:              []string{"security-specialist"},
		ConfidenceThreshold: 0.1,
		MaxRetries:          1,
		RetryDelay:          time.Millisecond,
		EnableCaching:       true,
		CacheTTL:            time.Minute,
		EnableFallback:      true,
	}, extra...)
}

func testMux(eng *engine.Engine) *http.ServeMux {
	cfg := &appconfig.EngineConfig{MaxRequestBytes: 1 << 20}
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/audits", NewAuditHandler(cfg, eng))
	mux.Handle("GET /api/v1/sessions", NewSessionListHandler(eng))
	mux.Handle("GET /api/v1/sessions/{id}", NewSessionHandler(eng))
	mux.Handle("GET /api/v1/sessions/{id}/report", NewReportHandler(report.NewExporter(eng.SessionStore())))
	mux.Handle("GET /api/v1/metrics", NewMetricsHandler(eng))
	mux.Handle("POST /api/v1/cache/invalidate", NewInvalidateHandler(eng))
	return mux
}

func auditBody() []byte {
	body, _ := json.Marshal(audit.Request{
		ProjectID: "proj-1",
		Codebase:  `query := "SELECT * FROM users WHERE id = " + userID`,
		Language:  "go",
		Options:   audit.Options{Depth: audit.DepthQuick, EnableConsensus: true},
	})
	return body
}

func TestAuditEndpointSuccess(t *testing.T) {
	mux := testMux(testEngine())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewReader(auditBody())))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "proj-1", result.ProjectID)
	assert.Equal(t, []string{"security-specialist"}, result.ReviewersRun)
	require.NotEmpty(t, result.Findings, "heuristic scan should flag the concatenated query")
}

func TestAuditEndpointValidationError(t *testing.T) {
	mux := testMux(testEngine())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits",
		strings.NewReader(`{"project_id":"","codebase":"x"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "validation_error", errResp.Error)
}

func TestAuditEndpointMalformedJSON(t *testing.T) {
	mux := testMux(testEngine())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits",
		strings.NewReader(`{not json`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_json", errResp.Error)
}

func TestAuditEndpointRateLimited(t *testing.T) {
	eng := engine.New(engine.Config{
		Models:         []string{"security-specialist"},
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
		EnableFallback: true,
		RateLimit:      &admission.Limits{MaxRequests: 1, RefillRate: 1, Window: time.Hour},
	})
	mux := testMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewReader(auditBody())))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewReader(auditBody())))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestSessionEndpoints(t *testing.T) {
	eng := testEngine()
	mux := testMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewReader(auditBody())))
	require.Equal(t, http.StatusOK, rec.Code)
	var result audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?project_id=proj-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+result.SessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sess audit.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, audit.SessionCompleted, sess.Status)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/audit-missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportEndpoint(t *testing.T) {
	eng := testEngine()
	mux := testMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewReader(auditBody())))
	require.Equal(t, http.StatusOK, rec.Code)
	var result audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+result.SessionID+"/report?format=html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/"+result.SessionID+"/report?format=docx", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	eng := testEngine()
	mux := testMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewReader(auditBody())))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot engine.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(1), snapshot.TotalAudits)
	assert.Equal(t, int64(1), snapshot.SuccessfulAudits)
}

func TestInvalidateEndpoint(t *testing.T) {
	eng := testEngine()
	mux := testMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewReader(auditBody())))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate",
		strings.NewReader(`{"tags":["project:proj-1"]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["removed"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
