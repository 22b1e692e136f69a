package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pitabwire/util"

	appconfig "github.com/auditmesh/consensus/apps/engine/config"
	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/engine"
)

// ErrorResponse is the error response returned to API clients.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// AuditHandler runs one audit per request.
type AuditHandler struct {
	cfg    *appconfig.EngineConfig
	engine *engine.Engine
}

// NewAuditHandler creates the audit submission handler.
func NewAuditHandler(cfg *appconfig.EngineConfig, eng *engine.Engine) *AuditHandler {
	return &AuditHandler{cfg: cfg, engine: eng}
}

// ServeHTTP handles POST /api/v1/audits.
func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	bodyReader := http.MaxBytesReader(w, r.Body, int64(h.cfg.MaxRequestBytes))
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large",
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", h.cfg.MaxRequestBytes), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body", nil)
		return
	}

	var req audit.Request
	if unmarshalErr := json.Unmarshal(body, &req); unmarshalErr != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse JSON request body",
			map[string]string{"parse_error": unmarshalErr.Error()})
		return
	}

	result, err := h.engine.Audit(ctx, &req)
	if err != nil {
		writeAuditError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeAuditError maps the engine's error taxonomy onto HTTP statuses.
func writeAuditError(w http.ResponseWriter, log *util.LogEntry, err error) {
	var rateErr *audit.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "rate_limited",
			"Audit rejected by rate limiter", map[string]string{"retry_after": rateErr.RetryAfter.String()})
	case errors.Is(err, audit.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, audit.ErrAllReviewersFailed):
		writeError(w, http.StatusBadGateway, "all_reviewers_failed",
			"Every configured reviewer failed to produce a result", nil)
	case errors.Is(err, audit.ErrAuditTimeout):
		writeError(w, http.StatusGatewayTimeout, "audit_timeout",
			"Audit did not complete within its deadline", nil)
	default:
		log.WithError(err).Error("audit failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Audit failed", nil)
	}
}

// SessionListHandler serves the session registry.
type SessionListHandler struct {
	engine *engine.Engine
}

// NewSessionListHandler creates the session listing handler.
func NewSessionListHandler(eng *engine.Engine) *SessionListHandler {
	return &SessionListHandler{engine: eng}
}

// ServeHTTP handles GET /api/v1/sessions with an optional project_id filter.
func (h *SessionListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var sessions []*audit.Session
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		sessions = h.engine.SessionsByProject(projectID)
	} else {
		sessions = h.engine.Sessions()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// SessionHandler serves one session by id.
type SessionHandler struct {
	engine *engine.Engine
}

// NewSessionHandler creates the single-session handler.
func NewSessionHandler(eng *engine.Engine) *SessionHandler {
	return &SessionHandler{engine: eng}
}

// ServeHTTP handles GET /api/v1/sessions/{id}.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Session(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// MetricsHandler serves the engine counters.
type MetricsHandler struct {
	engine *engine.Engine
}

// NewMetricsHandler creates the metrics handler.
func NewMetricsHandler(eng *engine.Engine) *MetricsHandler {
	return &MetricsHandler{engine: eng}
}

// ServeHTTP handles GET /api/v1/metrics.
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Metrics())
}

// InvalidateRequest selects cache entries to drop. Exactly one selector
// must be set.
type InvalidateRequest struct {
	Tags    []string `json:"tags,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// InvalidateHandler drops cached audit results.
type InvalidateHandler struct {
	engine *engine.Engine
}

// NewInvalidateHandler creates the cache invalidation handler.
func NewInvalidateHandler(eng *engine.Engine) *InvalidateHandler {
	return &InvalidateHandler{engine: eng}
}

// ServeHTTP handles POST /api/v1/cache/invalidate.
func (h *InvalidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse JSON request body", nil)
		return
	}
	if len(req.Tags) == 0 && req.Pattern == "" {
		writeError(w, http.StatusBadRequest, "validation_error",
			"Either tags or pattern must be provided", nil)
		return
	}

	removed := 0
	if len(req.Tags) > 0 {
		n, err := h.engine.InvalidateByTags(ctx, req.Tags)
		if err != nil {
			log.WithError(err).Error("tag invalidation failed")
			writeError(w, http.StatusInternalServerError, "cache_error", "Cache invalidation failed", nil)
			return
		}
		removed += n
	}
	if req.Pattern != "" {
		n, err := h.engine.InvalidateByPattern(ctx, req.Pattern)
		if err != nil {
			log.WithError(err).Error("pattern invalidation failed")
			writeError(w, http.StatusInternalServerError, "cache_error", "Cache invalidation failed", nil)
			return
		}
		removed += n
	}

	log.Info("cache invalidated", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, Details: details})
}
