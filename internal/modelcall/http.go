package modelcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/time/rate"

	"github.com/auditmesh/consensus/internal/audit"
)

const defaultTimeout = 60 * time.Second

// Pricing per 1M tokens used for cost estimation.
const (
	inputPricePerMTok  = 3.0
	outputPricePerMTok = 15.0
	tokensPerMillion   = 1_000_000.0
)

// Config configures the HTTP caller.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int

	// OutboundRPS caps requests per second per reviewer; zero disables the
	// throttle. OutboundBurst defaults to 1.
	OutboundRPS   float64
	OutboundBurst int
}

// HTTPCaller is the production Caller. It keeps one token bucket per
// reviewer id so retry storms against a single provider stay bounded.
type HTTPCaller struct {
	cfg        Config
	httpClient *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPCaller creates an HTTP model caller.
func NewHTTPCaller(cfg Config) *HTTPCaller {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPCaller{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiters:   make(map[string]*rate.Limiter),
	}
}

// wireRequest is the provider request body.
type wireRequest struct {
	ReviewerID string   `json:"reviewer_id"`
	Code       string   `json:"code"`
	Language   string   `json:"language,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Depth      string   `json:"depth,omitempty"`
	FocusAreas []string `json:"focus_areas,omitempty"`
}

// wireResponse is the provider response body.
type wireResponse struct {
	Findings   []wireFinding `json:"findings"`
	Confidence float64       `json:"confidence"`
	RequestID  string        `json:"request_id"`
	Usage      wireUsage     `json:"usage"`
}

type wireFinding struct {
	ID                   string   `json:"id"`
	Type                 string   `json:"type"`
	Severity             string   `json:"severity"`
	ConfidenceScore      float64  `json:"confidence_score"`
	Evidence             []string `json:"evidence"`
	File                 string   `json:"file,omitempty"`
	Line                 int      `json:"line,omitempty"`
	RiskCategories       []string `json:"risk_categories,omitempty"`
	ComplianceViolations []string `json:"compliance_violations,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call implements Caller.
func (c *HTTPCaller) Call(ctx context.Context, reviewerID string, req *Request) (*Response, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	if limiter := c.limiterFor(reviewerID); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("outbound throttle: %w", err)
		}
	}

	start := time.Now()

	body, err := json.Marshal(wireRequest{
		ReviewerID: reviewerID,
		Code:       req.Code,
		Language:   req.Language,
		Targets:    req.Targets,
		Depth:      req.Depth,
		FocusAreas: req.FocusAreas,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/v1/reviewers/" + reviewerID + "/analyze"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, respBody)
	}

	var wire wireResponse
	if unmarshalErr := json.Unmarshal(respBody, &wire); unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, unmarshalErr)
	}

	resp := decodeResponse(&wire)
	resp.LatencyMS = time.Since(start).Milliseconds()

	util.Log(ctx).Debug("model call complete",
		"reviewer_id", reviewerID,
		"findings", len(resp.Findings),
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMS,
	)

	return resp, nil
}

func (c *HTTPCaller) limiterFor(reviewerID string) *rate.Limiter {
	if c.cfg.OutboundRPS <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if limiter, exists := c.limiters[reviewerID]; exists {
		return limiter
	}
	burst := c.cfg.OutboundBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(c.cfg.OutboundRPS), burst)
	c.limiters[reviewerID] = limiter
	return limiter
}

func decodeResponse(wire *wireResponse) *Response {
	resp := &Response{
		Confidence: wire.Confidence,
		RequestID:  wire.RequestID,
	}

	resp.Usage.InputTokens = wire.Usage.InputTokens
	resp.Usage.OutputTokens = wire.Usage.OutputTokens
	resp.Usage.TotalTokens = wire.Usage.InputTokens + wire.Usage.OutputTokens
	resp.Usage.CostUSD = estimateCost(wire.Usage.InputTokens, wire.Usage.OutputTokens)

	for _, wf := range wire.Findings {
		f := audit.Finding{
			ID:                   wf.ID,
			Type:                 wf.Type,
			Severity:             audit.Severity(wf.Severity),
			ConfidenceScore:      wf.ConfidenceScore,
			Evidence:             wf.Evidence,
			RiskCategories:       wf.RiskCategories,
			ComplianceViolations: wf.ComplianceViolations,
		}
		if !f.Severity.Valid() {
			f.Severity = audit.SeverityMedium
		}
		if wf.File != "" {
			f.Location = &audit.Location{File: wf.File, Line: wf.Line}
		}
		resp.Findings = append(resp.Findings, f)
	}
	return resp
}

func classifyStatus(statusCode int, body []byte) error {
	msg := extractErrorMessage(body)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServerError, statusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, statusCode, msg)
	}
}

func extractErrorMessage(body []byte) string {
	var wire wireError
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Message != "" {
		return wire.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func estimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/tokensPerMillion*inputPricePerMTok +
		float64(outputTokens)/tokensPerMillion*outputPricePerMTok
}
