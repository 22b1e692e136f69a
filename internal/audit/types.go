// Package audit defines the core domain types shared by the consensus
// audit engine: requests, findings, sessions, and results.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Severity classifies how serious a finding is.
type Severity string

// Severity levels, ordered from least to most serious.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns a numeric ordering for severity comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Depth controls how thorough an audit pass is.
type Depth string

// Supported audit depths.
const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Valid reports whether d is a recognized depth. The empty depth is valid
// and treated as standard.
func (d Depth) Valid() bool {
	switch d {
	case "", DepthQuick, DepthStandard, DepthDeep:
		return true
	}
	return false
}

// OrDefault returns the depth, substituting standard for the zero value.
func (d Depth) OrDefault() Depth {
	if d == "" {
		return DepthStandard
	}
	return d
}

// Options carries per-request audit options.
type Options struct {
	Depth             Depth    `json:"depth,omitempty"`
	FocusAreas        []string `json:"focus_areas,omitempty"`
	EnableConsensus   bool     `json:"enable_consensus"`
	MinConsensusScore float64  `json:"min_consensus_score,omitempty"`
}

// Request is one audit request. It is immutable once submitted.
type Request struct {
	ProjectID string   `json:"project_id"`
	Codebase  string   `json:"codebase"`
	Targets   []string `json:"targets,omitempty"`
	Language  string   `json:"language,omitempty"`
	Options   Options  `json:"options"`
}

// Validate checks the request shape at entry.
func (r *Request) Validate() error {
	if r == nil {
		return wrapValidation("request", "missing")
	}
	if r.ProjectID == "" {
		return wrapValidation("project_id", "must not be empty")
	}
	if r.Codebase == "" {
		return wrapValidation("codebase", "must not be empty")
	}
	if !r.Options.Depth.Valid() {
		return wrapValidation("options.depth", fmt.Sprintf("unsupported depth %q", r.Options.Depth))
	}
	if r.Options.MinConsensusScore < 0 || r.Options.MinConsensusScore > 1 {
		return wrapValidation("options.min_consensus_score", "must be within [0,1]")
	}
	return nil
}

// Location points at the code a finding refers to.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// ConsensusMetadata is attached to merged findings for downstream
// inspection of how the consensus score came about.
type ConsensusMetadata struct {
	ModelsAgreed       int     `json:"models_agreed"`
	TotalModels        int     `json:"total_models"`
	AgreementRatio     float64 `json:"agreement_ratio"`
	OutlierPenalty     float64 `json:"outlier_penalty"`
	WeightedConfidence float64 `json:"weighted_confidence"`
}

// Finding is one discrete reported issue. Before merge it is produced by
// exactly one reviewer; after merge the Merger produces synthetic consensus
// findings carrying ConsensusMetadata.
type Finding struct {
	ID                  string             `json:"id"`
	Type                string             `json:"type"`
	Severity            Severity           `json:"severity"`
	ConfidenceScore     float64            `json:"confidence_score"`
	Evidence            []string           `json:"evidence,omitempty"`
	Location            *Location          `json:"location,omitempty"`
	RiskCategories      []string           `json:"risk_categories,omitempty"`
	ComplianceViolations []string          `json:"compliance_violations,omitempty"`
	ReviewerID          string             `json:"reviewer_id,omitempty"`
	Consensus           *ConsensusMetadata `json:"consensus,omitempty"`
}

// Clone returns a deep copy of the finding.
func (f Finding) Clone() Finding {
	out := f
	out.Evidence = append([]string(nil), f.Evidence...)
	out.RiskCategories = append([]string(nil), f.RiskCategories...)
	out.ComplianceViolations = append([]string(nil), f.ComplianceViolations...)
	if f.Location != nil {
		loc := *f.Location
		out.Location = &loc
	}
	if f.Consensus != nil {
		meta := *f.Consensus
		out.Consensus = &meta
	}
	return out
}

// SessionStatus tracks an audit session's lifecycle.
type SessionStatus string

// Session lifecycle states.
const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// Session is the mutable record of one audit's lifecycle and results. It is
// owned exclusively by the orchestrator and retained in memory for later
// lookup; it does not survive a process restart.
type Session struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Status      SessionStatus     `json:"status"`
	Findings    []Finding         `json:"findings"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand to external readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Findings = make([]Finding, len(s.Findings))
	for i, f := range s.Findings {
		out.Findings[i] = f.Clone()
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// NewSessionID generates a sortable, globally unique session identifier.
func NewSessionID() string {
	return "audit-" + xid.New().String()
}

// Usage accumulates token and cost accounting across model calls.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// Result is what the engine returns to its caller for a completed audit.
type Result struct {
	SessionID      string    `json:"session_id"`
	ProjectID      string    `json:"project_id"`
	Findings       []Finding `json:"findings"`
	ConsensusScore float64   `json:"consensus_score"`
	ReviewersRun   []string  `json:"reviewers_run"`
	ReviewersFailed []string `json:"reviewers_failed,omitempty"`
	Usage          Usage     `json:"usage"`

	// FromCache is set on cache hits only; it is excluded from the wire
	// form so cached results replay bit-identically.
	FromCache bool `json:"-"`
}

// Encode serializes the result for cache storage.
func (r *Result) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult deserializes a cached result.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &r, nil
}
