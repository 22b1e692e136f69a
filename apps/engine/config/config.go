package config

import (
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

// EngineConfig defines configuration for the consensus engine service.
// The engine admits audit requests, fans them out to the configured
// reviewer models, merges the results, and serves sessions and reports.
type EngineConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Reviewer Configuration
	// ==========================================================================

	// ReviewerModels is the comma-separated list of reviewer identifiers
	// every audit fans out to.
	ReviewerModels string `envDefault:"security-specialist,vulnerability-hunter,code-quality" env:"REVIEWER_MODELS"`

	// ReviewerGatewayURL is the base URL of the reviewer gateway. Empty
	// runs the engine in heuristic-only mode.
	ReviewerGatewayURL string `envDefault:"" env:"REVIEWER_GATEWAY_URL"`

	// ReviewerGatewayAPIKey authenticates calls to the reviewer gateway.
	ReviewerGatewayAPIKey string `envDefault:"" env:"REVIEWER_GATEWAY_API_KEY"`

	// ReviewerTimeoutSeconds bounds one reviewer HTTP call.
	ReviewerTimeoutSeconds int `envDefault:"60" env:"REVIEWER_TIMEOUT_SECONDS"`

	// ReviewerOutboundRPS caps outbound calls per second per reviewer;
	// zero disables the throttle.
	ReviewerOutboundRPS float64 `envDefault:"0" env:"REVIEWER_OUTBOUND_RPS"`

	// ReviewerOutboundBurst is the outbound throttle burst size.
	ReviewerOutboundBurst int `envDefault:"1" env:"REVIEWER_OUTBOUND_BURST"`

	// ReviewerWeightsFile points at a YAML reviewer weight table. Empty
	// uses the built-in defaults.
	ReviewerWeightsFile string `envDefault:"" env:"REVIEWER_WEIGHTS_FILE"`

	// MaxRetries is the per-reviewer call attempt budget.
	MaxRetries int `envDefault:"3" env:"MAX_RETRIES"`

	// RetryDelaySeconds is the base backoff between attempts.
	RetryDelaySeconds int `envDefault:"1" env:"RETRY_DELAY_SECONDS"`

	// EnableFallback lets a failed reviewer fall back to the heuristic
	// scanner instead of counting as failed.
	EnableFallback bool `envDefault:"true" env:"ENABLE_FALLBACK"`

	// ==========================================================================
	// Consensus Configuration
	// ==========================================================================

	// ConfidenceThreshold drops merged findings scoring below it.
	ConfidenceThreshold float64 `envDefault:"0.3" env:"CONFIDENCE_THRESHOLD"`

	// EnableHITL escalates high and critical findings for human review.
	EnableHITL bool `envDefault:"false" env:"ENABLE_HITL"`

	// ==========================================================================
	// Cache Configuration
	// ==========================================================================

	// EnableCaching serves repeat audits from the result cache.
	EnableCaching bool `envDefault:"true" env:"ENABLE_CACHING"`

	// CacheBackend selects "memory" or "redis".
	CacheBackend string `envDefault:"memory" env:"CACHE_BACKEND"`

	// CacheRedisURI is the redis connection string when the backend is
	// redis, e.g. redis://localhost:6379/0.
	CacheRedisURI string `envDefault:"redis://localhost:6379/0" env:"CACHE_REDIS_URI"`

	// CacheTTLSeconds is the default result lifetime.
	CacheTTLSeconds int `envDefault:"3600" env:"CACHE_TTL_SECONDS"`

	// CacheSweepIntervalSeconds drives the in-memory expiry sweeper; zero
	// disables it.
	CacheSweepIntervalSeconds int `envDefault:"60" env:"CACHE_SWEEP_INTERVAL_SECONDS"`

	// ==========================================================================
	// Admission Configuration
	// ==========================================================================

	// RateLimitMaxRequests is the admission bucket capacity; zero disables
	// rate limiting.
	RateLimitMaxRequests int `envDefault:"0" env:"RATE_LIMIT_MAX_REQUESTS"`

	// RateLimitRefillRate is the tokens restored per window.
	RateLimitRefillRate int `envDefault:"10" env:"RATE_LIMIT_REFILL_RATE"`

	// RateLimitWindowSeconds is the refill window.
	RateLimitWindowSeconds int `envDefault:"60" env:"RATE_LIMIT_WINDOW_SECONDS"`

	// ==========================================================================
	// Audit Configuration
	// ==========================================================================

	// AuditTimeoutSeconds bounds one whole audit; zero means unbounded.
	AuditTimeoutSeconds int `envDefault:"120" env:"AUDIT_TIMEOUT_SECONDS"`

	// MaxRequestBytes caps the audit request body.
	MaxRequestBytes int `envDefault:"1048576" env:"MAX_REQUEST_BYTES"`
}

// Models returns the configured reviewer identifiers.
func (c *EngineConfig) Models() []string {
	var out []string
	for _, m := range strings.Split(c.ReviewerModels, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// RetryDelay returns the base retry backoff as a duration.
func (c *EngineConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// CacheTTL returns the default cache lifetime as a duration.
func (c *EngineConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// AuditTimeout returns the audit deadline as a duration.
func (c *EngineConfig) AuditTimeout() time.Duration {
	return time.Duration(c.AuditTimeoutSeconds) * time.Second
}
