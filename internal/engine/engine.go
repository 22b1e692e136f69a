// Package engine orchestrates one audit end to end: request validation,
// admission, cache lookup, per-reviewer fan-out, consensus merge,
// confidence filtering, caching, session finalization, and metrics.
package engine

import (
	"context"
	"time"

	"github.com/pitabwire/util"

	"github.com/auditmesh/consensus/internal/admission"
	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/cache"
	"github.com/auditmesh/consensus/internal/consensus"
	"github.com/auditmesh/consensus/internal/modelcall"
	"github.com/auditmesh/consensus/internal/reviewer"
	"github.com/auditmesh/consensus/internal/session"
)

// Config is the engine's assembled configuration.
type Config struct {
	Models              []string
	ConfidenceThreshold float64
	MaxRetries          int
	RetryDelay          time.Duration
	EnableCaching       bool
	CacheTTL            time.Duration
	EnableFallback      bool
	EnableHITL          bool
	AuditTimeout        time.Duration
	RateLimit           *admission.Limits
}

// Engine is the audit orchestrator. Each instance owns its own gate,
// cache, sessions, and metrics; there is no ambient shared state, so
// instances test in isolation.
type Engine struct {
	cfg       Config
	gate      *admission.Gate
	store     cache.Store
	sessions  *session.Store
	invoker   *reviewer.Invoker
	merger    *consensus.Merger
	escalator Escalator
	metrics   *Metrics
	progress  ProgressFunc
}

// Option customizes an Engine.
type Option func(*options)

type options struct {
	caller    modelcall.Caller
	store     cache.Store
	weights   *consensus.WeightTable
	escalator Escalator
	progress  ProgressFunc
}

// WithCaller sets the model-call capability. Without one, every reviewer
// runs on the heuristic fallback tier.
func WithCaller(caller modelcall.Caller) Option {
	return func(o *options) { o.caller = caller }
}

// WithCacheStore overrides the default in-memory result cache.
func WithCacheStore(store cache.Store) Option {
	return func(o *options) { o.store = store }
}

// WithWeights sets the reviewer reliability table.
func WithWeights(weights consensus.WeightTable) Option {
	return func(o *options) { o.weights = &weights }
}

// WithEscalator sets the human-review escalation capability.
func WithEscalator(escalator Escalator) Option {
	return func(o *options) { o.escalator = escalator }
}

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// New assembles an engine.
func New(cfg Config, opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	weights := consensus.DefaultWeights()
	if o.weights != nil {
		weights = *o.weights
	}

	var scanner *reviewer.HeuristicScanner
	if cfg.EnableFallback {
		scanner = reviewer.NewHeuristicScanner()
	}

	store := o.store
	if store == nil && cfg.EnableCaching {
		store = cache.NewMemory(cfg.CacheTTL)
	}

	escalator := o.escalator
	if escalator == nil {
		escalator = NoopEscalator{}
	}

	return &Engine{
		cfg:       cfg,
		gate:      admission.NewGate(cfg.RateLimit),
		store:     store,
		sessions:  session.NewStore(),
		invoker:   reviewer.NewInvoker(o.caller, scanner, cfg.MaxRetries, cfg.RetryDelay),
		merger:    consensus.NewMerger(weights),
		escalator: escalator,
		metrics:   &Metrics{},
		progress:  o.progress,
	}
}

// Audit runs one audit request to completion. Callers get either a
// completed result, possibly built from fewer reviewers than configured,
// or a typed failure; never a partial result.
func (e *Engine) Audit(ctx context.Context, req *audit.Request) (*audit.Result, error) {
	log := util.Log(ctx).With("project_id", projectIDOf(req))
	started := time.Now()

	e.emitProgress(StageValidating, 5, "")
	if err := req.Validate(); err != nil {
		log.WithError(err).Warn("audit request rejected")
		return nil, err
	}

	e.emitProgress(StageAdmitting, 10, "")
	if decision := e.gate.TryAcquire(); !decision.Allowed {
		log.Warn("audit rejected by admission gate", "retry_after", decision.RetryAfter)
		return nil, &audit.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	e.metrics.auditAccepted()

	key := cache.Key(req)
	if cached := e.cacheLookup(ctx, key, log); cached != nil {
		e.emitProgress(StageDone, 100, "")
		return cached, nil
	}

	sess := e.sessions.Create(req.ProjectID, map[string]string{
		"language": req.Language,
		"depth":    string(req.Options.Depth.OrDefault()),
	})
	log = log.With("session_id", sess.ID)

	if e.cfg.AuditTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AuditTimeout)
		defer cancel()
	}

	outcomes, err := e.runReviewers(ctx, req)
	if err != nil {
		e.failSession(sess.ID)
		log.WithError(err).Error("audit abandoned", "elapsed", time.Since(started))
		return nil, &audit.TimeoutError{ProjectID: req.ProjectID, Elapsed: time.Since(started)}
	}

	inputs, ran, failed := settleOutcomes(e.cfg.Models, outcomes)
	if len(ran) == 0 {
		e.failSession(sess.ID)
		log.Error("all reviewers failed", "attempted", len(e.cfg.Models))
		return nil, &audit.AllReviewersFailedError{ProjectID: req.ProjectID, Attempted: len(e.cfg.Models)}
	}

	e.emitProgress(StageMerging, 85, "")
	mergeResult := e.merger.Merge(inputs, ran)

	var usage audit.Usage
	for _, o := range outcomes {
		usage.Add(o.Usage)
	}

	threshold := e.cfg.ConfidenceThreshold
	if req.Options.MinConsensusScore > threshold {
		threshold = req.Options.MinConsensusScore
	}
	filtered := filterByConfidence(mergeResult.MergedFindings, threshold)

	result := &audit.Result{
		SessionID:       sess.ID,
		ProjectID:       req.ProjectID,
		Findings:        filtered,
		ConsensusScore:  mergeResult.ConsensusScore,
		ReviewersRun:    ran,
		ReviewersFailed: failed,
		Usage:           usage,
	}

	// The session keeps the pre-filter findings as the audit trail.
	completedAt := time.Now()
	_ = e.sessions.Update(sess.ID, func(s *audit.Session) {
		s.Findings = mergeResult.MergedFindings
		s.Status = audit.SessionCompleted
		s.CompletedAt = &completedAt
	})

	e.cacheStore(ctx, key, req, result, log)
	e.escalate(ctx, sess.ID, filtered, log)
	e.metrics.recordSuccess(mergeResult.ConsensusScore, len(filtered), usage.CostUSD)

	e.emitProgress(StageDone, 100, "")
	log.Info("audit completed",
		"findings", len(filtered),
		"consensus_score", mergeResult.ConsensusScore,
		"reviewers_run", len(ran),
		"reviewers_failed", len(failed),
		"elapsed", time.Since(started),
	)

	return result, nil
}

// runReviewers fans out one invocation per configured reviewer and waits
// for all of them to settle. On context expiry the remaining calls are
// abandoned; their late results land in the buffered channel and are
// discarded with it.
func (e *Engine) runReviewers(ctx context.Context, req *audit.Request) (map[string]*reviewer.Outcome, error) {
	results := make(chan *reviewer.Outcome, len(e.cfg.Models))
	for _, id := range e.cfg.Models {
		go func(reviewerID string) {
			results <- e.invoker.Invoke(ctx, reviewerID, req)
		}(id)
	}

	outcomes := make(map[string]*reviewer.Outcome, len(e.cfg.Models))
	settled := 0
	for range e.cfg.Models {
		select {
		case outcome := <-results:
			settled++
			outcomes[outcome.ReviewerID] = outcome
			percent := 15 + 70*settled/len(e.cfg.Models)
			e.emitProgress(StageAnalyzing, percent, outcome.ReviewerID)
		case <-ctx.Done():
			return outcomes, ctx.Err()
		}
	}
	return outcomes, nil
}

// settleOutcomes splits outcomes into merge inputs plus the ordered list of
// reviewers that produced output. Order follows the configured model list
// so the merge input is reproducible.
func settleOutcomes(models []string, outcomes map[string]*reviewer.Outcome) ([]consensus.ReviewerFindings, []string, []string) {
	var inputs []consensus.ReviewerFindings
	var ran, failed []string
	for _, id := range models {
		outcome, ok := outcomes[id]
		if !ok || !outcome.Usable() {
			failed = append(failed, id)
			continue
		}
		ran = append(ran, id)
		inputs = append(inputs, consensus.ReviewerFindings{
			ReviewerID: id,
			Findings:   outcome.Findings,
		})
	}
	return inputs, ran, failed
}

func filterByConfidence(findings []audit.Finding, threshold float64) []audit.Finding {
	out := make([]audit.Finding, 0, len(findings))
	for _, f := range findings {
		if f.ConfidenceScore >= threshold {
			out = append(out, f)
		}
	}
	return out
}

func (e *Engine) cacheLookup(ctx context.Context, key string, log *util.LogEntry) *audit.Result {
	if !e.cfg.EnableCaching || e.store == nil {
		return nil
	}
	data, ok, err := e.store.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("cache lookup failed, treating as miss")
		return nil
	}
	if !ok {
		return nil
	}
	result, err := audit.DecodeResult(data)
	if err != nil {
		log.WithError(err).Warn("cached result unreadable, treating as miss")
		return nil
	}
	result.FromCache = true
	log.Info("audit served from cache", "session_id", result.SessionID)
	return result
}

func (e *Engine) cacheStore(ctx context.Context, key string, req *audit.Request, result *audit.Result, log *util.LogEntry) {
	if !e.cfg.EnableCaching || e.store == nil {
		return
	}
	data, err := result.Encode()
	if err != nil {
		log.WithError(err).Warn("failed to encode result for cache")
		return
	}
	if setErr := e.store.Set(ctx, key, data, e.cfg.CacheTTL, cache.Tags(req)); setErr != nil {
		log.WithError(setErr).Warn("failed to store result in cache")
	}
}

// escalate offers high and critical merged findings to the escalation
// capability. Escalation failures never fail the audit.
func (e *Engine) escalate(ctx context.Context, sessionID string, findings []audit.Finding, log *util.LogEntry) {
	if !e.cfg.EnableHITL {
		return
	}
	for _, f := range findings {
		if f.Severity.Rank() < audit.SeverityHigh.Rank() {
			continue
		}
		taskID, created, err := e.escalator.Escalate(ctx, sessionID, f)
		if err != nil {
			log.WithError(err).Warn("escalation failed", "finding_id", f.ID)
			continue
		}
		if created {
			log.Info("finding escalated for human review", "finding_id", f.ID, "task_id", taskID)
		}
	}
}

func (e *Engine) failSession(id string) {
	now := time.Now()
	_ = e.sessions.Update(id, func(s *audit.Session) {
		s.Status = audit.SessionFailed
		s.CompletedAt = &now
	})
	e.metrics.recordFailure()
}

// Session returns a copy of one session.
func (e *Engine) Session(id string) (*audit.Session, error) {
	return e.sessions.Get(id)
}

// Sessions returns copies of all sessions, newest first.
func (e *Engine) Sessions() []*audit.Session {
	return e.sessions.All()
}

// SessionsByProject returns copies of one project's sessions.
func (e *Engine) SessionsByProject(projectID string) []*audit.Session {
	return e.sessions.ByProject(projectID)
}

// SessionStore exposes the registry for read-only collaborators such as
// report export.
func (e *Engine) SessionStore() *session.Store {
	return e.sessions
}

// Metrics returns a snapshot of the running counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// InvalidateByTags drops cached results carrying any of the tags.
func (e *Engine) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	return e.store.InvalidateByTags(ctx, tags)
}

// InvalidateByPattern drops cached results whose key matches the pattern.
func (e *Engine) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	return e.store.InvalidateByPattern(ctx, pattern)
}

// InvalidateProject drops every cached result for one project.
func (e *Engine) InvalidateProject(ctx context.Context, projectID string) (int, error) {
	return e.InvalidateByTags(ctx, []string{"project:" + projectID})
}

func projectIDOf(req *audit.Request) string {
	if req == nil {
		return ""
	}
	return req.ProjectID
}
