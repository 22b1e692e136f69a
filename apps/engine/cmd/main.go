package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/auditmesh/consensus/apps/engine/config"
	"github.com/auditmesh/consensus/apps/engine/service/handlers"
	"github.com/auditmesh/consensus/internal/admission"
	"github.com/auditmesh/consensus/internal/cache"
	"github.com/auditmesh/consensus/internal/consensus"
	"github.com/auditmesh/consensus/internal/engine"
	"github.com/auditmesh/consensus/internal/modelcall"
	"github.com/auditmesh/consensus/internal/report"
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.EngineConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "consensus_engine"
	}

	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	// ==========================================================================
	// Setup Engine Components
	// ==========================================================================

	engineOpts := buildEngineOptions(ctx, &cfg, log)
	eng := engine.New(engine.Config{
		Models:              cfg.Models(),
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxRetries:          cfg.MaxRetries,
		RetryDelay:          cfg.RetryDelay(),
		EnableCaching:       cfg.EnableCaching,
		CacheTTL:            cfg.CacheTTL(),
		EnableFallback:      cfg.EnableFallback,
		EnableHITL:          cfg.EnableHITL,
		AuditTimeout:        cfg.AuditTimeout(),
		RateLimit:           rateLimits(&cfg),
	}, engineOpts...)

	exporter := report.NewExporter(eng.SessionStore())

	// ==========================================================================
	// Setup HTTP API
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"engine"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"engine"}`))
	})

	mux.Handle("POST /api/v1/audits", handlers.NewAuditHandler(&cfg, eng))
	mux.Handle("GET /api/v1/sessions", handlers.NewSessionListHandler(eng))
	mux.Handle("GET /api/v1/sessions/{id}", handlers.NewSessionHandler(eng))
	mux.Handle("GET /api/v1/sessions/{id}/report", handlers.NewReportHandler(exporter))
	mux.Handle("GET /api/v1/metrics", handlers.NewMetricsHandler(eng))
	mux.Handle("POST /api/v1/cache/invalidate", handlers.NewInvalidateHandler(eng))

	// ==========================================================================
	// Start the Service
	// ==========================================================================

	svc.Init(ctx, frame.WithHTTPHandler(mux))

	log.Info("Starting consensus engine service...",
		"models", cfg.ReviewerModels,
		"cache_backend", cfg.CacheBackend,
	)
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}

// buildEngineOptions wires the optional capabilities: the reviewer gateway
// caller, the cache backend, and the weight table.
func buildEngineOptions(ctx context.Context, cfg *appconfig.EngineConfig, log *util.LogEntry) []engine.Option {
	var opts []engine.Option

	if cfg.ReviewerGatewayURL != "" {
		opts = append(opts, engine.WithCaller(modelcall.NewHTTPCaller(modelcall.Config{
			BaseURL:        cfg.ReviewerGatewayURL,
			APIKey:         cfg.ReviewerGatewayAPIKey,
			TimeoutSeconds: cfg.ReviewerTimeoutSeconds,
			OutboundRPS:    cfg.ReviewerOutboundRPS,
			OutboundBurst:  cfg.ReviewerOutboundBurst,
		})))
	} else {
		log.Warn("no reviewer gateway configured, running heuristic-only")
	}

	if store := buildCacheStore(ctx, cfg, log); store != nil {
		opts = append(opts, engine.WithCacheStore(store))
	}

	if cfg.ReviewerWeightsFile != "" {
		weights, err := consensus.LoadWeights(cfg.ReviewerWeightsFile)
		if err != nil {
			log.WithError(err).Warn("could not load weight table, using defaults",
				"file", cfg.ReviewerWeightsFile)
		} else {
			opts = append(opts, engine.WithWeights(weights))
		}
	}

	return opts
}

func buildCacheStore(ctx context.Context, cfg *appconfig.EngineConfig, log *util.LogEntry) cache.Store {
	if !cfg.EnableCaching {
		return nil
	}

	if cfg.CacheBackend == "redis" {
		redisOpts, err := redis.ParseURL(cfg.CacheRedisURI)
		if err != nil {
			log.WithError(err).Error("invalid redis URI, falling back to memory cache")
		} else {
			return cache.NewRedis(redis.NewClient(redisOpts), cfg.CacheTTL())
		}
	}

	mem := cache.NewMemory(cfg.CacheTTL())
	if cfg.CacheSweepIntervalSeconds > 0 {
		mem.StartSweeper(ctx, time.Duration(cfg.CacheSweepIntervalSeconds)*time.Second)
	}
	return mem
}

func rateLimits(cfg *appconfig.EngineConfig) *admission.Limits {
	if cfg.RateLimitMaxRequests <= 0 {
		return nil
	}
	return &admission.Limits{
		MaxRequests: cfg.RateLimitMaxRequests,
		RefillRate:  cfg.RateLimitRefillRate,
		Window:      time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
	}
}
