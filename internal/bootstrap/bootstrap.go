package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/archive-qa/internal/config"
	"github.com/kirillkom/archive-qa/internal/core/ports"
	"github.com/kirillkom/archive-qa/internal/core/usecase"
	"github.com/kirillkom/archive-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/archive-qa/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/archive-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/archive-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/archive-qa/internal/infrastructure/search/elastic"
	"github.com/kirillkom/archive-qa/internal/infrastructure/session"
	"github.com/kirillkom/archive-qa/internal/observability/metrics"
)

type Options struct {
	// Service labels metrics and logs.
	Service string

	// WithQueue connects to NATS for index sync events.
	WithQueue bool

	// Registerer receives pipeline and resilience metrics; nil disables them.
	Registerer prometheus.Registerer
}

type App struct {
	Config config.Config

	Pipeline  *usecase.PipelineUseCase
	IndexSync *usecase.IndexSyncUseCase
	Queue     *nats.Queue

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	policy := ResilienceConfig(cfg)
	if opts.Registerer != nil {
		policy.Hooks = metrics.NewResilienceMetrics(opts.Service, opts.Registerer).Hooks()
	}
	executor := resilience.NewExecutor(policy)
	closers := make([]func(), 0, 3)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })
	if cfg.PostgresAutoSchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			closeAll()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	metadata := postgres.NewMetadataRepository(db)
	tools := postgres.NewToolRepository(db)

	search, err := elastic.New(elastic.Config{
		Addresses: cfg.ElasticAddresses,
		Username:  cfg.ElasticUsername,
		Password:  cfg.ElasticPassword,
		Index:     cfg.ElasticIndex,
	}, executor)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("init elasticsearch: %w", err)
	}
	if cfg.ElasticEnsureIndex {
		if err := search.EnsureIndex(ctx); err != nil {
			// The index may be created later by the worker; the full-text
			// channel degrades until then.
			slog.Warn("elastic_ensure_index_failed", "index", cfg.ElasticIndex, "error", err)
		}
	}

	llm, err := newLanguageModel(cfg, executor)
	if err != nil {
		closeAll()
		return nil, err
	}

	sessions, closeSessions := newSessionStore(cfg, executor)
	closers = append(closers, closeSessions)

	var queue *nats.Queue
	if opts.WithQueue {
		queue, err = nats.NewWithOptions(cfg.NATSURL, nats.Options{
			Subject:            cfg.NATSSubject,
			Group:              cfg.NATSGroup,
			ResilienceExecutor: executor,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		closers = append(closers, queue.Close)
	}

	pipeline := usecase.NewPipelineUseCase(llm, search, metadata, tools, sessions, cfg.Pipeline.Limits())
	if opts.Registerer != nil {
		pipeline.WithObserver(metrics.NewPipelineMetrics(opts.Service, opts.Registerer))
	}

	var indexQueue ports.IndexEventQueue
	if queue != nil {
		indexQueue = queue
	}

	return &App{
		Config:    cfg,
		Pipeline:  pipeline,
		IndexSync: usecase.NewIndexSyncUseCase(metadata, search, indexQueue),
		Queue:     queue,
		closeFn:   closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// ResilienceConfig maps env settings onto the retry and breaker policy.
func ResilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.RetryMaxAttempts
	out.RetryInitialBackoff = time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond
	out.RetryMaxBackoff = time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond
	out.AttemptTimeout = time.Duration(cfg.AttemptTimeoutSecs) * time.Second
	out.BreakerEnabled = cfg.BreakerEnabled
	out.BreakerOpenTimeout = time.Duration(cfg.BreakerOpenTimeoutSec) * time.Second
	out.BreakerFailureRatio = cfg.BreakerFailureRatio
	if cfg.BreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	return out
}

func newLanguageModel(cfg config.Config, executor *resilience.Executor) (ports.LanguageModel, error) {
	switch cfg.LLMProvider {
	case "", "ollama":
		return ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, ollama.Options{
			HTTPTimeout:        time.Duration(cfg.OllamaHTTPTimeoutSecs) * time.Second,
			Temperature:        cfg.LLMTemperature,
			KeepAlive:          cfg.OllamaKeepAlive,
			ResilienceExecutor: executor,
		}), nil
	case "openai":
		client, err := openaicompat.New(openaicompat.Config{
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			APIKey:      cfg.OpenAIAPIKey,
			Temperature: cfg.LLMTemperature,
		}, executor)
		if err != nil {
			return nil, fmt.Errorf("init openai-compatible llm: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func newSessionStore(cfg config.Config, executor *resilience.Executor) (ports.SessionStore, func()) {
	ttl := time.Duration(cfg.SessionTTLSeconds) * time.Second
	if cfg.SessionBackend == "redis" {
		client := session.NewRedisClient(cfg.RedisURL)
		return session.NewRedisStore(client, ttl, executor), func() { _ = client.Close() }
	}
	return session.NewMemoryStore(ttl), func() {}
}
