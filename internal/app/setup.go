package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/materium/paperbase/db"
	"github.com/materium/paperbase/internal/chunker"
	"github.com/materium/paperbase/internal/config"
	"github.com/materium/paperbase/internal/generate"
	"github.com/materium/paperbase/internal/ingest"
	"github.com/materium/paperbase/internal/observability"
	"github.com/materium/paperbase/internal/registry"
	"github.com/materium/paperbase/internal/retrieval"
	"github.com/materium/paperbase/internal/vectorstore"
)

// Setup creates and initializes the application. Call Close on the returned
// App to release everything.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}
	logger := slog.Default()

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initialization so spans from
	// model calls land on the same provider.
	a.otelCleanup = provideOtelShutdown(ctx, cfg)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Vectors = vectorstore.New(vectorstore.NewPostgres(pool), embedder, cfg.EmbedRateLimit, logger)
	a.Retrieval = retrieval.New(a.Vectors, logger)

	a.Generator = generate.New(
		generate.NewGenkitModel(g, cfg.FullModelName()),
		generate.Config{
			Model:             cfg.ModelName,
			Temperature:       float64(cfg.Temperature),
			MaxTokens:         cfg.MaxTokens,
			Timeout:           time.Duration(cfg.GenerateTimeoutSec) * time.Second,
			IncompleteRetries: cfg.IncompleteRetryLimit,
		},
		logger,
	)

	a.Registry = registry.New(registry.NewPostgres(pool), logger)
	resolver := registry.NewTypeResolver(
		registry.DefaultDOIRules(),
		generate.NewTypeClassifier(a.Generator),
		logger,
	)

	a.Tracker = ingest.NewTracker(time.Duration(cfg.TaskTTLMinutes)*time.Minute, logger)
	a.Pipeline = ingest.New(
		a.Registry,
		resolver,
		chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap)),
		a.Vectors,
		a.Tracker,
		logger,
	)

	return a, nil
}

// provideOtelShutdown registers trace export before Genkit initialization.
// An empty endpoint disables tracing.
func provideOtelShutdown(ctx context.Context, cfg *config.Config) func() {
	if cfg.Otel.Endpoint == "" {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Otel.Endpoint,
		Environment: cfg.Otel.Environment,
		ServiceName: cfg.Otel.ServiceName,
	})
	if err != nil {
		slog.Warn("tracing setup failed, continuing without traces", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured provider plugin.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		slog.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideDBPool runs migrations, then opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}
