package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixwise/fixwise/db"
	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/enrich"
	"github.com/fixwise/fixwise/internal/guides"
	"github.com/fixwise/fixwise/internal/harvest"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/provider"
)

// spawnTimeout bounds every detached background task.
const spawnTimeout = 3 * time.Minute

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates and initializes the application. Call Close to
// release resources.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := log.New(log.Config{
		Level:     parseLevel(cfg.Log.Level),
		JSON:      cfg.Log.JSON,
		AddSource: cfg.Log.AddSource,
	})
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Knowledge = knowledge.NewStore(pool, logger)

	provideProviders(a)

	a.Spawner = enrich.NewSpawner(logger, spawnTimeout)
	a.Generator = guides.NewGenerator(a.Knowledge, a.Chat, cfg.Providers, logger)
	a.Pipeline = enrich.NewPipeline(a.Knowledge, a.Search, a.Chat, a.Embedder,
		a.Generator, cfg.Providers, a.Spawner, logger)

	a.Queue = harvest.NewQueueStore(pool, logger)
	a.Harvester = harvest.NewHarvester(a.Queue, a.Knowledge, a.Search, a.Chat,
		a.Embedder, cfg.Providers, logger)

	return a, nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Database.URL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideProviders constructs the AI clients. A missing key disables
// the provider instead of failing startup. Interface fields are only
// assigned on success so nil checks downstream stay meaningful.
func provideProviders(a *App) {
	cfg := a.Config.Providers

	oai, err := provider.NewOpenAI(cfg.OpenAIKey, cfg.EmbeddingModel, cfg.EmbeddingDims)
	switch {
	case err == nil:
		a.Chat = oai
		a.Embedder = oai
	case errors.Is(err, provider.ErrNoAPIKey):
		a.Logger.Warn("OpenAI key not configured, structuring and embeddings disabled")
	default:
		a.Logger.Warn("OpenAI client unavailable", "error", err)
	}

	pplx, err := provider.NewPerplexity(cfg.PerplexityKey)
	switch {
	case err == nil:
		a.Search = pplx
	case errors.Is(err, provider.ErrNoAPIKey):
		a.Logger.Warn("Perplexity key not configured, web research disabled")
	default:
		a.Logger.Warn("Perplexity client unavailable", "error", err)
	}
}
