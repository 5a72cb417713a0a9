// Package app wires configuration, database, providers and the
// enrichment components into a runnable application.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixwise/fixwise/internal/config"
	"github.com/fixwise/fixwise/internal/enrich"
	"github.com/fixwise/fixwise/internal/guides"
	"github.com/fixwise/fixwise/internal/harvest"
	"github.com/fixwise/fixwise/internal/knowledge"
	"github.com/fixwise/fixwise/internal/log"
	"github.com/fixwise/fixwise/internal/provider"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool      *pgxpool.Pool
	Knowledge *knowledge.Store

	// Providers. Chat and Embedder are nil without an OpenAI key,
	// Search is nil without a Perplexity key. The pipeline degrades
	// to static fallbacks when they are missing.
	Chat     provider.Chat
	Embedder provider.Embedder
	Search   provider.Search

	Spawner   *enrich.Spawner
	Pipeline  *enrich.Pipeline
	Generator *guides.Generator
	Queue     *harvest.QueueStore
	Harvester *harvest.Harvester
}

// Close drains background work and releases resources. Spawned tasks
// carry their own timeouts, so Wait terminates.
func (a *App) Close() error {
	if a.Spawner != nil {
		a.Spawner.Wait()
	}
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}
