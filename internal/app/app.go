// Package app assembles the application: configuration, database pool,
// Genkit provider plugins, and the ingestion/retrieval/generation services
// built on top of them.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/materium/paperbase/internal/config"
	"github.com/materium/paperbase/internal/generate"
	"github.com/materium/paperbase/internal/ingest"
	"github.com/materium/paperbase/internal/registry"
	"github.com/materium/paperbase/internal/retrieval"
	"github.com/materium/paperbase/internal/vectorstore"
)

// App is the application container. Built once by Setup; Close releases
// everything in reverse order.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Registry  *registry.Registry
	Vectors   *vectorstore.Store
	Retrieval *retrieval.Engine
	Generator *generate.Adapter
	Tracker   *ingest.Tracker
	Pipeline  *ingest.Pipeline

	otelCleanup func()
	dbCleanup   func()
}

// Close shuts down background work and releases connections.
func (a *App) Close() error {
	slog.Info("shutting down application")

	if a.Tracker != nil {
		a.Tracker.Close()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
		slog.Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
