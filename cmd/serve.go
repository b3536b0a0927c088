package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/materium/paperbase/api"
	"github.com/materium/paperbase/internal/app"
	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// statsSource adapts the vector store and registry to the stats endpoint.
type statsSource struct {
	a *app.App
}

func (s statsSource) ChunkCount(ctx context.Context, collection document.Collection) (int64, error) {
	return s.a.Vectors.Stats(ctx, collection)
}

func (s statsSource) DocumentCount(ctx context.Context) (int64, error) {
	return s.a.Registry.Count(ctx)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: slog.LevelInfo, JSON: true})

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	server := api.NewServer(cfg, a.DBPool, a.Pipeline, a.Tracker, a.Retrieval, a.Generator, statsSource{a}, logger)

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	return server.Run(ctx, addr)
}
