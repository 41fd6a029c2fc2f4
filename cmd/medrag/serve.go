// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/medrag/internal/server"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Load configuration, wire the stores and providers, and serve the document and retrieval API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	srv, err := newAppServer(app)
	if err != nil {
		return err
	}

	slog.Info("starting medrag",
		"listen", app.Config.Server.Listen,
		"storage", app.Config.Storage.Backend,
		"embedding_provider", app.Config.Embedding.Provider,
		"generation_model", app.Config.Generation.Model,
	)
	return srv.Start(ctx)
}

// newAppServer builds the HTTP server with the app's routes registered.
func newAppServer(app *App) (*server.Server, error) {
	srv, err := server.New(serverConfig(app.Config.Server))
	if err != nil {
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "creating server")
	}

	services, err := app.Services()
	if err != nil {
		_ = srv.Close()
		return nil, mederr.Wrapf(err, mederr.CodeCLISetupFailure, "creating services")
	}
	srv.RegisterServices(services)
	return srv, nil
}

// wireApp is swapped in tests.
var wireApp = WireApp

// openApp loads the configuration and wires the app against the OS keyring.
func openApp() (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return wireApp(cfg, secretStoreFactory())
}

// runContext returns a context for one-shot commands.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
