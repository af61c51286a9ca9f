package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/sufragio-api/internal/app"
	"github.com/noah-isme/sufragio-api/internal/repository"
	"github.com/noah-isme/sufragio-api/pkg/config"
	"github.com/noah-isme/sufragio-api/pkg/database"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
	"github.com/noah-isme/sufragio-api/pkg/logger"
)

// @title Sufragio API
// @version 1.0.0
// @description Voting record lifecycle over a verifiable append-only ledger
// @BasePath /
// @schemes http

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sufragio-api",
		Short:         "Voting record lifecycle API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newProvisionCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var driver string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck
			if driver != "" {
				cfg.Ledger.Driver = driver
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := app.New(ctx, cfg, logr)
			if err != nil {
				logr.Error("startup failed", zap.Error(err))
				return err
			}
			defer server.Close()
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&driver, "ledger-driver", "", "override LEDGER_DRIVER (postgres|memory)")
	return cmd
}

func newProvisionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the ledger tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			ctx := cmd.Context()
			db, err := database.NewPostgres(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			indexes := repository.NewSufragioRepository(cfg.Ledger.Table).Indexes()
			if err := ledger.Provision(ctx, db, indexes...); err != nil {
				return fmt.Errorf("provision ledger: %w", err)
			}
			logr.Info("ledger provisioned", zap.String("table", cfg.Ledger.Table), zap.Int("indexes", len(indexes)))
			return nil
		},
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}
