package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/github-traffic/internal/config"
	"github.com/naka-gawa/github-traffic/internal/server"
	"github.com/naka-gawa/github-traffic/internal/telemetry"
	"github.com/naka-gawa/github-traffic/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the sync loop and serves the history over HTTP",
	Long: `Runs the sync loop in the background and serves the persisted history on
/api/traffics, summary statistics on /api/summary and prometheus metrics on
/metrics. Every request reads the history file, so only persisted data is served.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := newLogger(cmd)
		cfg, err := resolveConfig(cmd, os.Getenv)
		if err != nil {
			return err
		}
		noSync, _ := cmd.Flags().GetBool("no-sync")
		return runServe(ctx, cfg, logger, noSync)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addSyncFlags(serveCmd)
	serveCmd.Flags().String("addr", config.DefaultAddr, "Address to listen on")
	serveCmd.Flags().String("web", "", "Directory of static files served on /")
	serveCmd.Flags().Bool("no-sync", false, "Only serve the existing history file")
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, noSync bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	st := newStore(cfg, logger)
	srv := server.New(st, logger, server.WithGatherer(reg), server.WithStaticDir(cfg.WebDir))

	g, ctx := errgroup.WithContext(ctx)
	if !noSync {
		syncer, err := newSyncer(cfg, st, logger, usecase.WithMetrics(metrics))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return syncer.Run(ctx, cfg.SyncInterval)
		})
	}
	g.Go(func() error {
		return server.Serve(ctx, cfg.Addr, srv.Handler(), logger)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
