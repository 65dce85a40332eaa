package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/github-traffic/internal/config"
	"github.com/naka-gawa/github-traffic/internal/gateway"
	"github.com/naka-gawa/github-traffic/internal/store"
	"github.com/naka-gawa/github-traffic/internal/usecase"
)

// newFetcher is replaced in tests.
var newFetcher = func(cfg *config.Config, logger *slog.Logger) (gateway.Fetcher, error) {
	if cfg.Token == "" {
		return nil, errors.New("GITHUB_ACCESS_TOKEN environment variable is not set")
	}
	return gateway.NewGitHubGateway(cfg.Token, "github-traffic/"+Version, logger)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetches repository traffic and merges it into the history file",
	Long: `Fetches the daily clones and views of every configured repository and merges
them into the history file. Without --loop a single cycle runs.

By default (--failure-policy persist-successes) a cycle saves every repository
that was fetched and reports the ones that failed, so a cycle is not
all-or-nothing; a one-shot sync then exits non-zero. With
--failure-policy abort-cycle the first failure ends the cycle and nothing is
saved, and --loop stops with that error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := newLogger(cmd)
		cfg, err := resolveConfig(cmd, os.Getenv)
		if err != nil {
			return err
		}
		loop, _ := cmd.Flags().GetBool("loop")
		return runSync(ctx, cfg, logger, loop)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	addSyncFlags(syncCmd)
	syncCmd.Flags().Bool("loop", false, "Keep syncing every --interval until interrupted")
}

// addSyncFlags registers the flags shared by sync and serve.
func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("repos", "r", nil, "Repositories to sync as owner/name (default: every repository you own)")
	cmd.Flags().Duration("interval", config.DefaultSyncInterval, "Time to sleep between sync cycles")
	cmd.Flags().String("failure-policy", "persist-successes", "What a failed repository does to a cycle: persist-successes (save the others) or abort-cycle (save nothing)")
}

func newSyncer(cfg *config.Config, st store.Store, logger *slog.Logger, opts ...usecase.SyncerOption) (*usecase.Syncer, error) {
	policy, err := usecase.ParseFailurePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}
	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	opts = append([]usecase.SyncerOption{usecase.WithFailurePolicy(policy)}, opts...)
	return usecase.NewSyncer(fetcher, st, cfg.Repos, logger, opts...), nil
}

func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger, loop bool) error {
	syncer, err := newSyncer(cfg, newStore(cfg, logger), logger)
	if err != nil {
		return err
	}
	logger.Debug("resolved configuration", "user", cfg.Username, "repos", cfg.Repos, "db", cfg.DBFile, "failure_policy", cfg.FailurePolicy)

	if loop {
		err := syncer.Run(ctx, cfg.SyncInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	report, err := syncer.DoSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync traffic: %w", err)
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("%d of %d repositories failed: %w", len(report.Failed()), len(report.Results), err)
	}
	return nil
}
