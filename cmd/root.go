// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/github-traffic/internal/config"
	"github.com/naka-gawa/github-traffic/internal/store"
)

// Version is set at build time with -ldflags "-X github.com/naka-gawa/github-traffic/cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "github-traffic",
	Short: "A CLI tool to keep GitHub repository traffic beyond the 14-day window.",
	Long: `github-traffic periodically fetches the daily clone and view counts of
GitHub repositories and merges them into a local JSON file, so the history
outlives the rolling window the GitHub API exposes. The history can be
served over HTTP or summarized on the command line.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("db", "", "Path of the traffic history file (default \"traffics.json\")")
}

// newLogger builds the logger injected into every component.
func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// resolveConfig layers the config file, the environment and the flags set on cmd.
func resolveConfig(cmd *cobra.Command, getenv func(string) string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(getenv)
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags copies every flag the user set explicitly into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBFile, _ = flags.GetString("db")
	}
	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("web") {
		cfg.WebDir, _ = flags.GetString("web")
	}
	if flags.Changed("failure-policy") {
		cfg.FailurePolicy, _ = flags.GetString("failure-policy")
	}
	if flags.Changed("interval") {
		cfg.SyncInterval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("repos") {
		repos, _ := flags.GetStringSlice("repos")
		cfg.Repos = config.ParseRepos(strings.Join(repos, ":"))
	}
}

func newStore(cfg *config.Config, logger *slog.Logger) *store.FileStore {
	lockFile := cfg.LockFile
	if lockFile == "" {
		lockFile = cfg.DBFile + ".lock"
	}
	return store.New(cfg.DBFile, store.WithLock(lockFile), store.WithLogger(logger))
}
