package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Lists the repositories a sync discovers when none are configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		cfg, err := resolveConfig(cmd, os.Getenv)
		if err != nil {
			return err
		}
		fetcher, err := newFetcher(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create GitHub gateway: %w", err)
		}

		repos, err := fetcher.ListRepositories(cmd.Context())
		if err != nil {
			return err
		}
		for _, repo := range repos {
			fmt.Fprintln(cmd.OutOrStdout(), repo)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reposCmd)
}
