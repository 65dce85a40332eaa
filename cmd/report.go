package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/github-traffic/internal/usecase"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarizes the history file and outputs it as JSON",
	Long:  `Computes per-repository totals, mean, median, 90th percentile and maximum of the daily clones and views kept in the history file, and outputs the result in JSON format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		cfg, err := resolveConfig(cmd, os.Getenv)
		if err != nil {
			return err
		}

		reporter := usecase.NewReporter(newStore(cfg, logger), logger)
		results, err := reporter.Report(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to summarize traffic: %w", err)
		}

		// Marshal the results into a pretty-printed JSON string.
		jsonData, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results to JSON: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
