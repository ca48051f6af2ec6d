package main

import (
	"errors"
	"fmt"

	"github.com/nao1215/crawlcore/internal/config"
	"github.com/nao1215/crawlcore/internal/database"
	"github.com/nao1215/crawlcore/internal/report"
	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent transfers from the transfer log",
		Long: `History prints the most recent transfers recorded by fetch as a Markdown
table, followed by the outcome counts of the whole log.

Examples:
  # Last 20 transfers
  crawlcore history

  # Last 100 transfers of one slot
  crawlcore history --limit 100 --slot example.com`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", defaultHistoryLimit, "Maximum number of transfers to show (0 for all)")
	cmd.Flags().StringP("slot", "s", "", "Only show transfers of this slot")
	cmd.Flags().String("db-dir", config.XDGDataDir(), "Directory of the transfer log")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	slot, err := cmd.Flags().GetString("slot")
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}

	tl, err := database.Open(dbDir, database.Options{EnableWAL: true})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "No transfers recorded yet.")
			return nil
		}
		return err
	}
	defer tl.Close()

	ctx := cmd.Context()
	records, err := tl.Recent(ctx, limit, slot)
	if err != nil {
		return fmt.Errorf("failed to read transfer log: %w", err)
	}
	counts, err := tl.CountByOutcome(ctx)
	if err != nil {
		return fmt.Errorf("failed to count transfers: %w", err)
	}
	return report.WriteHistory(cmd.OutOrStdout(), records, counts)
}
