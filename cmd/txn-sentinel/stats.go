package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/learning"
	"github.com/raaihank/txn-sentinel/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the processing summary from persisted stats",
	Long: `Replays stats.jsonl_path into a summary. When stats.database_url is set,
the persisted totals from the database are printed as well.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := learning.Open(cfg.Learning.Path, log.WithComponent("learning").Logger)
	if err != nil {
		return err
	}

	replay := stats.NewLog(stats.Config{KeepUncertain: cfg.Stats.KeepUncertain}, log.Logger)
	defer replay.Close()

	if path := cfg.Stats.JSONLPath; path != "" {
		read, skipped, err := stats.ReplayJSONL(path, replay)
		if err != nil {
			return err
		}
		if skipped > 0 {
			log.Warn("Skipped malformed stats lines", zap.Int("skipped", skipped), zap.Int("read", read))
		}
	}

	out := cmd.OutOrStdout()
	printSummary(out, replay.Summary(store.Count()))

	if cfg.Stats.DatabaseURL != "" {
		sink, err := stats.OpenSQL(&cfg.Stats, log.Logger)
		if err != nil {
			return err
		}
		defer sink.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		total, avg, err := sink.Totals(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "database_records: %d\ndatabase_average_confidence: %.3f\n", total, avg)
	}
	return nil
}
