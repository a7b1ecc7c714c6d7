package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/etl"
)

var anonymizeFlags struct {
	input       string
	output      string
	statistical bool
	llm         bool
	method      string
	workers     int
}

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize",
	Short: "Anonymize a transaction file (CSV, JSON or Parquet)",
	Example: `  txn-sentinel anonymize --input movimientos.csv --output anon.csv
  txn-sentinel anonymize --input tx.parquet --output anon.parquet --statistical --method hash`,
	RunE: runAnonymize,
}

func init() {
	f := anonymizeCmd.Flags()
	f.StringVar(&anonymizeFlags.input, "input", "", "Input transaction file")
	f.StringVar(&anonymizeFlags.output, "output", "", "Output file, written in the input format")
	f.BoolVar(&anonymizeFlags.statistical, "statistical", false, "Enable the statistical tier")
	f.BoolVar(&anonymizeFlags.llm, "llm", false, "Enable the LLM adjudication tier")
	f.StringVar(&anonymizeFlags.method, "method", "", "Replacement method: mask, replace or hash (default from config)")
	f.IntVar(&anonymizeFlags.workers, "workers", 0, "Worker goroutines (default from config)")
	_ = anonymizeCmd.MarkFlagRequired("input")
	_ = anonymizeCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(anonymizeCmd)
}

func runAnonymize(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	if anonymizeFlags.statistical {
		cfg.Statistical.Enabled = true
	}
	if anonymizeFlags.llm {
		cfg.Adjudicator.Enabled = true
	}
	if anonymizeFlags.method != "" {
		cfg.Anonymizer.Method = anonymizeFlags.method
	}
	if anonymizeFlags.workers > 0 {
		cfg.Batch.WorkerCount = anonymizeFlags.workers
	}

	method, err := anonymizer.ParseReplaceMethod(cfg.Anonymizer.Method)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := initializeServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	pipeline := etl.NewPipeline(svc.engine, &cfg.Batch, log.WithComponent("batch").Logger)
	result, err := pipeline.ProcessFile(ctx, anonymizeFlags.input, anonymizeFlags.output, method)
	if result != nil {
		printResult(cmd, result)
	}
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Batch cancelled", zap.Error(err))
		}
		return err
	}

	if err := svc.stats.Flush(); err != nil {
		log.Warn("Failed to flush processing stats", zap.Error(err))
	}
	fmt.Fprintln(cmd.OutOrStdout())
	printSummary(cmd.OutOrStdout(), svc.summary())
	return nil
}

func printResult(cmd *cobra.Command, r *etl.ProcessingResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run_id: %s\n", r.RunID)
	fmt.Fprintf(out, "records: %d processed, %d failed of %d\n", r.Processed, r.Failed, r.TotalRecords)
	fmt.Fprintf(out, "requires_review: %d\n", r.ReviewCount)
	fmt.Fprintf(out, "duration: %s\n", r.Duration)

	types := make([]string, 0, len(r.EntitiesByType))
	for t := range r.EntitiesByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(out, "  %s: %d\n", t, r.EntitiesByType[anonymizer.EntityType(t)])
	}
	for _, e := range r.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s\n", e)
	}
}
