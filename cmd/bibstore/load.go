package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/scienceminer/bibstore"
	"github.com/scienceminer/bibstore/fatcat"
	"github.com/scienceminer/bibstore/internal/metrics"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a fatcat release dump (.json, .gz, .zst or .xz)",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			return fmt.Errorf("--input is required")
		}
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		return runLoad(cmd.Context(), input, batchSize)
	},
}

func init() {
	loadCmd.Flags().String("input", "", "The path to the fatcat dump")
	loadCmd.Flags().Int("batch-size", 0, "Records per write transaction (overrides load.batch_size)")
}

func runLoad(ctx context.Context, input string, batchSize int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchSize > 0 {
		cfg.Load.BatchSize = batchSize
	}

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg, m)
	if err != nil {
		return err
	}
	defer closeStore()

	in, err := openInput(input)
	if err != nil {
		return err
	}
	defer in.Close()

	start := time.Now()
	slog.Info("loading fatcat dump", "input", input, "db", cfg.Storage.Path, "batch_size", cfg.Load.BatchSize)

	reportCtx, stopReport := context.WithCancel(ctx)
	reporter := &metrics.Reporter{
		Counter:  m.Records,
		Name:     "fatcatLookup",
		Interval: cfg.Metrics.ReportInterval,
	}
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		reporter.Run(reportCtx)
	}()

	reader := fatcat.NewReader(cfg.Load.ReaderConfig(), slog.Default())
	loader := bibstore.NewLoader(store, bibstore.LoaderOptions{
		BatchSize: cfg.Load.BatchSize,
		Meter:     m.Records,
		SkipMeter: m.Skipped,
		OnCommit: func(batch, records int) error {
			m.Batches.Inc()
			return ctx.Err()
		},
	})
	res, loadErr := loader.Load(reader.Records(in))

	stopReport()
	<-reported

	rs := reader.Stats()
	slog.Info("cross checking number of records processed", "processed", res.Processed, "committed", res.Committed, "skipped", res.Skipped, "excluded", rs.Excluded, "lines", rs.Lines, "meter", int64(metrics.CounterValue(m.Records)))
	if loadErr != nil {
		return fmt.Errorf("load stopped after %d committed records: %w", res.Committed, loadErr)
	}

	sizes, err := store.Stats()
	if err != nil {
		return err
	}
	slog.Info("fatcat lookup loaded", "sizes", sizes, "bytes", store.Env().Size(), "elapsed", time.Since(start).Round(time.Second))
	if n := sizes[bibstore.PrimaryMapName]; n != res.Committed {
		// Expected on reloads and on dumps with repeated idents.
		slog.Info("entry count differs from records committed", "entries", n, "committed", res.Committed)
	}
	return nil
}
