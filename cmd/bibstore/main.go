// Command bibstore loads fatcat release dumps into a bibstore environment
// and answers diagnostic queries against it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/scienceminer/bibstore"
	"github.com/scienceminer/bibstore/internal/config"
	"github.com/scienceminer/bibstore/internal/metrics"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	maxReaders int
)

var rootCmd = &cobra.Command{
	Use:           "bibstore",
	Short:         "Embedded store of bibliographic metadata records",
	Long:          `Loads fatcat release dumps into a memory-mapped key-value file and serves records by ident or DOI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the storage file (overrides storage.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&maxReaders, "max-readers", 0, "Maximum concurrent read transactions (overrides storage.max_readers)")

	rootCmd.AddCommand(loadCmd, getCmd, listCmd, statsCmd, dumpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "bibstore: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)
	return nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if maxReaders > 0 {
		cfg.Storage.MaxReaders = maxReaders
	}
	return cfg, cfg.Validate()
}

// openStore opens the environment and the store. The returned func closes
// the environment.
func openStore(cfg config.Config, m *metrics.Metrics) (*bibstore.Store, func(), error) {
	opt := cfg.Storage.EnvOptions()
	opt.Logger = slog.Default()
	if m != nil {
		opt.OverloadMeter = m.Overloaded
	}
	env, err := bibstore.Open(cfg.Storage.Path, opt)
	if err != nil {
		return nil, nil, err
	}
	closeEnv := func() {
		if err := env.Close(); err != nil {
			slog.Error("closing storage", "err", err)
		}
	}
	store, err := bibstore.NewStore(env, bibstore.StoreOptions{
		DefaultListLimit: cfg.List.DefaultLimit,
	})
	if err != nil {
		closeEnv()
		return nil, nil, err
	}
	return store, closeEnv, nil
}
