package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"epic-issues/internal/config"
	"epic-issues/internal/store"
)

var (
	configPath string
	driver     string
	dsn        string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "issues",
		Short:         "Track project issues with tags like EIT-42",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&driver, "driver", "", "store driver: sqlite|mysql (overrides config)")
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "store DSN (overrides config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd(), seedCmd(), lsCmd(), exportCmd())
	return root
}

// env is what every subcommand needs: config, logger and an open store.
type env struct {
	cfg config.Config
	log *zap.Logger
	st  *store.Store
}

func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn != "" {
		cfg.Store.DSN = dsn
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("store: %w", err)
	}
	log.Debug("store opened", zap.String("driver", cfg.Store.Driver))
	return &env{cfg: cfg, log: log, st: st}, nil
}

func (e *env) close() {
	_ = e.st.Close()
	_ = e.log.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
