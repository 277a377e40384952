// Package cli implements the mint-indexer command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/jc4p/mint-exchange-sub001/internal/control"
	"github.com/jc4p/mint-exchange-sub001/internal/core/config"
)

var (
	cfgPath string
	isDebug bool

	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "mint-indexer",
	Short: "Marketplace indexer for the mint exchange",
	Long: `mint-indexer projects marketplace contract events into a queryable store,
serves the HTTP API and reconciles the projection against contract state.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexer, the sweeper and the HTTP API",
	RunE:  runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	loaded, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		return err
	}
	cfg = loaded

	stylelog.InitDefault(&tint.Options{
		Level:      logLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
	})
	return nil
}

func logLevel(name string) slog.Level {
	if isDebug {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// withComponents builds the object graph for a one-shot command.
func withComponents(ctx context.Context, fn func(c *control.Components) error) error {
	c, err := control.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer c.Close()
	return fn(c)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := control.Build(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize indexer", "error", err)
		return err
	}
	app := control.NewApp(c)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start indexer", "error", err)
		c.Close()
		return err
	}
	slog.Info("Indexer started", "config", cfgPath)

	done := make(chan error, 1)
	go func() { done <- app.Wait() }()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case err := <-done:
		if err != nil {
			slog.Error("Indexer exited", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		return err
	}
	slog.Info("Indexer stopped gracefully")
	return nil
}
