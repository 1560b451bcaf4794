// Command gateway runs the multi-tenant MCP gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/config"
	"github.com/unifiedmcp/gateway/internal/gateway"
	"github.com/unifiedmcp/gateway/internal/logs"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel  string
		logToFile bool
	)

	root := &cobra.Command{
		Use:     "gateway",
		Short:   "Multi-tenant MCP gateway",
		Long:    "A single long-running service exposing scoped MCP endpoints that proxy into configured upstream products.",
		Version: version,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logLevel, logToFile)
		},
	}
	serve.Flags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	serve.Flags().BoolVar(&logToFile, "log-to-file", true, "write logs to the log directory as well as the console")

	root.AddCommand(serve)
	return root
}

func runServe(parent context.Context, logLevel string, logToFile bool) error {
	// Bootstrap logger for configuration loading; replaced once the
	// configured level is known.
	bootstrapLogger, err := logs.SetupLogger(logs.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLogger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logCfg := logs.DefaultConfig()
	logCfg.Level = logLevel
	logCfg.EnableFile = logToFile
	logCfg.LogDir = cfg.LogDir
	logger, err := logs.SetupLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gateway",
		zap.String("version", version),
		zap.String("listen", cfg.Listen))
	return gw.Run(ctx)
}
