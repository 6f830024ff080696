// Package main is the entry point for the gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsdeck/gateway/internal/config"
	"github.com/opsdeck/gateway/internal/gateway"
	"github.com/opsdeck/gateway/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)
	run(cfg, flags.configPath, logger)
}

func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", ""),
		"Path to configuration file (optional; defaults apply without one)")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func printVersion() {
	fmt.Printf("gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

func loadConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	if configPath == "" {
		logger.Info("no config file supplied, using defaults")
		return config.DefaultConfig()
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}
	return cfg
}

// run starts the gateway and blocks until SIGINT/SIGTERM.
func run(cfg *config.GatewayConfig, configPath string, logger observability.Logger) {
	logger.Info("starting gateway",
		observability.String("version", version),
		observability.String("addr", cfg.Server.ListenAddr),
	)

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithVersion(version),
	)
	if err != nil {
		logger.Fatal("failed to build gateway", observability.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := startWatcher(ctx, configPath, gw, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received",
			observability.String("signal", sig.String()),
		)
	case err := <-errCh:
		if err != nil {
			logger.Error("gateway failed", observability.Error(err))
		}
	}

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
	}

	if err := gw.Stop(context.Background()); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

// startWatcher enables configuration hot reload when a config file is in
// use. Returns nil when running purely on defaults.
func startWatcher(ctx context.Context, configPath string, gw *gateway.Gateway, logger observability.Logger) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, gw.ApplyConfig,
		config.WithWatcherLogger(logger),
	)
	if err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled",
			observability.Error(err),
		)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher, hot reload disabled",
			observability.Error(err),
		)
		return nil
	}

	return watcher
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
