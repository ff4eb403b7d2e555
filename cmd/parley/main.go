package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/parleylabs/parley/internal/conductor"
	"github.com/parleylabs/parley/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("parley", flag.ExitOnError)
	configPath := fs.String("config", "parley.yaml", "Path to settings file (json, yaml or toml)")
	endpoint := fs.String("endpoint", "", "Public endpoint advertised in invitations")
	label := fs.String("label", "", "Agent label shown to peers")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("Parley v%s (built %s)\n", version, buildTime)
		fmt.Println("Decentralized identity communication agent")
		return 0
	}

	// Flags beat file and environment values.
	overrides := make(config.Settings)
	if *endpoint != "" {
		overrides["endpoint"] = *endpoint
	}
	if *label != "" {
		overrides["default_label"] = *label
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("starting Parley", "version", version, "config", *configPath)

	builder := &config.DefaultBuilder{
		Path:      *configPath,
		Overrides: overrides,
		Logger:    logger,
	}

	ctx := context.Background()

	// Peek at the merged settings so the process logger honors the
	// configured level before the conductor builds its own context.
	stopTimeout := conductor.DefaultStopTimeout
	if conCtx, err := builder.Build(ctx); err == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(conCtx.Settings.GetStringDefault("log.level", "info")),
		}))
		if secs := conCtx.Settings.GetInt("shutdown.timeout", 0); secs > 0 {
			stopTimeout = time.Duration(secs) * time.Second
		}
	}

	agent := conductor.New(builder, logger)

	if err := agent.Setup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := agent.Start(ctx); err != nil {
		logger.Error("failed to start agent", "error", err)
		// Release whatever did come up before the failure.
		_ = agent.Stop(ctx, stopTimeout)
		return 1
	}

	waitForShutdown(logger)

	if err := agent.Stop(ctx, stopTimeout); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return 1
	}

	logger.Info("Parley stopped")
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// waitForShutdown blocks until a termination signal arrives.
func waitForShutdown(logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)

	for {
		sig := <-sigCh

		if handlePlatformSignal(sig, logger) {
			continue
		}

		logger.Info("shutdown signal received", "signal", sig.String())
		return
	}
}
