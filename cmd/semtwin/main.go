// Package main runs the semtwin gateway: a digital twin fed from NATS with
// an incremental rule whiteboard evaluating derived rules against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/semtwin/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semtwin"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, err := newGateway(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	return runWithSignalHandling(ctx, g, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil, true, nil
	}

	slog.SetDefault(setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat))
	slog.Info("Starting semtwin",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)
	return cliCfg, false, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewLoader().LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// runWithSignalHandling starts the gateway and blocks until ctx is
// cancelled by a shutdown signal
func runWithSignalHandling(ctx context.Context, g *gateway, shutdownTimeout time.Duration) error {
	if err := g.start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := g.stop(stopCtx); serr != nil {
			slog.Warn("Cleanup after failed start", "error", serr)
		}
		return err
	}
	slog.Info("semtwin started", "gateway", g.cfg.Gateway.ID, "rules", len(g.wb.Rules()))

	<-ctx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	slog.Info("semtwin shutdown complete")
	return nil
}
