// Package main is the entry point for the avaguard admission proxy demo.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/observability"
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
	listenAddr  string
	watch       bool
	showVersion bool
}

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(flags, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting avaguard",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1) //nolint:gocritic // deferred stop is irrelevant on exit
	}

	if err := app.run(ctx, flags.configPath, flags.watch); err != nil {
		logger.Error("avaguard stopped with error", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("avaguard stopped")
}

// parseFlags parses command line flags. Environment variables provide the
// defaults so container deployments need no arguments.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("avaguard", flag.ExitOnError)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("AVAGUARD_CONFIG_PATH", ""),
		"Path to configuration file (defaults are used when empty)")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("AVAGUARD_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the config file")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("AVAGUARD_LOG_FORMAT", ""),
		"Log format (json, console); overrides the config file")
	fs.StringVar(&f.listenAddr, "listen", getEnvOrDefault("AVAGUARD_LISTEN_ADDR", ""),
		"HTTP listen address; overrides the config file")
	fs.BoolVar(&f.watch, "watch", getEnvBool("AVAGUARD_WATCH_CONFIG", true),
		"Reload the configuration file when it changes")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)

	return f
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("avaguard version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// loadConfig reads the configuration file, or the defaults without one,
// and applies flag overrides.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		loaded, err := config.LoadAndValidate(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.listenAddr != "" {
		cfg.Server.Address = flags.listenAddr
	}
	return cfg, nil
}

// initLogger builds the process logger. Flags take precedence over the
// configuration file.
func initLogger(flags cliFlags, cfg *config.Config) (observability.Logger, error) {
	logCfg := observability.DefaultLogConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}
	return observability.NewLogger(logCfg)
}
