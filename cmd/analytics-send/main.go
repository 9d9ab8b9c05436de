// analytics-send replays JSON-lines events through the analytics
// delivery pipeline. Each stdin line is a submission:
//
//	{"type":"click","data":{"label":"buy"},"custom":{"plan":"pro"},"priority":"low"}
//
// Events are batched with the configured debounce window and whatever
// is still queued at end of input is flushed before exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	analytics "github.com/your-org/roadrunner-analytics-transport"
	"github.com/your-org/roadrunner-analytics-transport/idstore"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var endpoint string
	var dryRun bool
	var logLevel string
	var idStorePath string
	var pageURL string
	var shutdownTimeout time.Duration

	flagSet := pflag.NewFlagSet("analytics-send", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML or JSONC config file")
	flagSet.StringVar(&endpoint, "endpoint", "", "collection endpoint (overrides the config file)")
	flagSet.BoolVar(&dryRun, "dry-run", false, "log events instead of sending them")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (overrides the config file)")
	flagSet.StringVar(&idStorePath, "id-store", "", "SQLite file keeping the anonymous id between runs")
	flagSet.StringVar(&pageURL, "page-url", "", "page URL reported in event context")
	flagSet.DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for the final flush")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	fileCfg, err := loadConfigFile(configPath)
	if err != nil {
		return err
	}
	config := analytics.Config{Enabled: true}
	if err := fileCfg.UnmarshalKey(analytics.PluginName, &config); err != nil {
		return err
	}
	if endpoint != "" {
		config.Endpoint = endpoint
	}
	if dryRun {
		config.DryRun = true
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(config.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []analytics.Option{
		analytics.WithLogger(logger.Named(analytics.PluginName)),
		analytics.WithEnvironment(&analytics.StaticEnvironment{
			URL:   pageURL,
			Agent: "analytics-send/" + version,
			Lang:  os.Getenv("LANG"),
			TZ:    os.Getenv("TZ"),
		}),
	}
	if idStorePath != "" {
		store, err := idstore.Open(idStorePath, "")
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, analytics.WithIdentityStore(store))
	}

	pipeline, err := analytics.Instance(config, opts...)
	if err != nil {
		return err
	}

	events := make(chan analytics.Submission)
	if err := pipeline.Attach(analytics.NewChannelSource(events, logger)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	forwarded, readErr := readSubmissions(ctx, os.Stdin, events, logger)
	close(events)
	if readErr != nil && readErr != context.Canceled {
		logger.Error("Failed reading input", zap.Error(readErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := analytics.Destroy(shutdownCtx); err != nil {
		logger.Warn("Final flush did not complete", zap.Error(err))
	}

	metrics := pipeline.GetMetrics()
	logger.Info("Done",
		zap.Int("forwarded", forwarded),
		zap.Int64("events_submitted", metrics.EventsSubmitted),
		zap.Int64("batches_sent", metrics.BatchesSent),
		zap.Int64("batches_failed", metrics.BatchesFailed),
		zap.Int64("batches_dropped", metrics.BatchesDropped))

	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	return cfg.Build()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `analytics-send replays JSON-lines events through the delivery pipeline.

Usage:
  analytics-send [flags] < events.jsonl

Flags:
%s`, flagSet.FlagUsages())
}
