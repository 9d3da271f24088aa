package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokerapi/internal/adapters/brokerfactory"
	"brokerapi/internal/adapters/config"
	"brokerapi/internal/adapters/errors/noop"
	"brokerapi/internal/adapters/errors/sentry"
	"brokerapi/internal/metrics"
	"brokerapi/pkg/errors"
	"brokerapi/pkg/logger"
)

func main() {
	exchange := flag.String("exchange", "binance", "Exchange to talk to (binance|kraken)")
	noColor := flag.Bool("no-color", false, "Disable coloured output")
	keyFile := flag.String("keys", "", "Key file to sign with instead of the configured one")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.Get()

	// Initialize error tracker
	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)
	log = logger.Get()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:      cfg,
		exchange: *exchange,
		keyFile:  *keyFile,
		brokers:  brokerfactory.NewFactory(cfg, brokerfactory.WithMetrics()),
		tracker:  errorTracker,
		out:      os.Stdout,
		colors:   !*noColor,
		log:      log,
	}

	err = a.run(ctx, flag.Args())
	flushTracker(errorTracker, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Debug("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Debug("Error tracking initialized (Sentry)")
	return tracker
}

func flushTracker(tracker errors.Tracker, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tracker.Flush(ctx); err != nil {
		log.Warnf("Failed to flush error tracker: %v", err)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: brokerctl [-exchange binance|kraken] [-keys file] <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-12s %s\n", c.name, c.help)
	}
	fmt.Fprintf(out, "\nGlobal flags:\n")
	flag.PrintDefaults()
}
