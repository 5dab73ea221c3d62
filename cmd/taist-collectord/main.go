// Command taist-collectord is the driver process for component F: it
// loads configuration, starts the collector's Unix socket server and
// its /metrics and /healthz HTTP endpoints, and waits for SIGINT/SIGTERM
// to run the coordinated shutdown drain.
//
// Grounded on cmd/main.go's flag/env config-path resolution and
// internal/app.App.Run's signal-handling and HTTP server lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taist-dev/taist/internal/collector"
	"github.com/taist-dev/taist/internal/filterconfig"
	"github.com/taist-dev/taist/internal/obslog"
	"github.com/taist-dev/taist/internal/telemetry"
)

func main() {
	var configFile, logLevel, logFormat, metricsAddr string
	var shutdownTimeout time.Duration
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "Address for the /metrics and /healthz HTTP server")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Time budget for the coordinated shutdown drain")
	flag.Parse()

	if configFile == "" {
		configFile = os.Getenv("TAIST_CONFIG_FILE")
	}

	logger := obslog.New(logLevel, logFormat)

	cfg, err := filterconfig.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taist-collectord: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	metrics := telemetry.New()
	metricsServer := telemetry.NewServer(metricsAddr, metrics, logger)
	metricsServer.Start(logger)
	logger.WithField("addr", metricsAddr).Info("taist-collectord: metrics server listening")

	srv := collector.New(cfg, logger, collector.WithRecorder(metrics))
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "taist-collectord: failed to start collector: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.WithField("signal", received.String()).Info("taist-collectord: shutting down")

	if err := srv.Stop(shutdownTimeout); err != nil {
		logger.WithError(err).Error("taist-collectord: collector stop error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Stop(ctx); err != nil {
		logger.WithError(err).Error("taist-collectord: metrics server stop error")
	}
}
