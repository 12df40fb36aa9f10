package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/consumer"
	"github.com/sapcc/monasca-notification/internal/database"
	"github.com/sapcc/monasca-notification/internal/dispatch"
	"github.com/sapcc/monasca-notification/internal/engine"
	"github.com/sapcc/monasca-notification/internal/metrics"
	"github.com/sapcc/monasca-notification/internal/producer"

	_ "github.com/sapcc/monasca-notification/internal/dispatch/email"
	_ "github.com/sapcc/monasca-notification/internal/dispatch/pagerduty"
	_ "github.com/sapcc/monasca-notification/internal/dispatch/slack"
	_ "github.com/sapcc/monasca-notification/internal/dispatch/webhook"
)

func main() {
	configPath := flag.String("config", "/etc/monasca/notification.yaml", "Path to the configuration file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-config file] <period>\n", os.Args[0])
		os.Exit(1)
	}
	period := flag.Arg(0)

	setupLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Invalid configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}

	topic, ok := cfg.Kafka.Periodic[period]
	if !ok {
		slog.Error("No periodic topic configured for period", "period", period)
		os.Exit(1)
	}

	slog.Info("Starting periodic engine",
		"kafka_brokers", cfg.Kafka.URL,
		"period", period,
		"topic", topic,
		"group_id", cfg.Kafka.Group,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	recorder := setupMetrics(ctx, cfg, "periodic-engine-"+period)

	store, err := database.New(cfg.MySQL)
	if err != nil {
		slog.Error("Failed to connect to configuration store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := dispatch.NewRegistry(cfg, recorder)
	if len(registry.ActiveKinds()) == 0 {
		slog.Error("No notification types configured")
		os.Exit(1)
	}

	kafkaConsumer, err := consumer.New(cfg.Kafka.URL, topic, cfg.Kafka.Group)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer kafkaConsumer.Close()

	kafkaProducer, err := producer.New(cfg.Kafka.URL)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer kafkaProducer.Close()

	eng, err := engine.NewPeriodicEngine(cfg, period, kafkaConsumer, kafkaProducer, store, registry, recorder)
	if err != nil {
		slog.Error("Failed to create periodic engine", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting periodic processing loop")
	if err := eng.Run(ctx); err != nil {
		slog.Error("Periodic engine failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Periodic engine stopped")
}

// setupLogging configures slog; LOG_LEVEL=DEBUG enables debug output.
func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "DEBUG" || os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// setupMetrics connects the metrics sink; without one, recording is a
// no-op.
func setupMetrics(ctx context.Context, cfg *config.Config, engineName string) metrics.Recorder {
	if cfg.Metrics.RedisAddr == "" {
		return metrics.NewNoOp()
	}
	client, err := metrics.ConnectRedis(ctx, cfg.Metrics.RedisAddr)
	if err != nil {
		slog.Error("Failed to connect to metrics sink, metrics disabled", "error", err)
		return metrics.NewNoOp()
	}
	collector := metrics.NewCollector(engineName, client)
	collector.Start(ctx)
	return collector
}
