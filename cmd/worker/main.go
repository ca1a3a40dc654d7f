package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/app"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/queue"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	if cfg.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL is required for the worker")
	}

	core, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise", "err", err)
	}
	defer core.Close()

	// Init rabbitmq
	conn, err := queue.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.IngestQueue); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// A separate consumer channel with prefetch=1 so only one ingestion runs
	// at a time.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	handler := withMetrics(core.AI, queue.IngestHandler(core.Ingest, ch))

	logger.Info("Listening for messages", "queue", queue.IngestQueue)
	if err := queue.Consume(ctx, consumerCh, queue.IngestQueue, handler); err != nil {
		logger.Error("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

// withMetrics logs token usage and wall time after every message and resets
// the client's counters.
func withMetrics(client ai.Client, next queue.Handler) queue.Handler {
	return func(ctx context.Context, body []byte) error {
		start := time.Now()
		err := next(ctx, body)

		metrics := client.GetMetrics()
		logger.Info(
			"AI Metrics",
			"requests", metrics.Requests,
			"input_tokens", metrics.InputTokens,
			"output_tokens", metrics.OutputTokens,
			"total_tokens", metrics.TotalTokens,
			"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
		)
		logger.Info("Processing time", "duration", clock(time.Since(start)))
		logger.Info("Waiting for next message")
		client.ResetMetrics()
		return err
	}
}

func clock(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
