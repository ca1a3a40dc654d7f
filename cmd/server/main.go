package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MicahParks/keyfunc/v3"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/app"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/queue"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/server"
	mid "github.com/OFFIS-RIT/kiwi-support/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/tickets"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/watcher"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	core, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise", "err", err)
	}
	defer core.Close()

	store, err := tickets.Open(cfg.TicketsPath)
	if err != nil {
		logger.Fatal("Failed to open ticket store", "path", cfg.TicketsPath, "err", err)
	}

	var dispatcher queue.Dispatcher
	if cfg.RabbitMQURL != "" {
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
		dispatcher = queue.NewAMQPDispatcher(ch)

		eventCh, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open event channel", "err", err)
		}
		defer eventCh.Close()

		go func() {
			err := queue.SubscribeGraphUpdates(ctx, eventCh, func(ctx context.Context, ev queue.GraphUpdated) {
				logger.Info("Graph updated by worker", "job_id", ev.JobID, "nodes", ev.Nodes, "edges", ev.Edges)
				core.ReloadGraph(ctx)
			})
			if err != nil {
				logger.Error("Graph update subscription stopped", "err", err)
			}
		}()
	} else {
		local := queue.NewLocalDispatcher(core.Ingest, 0)
		defer local.Wait()
		dispatcher = local
	}

	var key mid.KeySource
	if cfg.Server.AuthURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.Server.AuthURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		key = k
	}

	if cfg.Ingest.OnStart {
		if job, err := dispatcher.DispatchIngest(ctx, false); err != nil {
			logger.Error("Failed to start initial ingestion", "err", err)
		} else {
			logger.Info("Initial ingestion dispatched", "job_id", job.JobID)
		}
	}

	if cfg.WatchCorpus {
		if cfg.Corpus.Remote() {
			logger.Warn("WATCH_CORPUS ignored for remote corpus", "corpus", cfg.Corpus.String())
		} else {
			w, err := watcher.New(cfg.Corpus.Dir, watcher.DefaultDebounce, func(ctx context.Context, changed []string) {
				logger.Info("Corpus changed, re-ingesting", "files", len(changed))
				if _, err := dispatcher.DispatchIngest(ctx, true); err != nil {
					logger.Error("Failed to dispatch ingestion", "err", err)
				}
			})
			if err != nil {
				logger.Fatal("Failed to watch corpus", "dir", cfg.Corpus.Dir, "err", err)
			}
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Error("Corpus watcher stopped", "err", err)
				}
			}()
		}
	}

	e := server.New(&mid.App{
		Core:         core,
		Tickets:      store,
		Ingest:       dispatcher,
		Key:          key,
		MasterAPIKey: cfg.Server.MasterAPIKey,
	}, server.Options{
		BodyLimit:    cfg.Server.BodyLimit,
		RateLimitRPS: cfg.Server.RateLimitRPS,
	})

	if err := server.Run(ctx, e, cfg.Server.Port); err != nil {
		logger.Error("Server failed", "err", err)
	}
}
