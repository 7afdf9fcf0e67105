package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/internal/app"
	"github.com/OFFIS-RIT/ingest/backend/internal/queue"
	"github.com/OFFIS-RIT/ingest/backend/internal/util"
	"github.com/OFFIS-RIT/ingest/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger/console"

	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.New(console.Params{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	engine, err := app.Build(ctx, app.OptionsFromEnv())
	if err != nil {
		logger.Fatal("Failed to build engine", "err", err)
	}
	defer engine.Close()

	// Init rabbitmq
	conn, err := queue.Dial(queue.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Failed to connect to rabbitmq", "err", err)
	}
	defer conn.Close()

	// Retry and dead letter publishes use their own channel
	pubCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer pubCh.Close()
	if err := queue.Setup(pubCh, queue.ProcessQueue); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	concurrency := util.GetEnvInt("WORKER_CONCURRENCY", 2)
	handler := queue.NewHandler(engine.Processor, pubCh)
	consumer := queue.NewConsumer(consumerCh, handler, concurrency)

	var sweeper *queue.Sweeper
	every := util.GetEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute)
	staleAfter := util.GetEnvDuration("SESSION_STALE_AFTER", 30*time.Minute)
	if engine.Pool != nil {
		sweeper = queue.NewSweeper(engine.Sessions, leaselock.New(engine.Pool), every, staleAfter)
	} else {
		sweeper = queue.NewSweeper(engine.Sessions, nil, every, staleAfter)
	}

	logger.Info("Listening for messages", "queue", queue.ProcessQueue, "concurrency", concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
