// Package main 文档入库任务执行器入口（ingest-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/infrastructure/messaging"
	einoobs "timeline-rag-api/internal/observability/eino"
	"timeline-rag-api/internal/wire"
	"timeline-rag-api/pkg/logger"
	"timeline-rag-api/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	if cfg.Store.Backend != wire.BackendMilvus {
		logger.Fatal(ctx, "ingest-worker requires the milvus backend", fmt.Errorf("store.backend=%q", cfg.Store.Backend))
	}

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName:    "ingest-worker",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Env,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	einoobs.Init()

	app, cleanup, err := wire.InitializeApp(ctx, cfg, wire.Options{})
	if err != nil {
		logger.Fatal(ctx, "failed to initialize app", err)
	}
	defer cleanup()

	stream := cfg.Messaging.RedisStream
	consumer := messaging.NewConsumer(app.Data.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamIngest,
		Group:         messaging.ConsumerGroupIngestWorker,
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  stream.BlockTimeout,
		ClaimInterval: stream.ClaimInterval,
		RetryLimit:    stream.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    stream.RetryBackoff.Initial,
			Max:        stream.RetryBackoff.Max,
			Multiplier: stream.RetryBackoff.Multiplier,
		},
	})
	consumer.RegisterHandler(messaging.TypeIngestDocument, app.IngestHandler())
	consumer.RegisterDeadLetterHandler(messaging.TypeIngestDocument, app.IngestDeadLetterHandler())

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	log := logger.FromContext(ctx)
	log.Info("ingest-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("ingest-worker shutting down")
	consumer.Stop()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
