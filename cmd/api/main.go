package main

import (
	"context"
	"log"

	"ordersync/config"
	"ordersync/internal/alerts"
	"ordersync/internal/archive"
	"ordersync/internal/domain/event"
	"ordersync/internal/handler"
	"ordersync/internal/metrics"
	"ordersync/internal/provider"
	"ordersync/internal/queue"
	"ordersync/internal/reconcile"
	"ordersync/internal/redis"
	"ordersync/internal/repository"
	"ordersync/internal/server"
	"ordersync/internal/services"
	"ordersync/internal/webhook"
	"ordersync/pkg/database"
	"ordersync/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)
	defer l.Logger.Sync()

	metrics.Register()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.ApplyMigrations(ctx, db, "migrations"); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	// Repositories
	eventRepo := repository.NewEventRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	findingRepo := repository.NewFindingRepository(db)

	// Ingest path
	verifier := webhook.NewVerifier(cfg.WebhookSecret, cfg.SignatureMaxSkew)
	replayGuard := redis.NewReplayGuard(redisClient, cfg.SignatureMaxSkew)
	ingestSvc := services.NewIngestService(verifier, replayGuard, eventRepo, cfg.SignaturePolicy)

	limiter := redis.NewRateLimiter(redisClient, redis.RateLimitConfig{
		WebhookLimit:  cfg.WebhookRateLimit,
		WebhookWindow: cfg.WebhookRateWindow,
	})

	// Alerting
	sinks := []alerts.Sink{alerts.LogSink{}}
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, alerts.NewWebhookSink(cfg.AlertWebhookURL))
	}
	notifier := alerts.NewNotifier(sinks...)

	// Optional dead-letter archive
	var archiver *archive.S3Archiver
	if cfg.ArchiveBucket != "" {
		archiver, err = archive.NewS3Archiver(ctx, archive.S3Config{
			Region:    cfg.ArchiveRegion,
			Bucket:    cfg.ArchiveBucket,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Endpoint:  cfg.ArchiveEndpoint,
		})
		if err != nil {
			log.Fatalf("failed to initialize dead-letter archive: %v", err)
		}
	}

	// Dispatch queue
	classifier := queue.NewClassifier(cfg.RetryBaseBackoff, cfg.RetryMaxAttempts)
	pool := queue.NewWorkerPool(eventRepo, classifier, queue.WorkerPoolConfig{
		Workers:        cfg.WorkerCount,
		PollEvery:      cfg.QueuePollEvery,
		BatchSize:      cfg.QueueBatchSize,
		Lease:          cfg.LeaseDuration,
		HandlerTimeout: cfg.HandlerTimeout,
	})

	orderSvc := services.NewOrderEventService(orderRepo)
	pool.Register(event.TypeOrderCreated, queue.HandlerFunc(orderSvc.HandleOrderCreated))
	pool.Register(event.TypeOrderUpdated, queue.HandlerFunc(orderSvc.HandleOrderUpdated))
	pool.Register(event.TypePaymentCreated, queue.HandlerFunc(orderSvc.HandlePaymentUpdated))
	pool.Register(event.TypePaymentUpdated, queue.HandlerFunc(orderSvc.HandlePaymentUpdated))
	pool.Register(event.TypeFulfillmentUpdated, queue.HandlerFunc(orderSvc.HandleFulfillmentUpdated))

	pool.SetDeadLetterHook(func(ctx context.Context, e event.InboundEvent, rec event.ProcessingRecord, reason string) {
		if archiver != nil {
			if err := archiver.ArchiveDeadLetter(ctx, e, rec, reason); err != nil {
				l.Errorf("failed to archive dead letter %s: %v", e.ID, err)
			}
		}
		notifier.Send(ctx, alerts.Alert{
			Severity:    alerts.SeverityCritical,
			Title:       "event dead-lettered",
			Description: reason,
			Data:        map[string]any{"event_id": e.ID, "type": e.Type, "attempts": rec.Attempts},
		})
	})

	// Reconciliation
	providerClient := provider.NewClient(provider.Config{
		BaseURL: cfg.ProviderBaseURL,
		Token:   cfg.ProviderToken,
		Timeout: cfg.ProviderTimeout,
	})
	engine := reconcile.NewEngine(eventRepo, orderRepo, findingRepo, providerClient, reconcile.EngineConfig{
		Interval:        cfg.ReconcileInterval,
		StuckThreshold:  cfg.StuckJobThreshold,
		DriftSampleSize: cfg.DriftSampleSize,
		RetentionDays:   cfg.RetentionDays,
	})
	monitor := reconcile.NewMonitor(eventRepo, notifier, reconcile.MonitorConfig{
		QueueDepthLimit:   cfg.MonitorQueueDepth,
		DeadLetterLimit:   cfg.MonitorDeadLetters,
		SweepFindingLimit: cfg.MonitorSweepFinding,
	})
	engine.SetSweepHook(monitor.EvaluateSweep)

	go pool.Run(ctx)
	go engine.Run(ctx)
	go monitor.Run(ctx)

	// HTTP
	srv := server.New(cfg, l, db)
	srv.SetupRoutes(&server.Handlers{
		Webhook: handler.NewWebhookHandler(ingestSvc),
		Admin:   handler.NewAdminHandler(eventRepo, findingRepo, engine),
	}, limiter)

	if err := srv.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
