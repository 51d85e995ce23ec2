package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"aegis/internal/audit"
	"aegis/internal/evidence"
	evidencehandler "aegis/internal/evidence/handler"
	"aegis/internal/evidence/ledger"
	evidencemetrics "aegis/internal/evidence/metrics"
	jwttoken "aegis/internal/jwt_token"
	"aegis/internal/learning"
	learninghandler "aegis/internal/learning/handler"
	learningmetrics "aegis/internal/learning/metrics"
	"aegis/internal/lifecycle"
	lifecyclehandler "aegis/internal/lifecycle/handler"
	lifecyclemetrics "aegis/internal/lifecycle/metrics"
	"aegis/internal/mailer"
	"aegis/internal/platform/config"
	"aegis/internal/platform/httpserver"
	"aegis/internal/platform/kafka"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/metrics"
	platformredis "aegis/internal/platform/redis"
	httptransport "aegis/internal/transport/http"
)

const anchorQueueSize = 512

// main wires dependencies and runs the HTTP server plus the two background
// workers. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage. An empty DSN selects the in-memory stores for dev and tests.
	var db *sql.DB
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	producer, err := kafka.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Error("kafka connect failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// Evidence anchoring.
	evidenceMetrics := evidencemetrics.New()
	var proofStore evidence.ProofStore = evidence.NewInMemoryProofStore()
	if db != nil {
		proofStore = evidence.NewPostgresProofStore(db)
	}
	ledgerClient := ledger.NewHTTPClient(cfg.Ledger, nil)
	evidenceService := evidence.NewService(ledgerClient, proofStore, log, evidenceMetrics, cfg.Ledger)
	anchorQueue := evidence.NewQueue(anchorQueueSize, evidenceMetrics)
	anchorWorker := evidence.NewWorker(evidenceService, anchorQueue, log)

	// Strategy learning.
	learningMetrics := learningmetrics.New()
	var eventStore learning.EventStore = learning.NewInMemoryEventStore()
	if db != nil {
		eventStore = learning.NewPostgresEventStore(db)
	}
	var snapshotCache learning.SnapshotCache = learning.NewInMemorySnapshotCache()
	if redisClient != nil {
		snapshotCache = learning.NewRedisSnapshotCache(redisClient, cfg.Redis.SnapshotTTL)
	}
	sinks := []learning.TriggerSink{
		newCollectiveAnchorSink(anchorQueue, log),
	}
	if producer != nil {
		sinks = append(sinks, learning.NewKafkaTriggerPublisher(producer, cfg.Kafka.CollectiveTopic, log))
	}
	learningService := learning.NewService(
		eventStore,
		snapshotCache,
		learning.ThresholdsFromConfig(cfg.Learning),
		log,
		learningMetrics,
		learning.WithTriggerSinks(sinks...),
	)
	outcomeQueue := learning.NewQueue(anchorQueueSize)
	learningWorker := learning.NewWorker(outcomeQueue, learningService, log)

	// Correspondence lifecycle.
	lifecycleMetrics := lifecyclemetrics.New()
	var (
		authStore    lifecycle.AuthorizationStore = lifecycle.NewInMemoryAuthorizationStore()
		messageStore lifecycle.MessageStore       = lifecycle.NewInMemoryMessageStore()
		inboundStore lifecycle.InboundStore       = lifecycle.NewInMemoryInboundStore()
	)
	if db != nil {
		authStore = lifecycle.NewPostgresAuthorizationStore(db)
		messageStore = lifecycle.NewPostgresMessageStore(db)
		inboundStore = lifecycle.NewPostgresInboundStore(db)
	}
	var auditStore audit.Store = audit.NewInMemoryStore()
	if db != nil {
		auditStore = audit.NewPostgresStore(db)
	}
	auditTrail := audit.NewPublisher(auditStore, log)

	transport := mailer.NewHTTPTransport(cfg.Mailer, log)
	lifecycleService := lifecycle.NewService(
		authStore,
		messageStore,
		inboundStore,
		learningService,
		transport,
		anchorQueue,
		outcomeQueue,
		cfg.Mailer.FromAddress,
		cfg.Mailer.FromName,
		cfg.Mailer.ReplyDomain,
		log,
		lifecycleMetrics,
		lifecycle.WithAuditTrail(auditTrail),
		lifecycle.WithArchiveAddress(cfg.Mailer.ArchiveAddress),
	)

	// HTTP surface.
	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, "aegis", "aegis-api")
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)
	httpMetrics := metrics.New()

	checks := map[string]httptransport.HealthCheck{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	router := httptransport.NewRouter(checks,
		lifecyclehandler.New(lifecycleService, log, httpMetrics, jwtValidator, cfg.Server.InboundSecret),
		learninghandler.New(learningService, log, httpMetrics, jwtValidator),
		evidencehandler.New(evidenceService, log, httpMetrics, jwtValidator),
	)
	srv := httpserver.New(cfg.Server.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting aegis", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		err := anchorWorker.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		learningWorker.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
