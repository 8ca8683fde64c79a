package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/database"
	"github.com/stemsi/exstem-evaluation/internal/event"
	"github.com/stemsi/exstem-evaluation/internal/handler"
	"github.com/stemsi/exstem-evaluation/internal/logger"
	"github.com/stemsi/exstem-evaluation/internal/repository"
	"github.com/stemsi/exstem-evaluation/internal/router"
	"github.com/stemsi/exstem-evaluation/internal/service"
	"github.com/stemsi/exstem-evaluation/internal/validator"
	"github.com/stemsi/exstem-evaluation/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Evaluation")

	if cfg.EvaluatorAPIKey == "" {
		log.Warn().Msg("EVALUATOR_API_KEY is empty, evaluator routes will reject every request")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to RabbitMQ ───────────────────────────────────────────
	publisher, err := event.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer publisher.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	evaluationRepo := repository.NewEvaluationRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	snapshotRepo := repository.NewSnapshotRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	inviteService := service.NewInviteService(cfg, rdb)
	evaluationService := service.NewEvaluationService(evaluationRepo, questionRepo, inviteService, rdb, cfg.DefinitionTTL, log)
	monitorService := service.NewMonitorService(rdb, monitorRepo, log)
	resultService := service.NewResultService(rdb, attemptRepo, monitorService, cfg.ResultTTL, log)
	snapshotStore := service.NewSnapshotStore(rdb, snapshotRepo, cfg.SnapshotTTL, log)
	sessionManager := service.NewSessionManager(
		evaluationService,
		resultService,
		snapshotStore,
		resultService,
		monitorService,
		cfg.AutosaveInterval,
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Candidate: handler.NewCandidateHandler(sessionManager, log),
		Stream:    handler.NewSessionStreamHandler(sessionManager, log, cfg.AllowedOrigins),
		Evaluator: handler.NewEvaluatorHandler(evaluationService, inviteService, resultService, log),
		Monitor:   handler.NewMonitorHandler(evaluationService, monitorService, log),
		System:    handler.NewSystemHandler(pool, rdb, sessionManager, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	attemptWorker := worker.NewAttemptWorker(rdb, attemptRepo, snapshotRepo, publisher, log)
	snapshotWorker := worker.NewSnapshotWorker(rdb, snapshotRepo, log)

	workers.Add(2)
	go func() {
		defer workers.Done()
		attemptWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		snapshotWorker.Start(workerCtx)
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published evaluations into Redis BEFORE accepting traffic.
	if err := evaluationService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r, limiter := router.SetupRouter(inviteService, handlers, cfg)
	defer limiter.Stop()

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Park live sessions so candidates can resume on restart.
	if err := sessionManager.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Session shutdown error")
	}

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Workers did not drain before the shutdown deadline")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
