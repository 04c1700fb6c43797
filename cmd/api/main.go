package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-triage/internal/api/http"
	"github.com/spec-kit/ticket-triage/internal/api/http/handlers"
	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/classifier"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/mailer"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/persistence"
	"github.com/spec-kit/ticket-triage/internal/repository"
	"github.com/spec-kit/ticket-triage/internal/service"
	"github.com/spec-kit/ticket-triage/internal/worker"
	"github.com/spec-kit/ticket-triage/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	pool := pg.PoolHandle()
	if pool == nil {
		logger.Fatal("POSTGRES_DSN is required")
	}
	ticketRepo := repository.NewTicketRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	runStore := repository.NewRunRepository(pool)

	resolver := service.NewAssignmentResolver(userRepo, logger)
	aiClassifier := classifier.NewOpenAI(cfg.Classifier, logger)
	notifier := mailer.New(cfg.Mailer, logger)

	engine := workflow.NewEngine(workflow.EngineDependencies{
		Runs:        runStore,
		Tickets:     ticketRepo,
		Classifier:  aiClassifier,
		Resolver:    resolver,
		Notifier:    notifier,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
		CallTimeout: cfg.Workflow.StepTimeout(),
	})

	triagePool := worker.NewTriagePool(worker.PoolDependencies{
		Engine: engine,
		Runs:   runStore,
		Policy: workflow.RetryPolicy{
			MaxAttempts: cfg.Workflow.MaxAttempts,
			Backoff:     time.Duration(cfg.Workflow.BackoffSeconds) * time.Second,
			Strategy:    workflow.BackoffStrategy(cfg.Workflow.BackoffStrategy),
		},
		Dedupe:      redis,
		Logger:      logger,
		Metrics:     metrics,
		MaxInFlight: cfg.Workflow.MaxInFlightRuns,
	})

	auditService := service.NewAuditService(dispatcher, logger)
	auditService.RegisterHandlers()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Triage:     triagePool,
		Dispatcher: dispatcher,
	})
	authService := service.NewAuthService(*cfg, userRepo)
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Triage:         handlers.NewTriageHandler(triagePool, runStore),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = triagePool.Shutdown(shutdownCtx)
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
