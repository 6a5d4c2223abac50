package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/issue-service/internal/api/http"
	"github.com/spec-kit/issue-service/internal/api/http/handlers"
	"github.com/spec-kit/issue-service/internal/auth"
	"github.com/spec-kit/issue-service/internal/cache"
	"github.com/spec-kit/issue-service/internal/config"
	"github.com/spec-kit/issue-service/internal/events"
	"github.com/spec-kit/issue-service/internal/observability"
	"github.com/spec-kit/issue-service/internal/persistence"
	"github.com/spec-kit/issue-service/internal/repository"
	"github.com/spec-kit/issue-service/internal/service"
	"github.com/spec-kit/issue-service/internal/worker"
)

type stores struct {
	issues  repository.IssueRepository
	users   repository.UserRepository
	history repository.IssueHistoryRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, flush := observability.NewLogger(cfg.Logger)
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	st := newStores(pg)
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	leaderboardCache := cache.New(redis.Client, logger)

	ledger := service.NewLedgerService(service.LedgerDependencies{
		UserRepo:    st.users,
		IssueRepo:   st.issues,
		HistoryRepo: st.history,
		Cache:       leaderboardCache,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	leaderboard := service.NewLeaderboardService(st.users, st.issues, leaderboardCache, cfg.Leaderboard.CacheTTL())
	issueService := service.NewIssueService(service.IssueDependencies{
		IssueRepo:   st.issues,
		UserRepo:    st.users,
		HistoryRepo: st.history,
		Ledger:      ledger,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		Now:         time.Now,
	})
	userService := service.NewUserService(service.UserDependencies{
		UserRepo:    st.users,
		IssueRepo:   st.issues,
		Leaderboard: leaderboard,
		BcryptCost:  cfg.Auth.BcryptCost,
		Logger:      logger,
	})
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(cfg.Auth, st.users, tokens, logger)

	if _, err := service.SeedUsers(ctx, userService, cfg.Seed, logger); err != nil {
		logger.Fatal("failed to seed users", zap.Error(err))
	}

	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger, cfg.Notification))
	go worker.RunOverdueScanner(ctx, issueService, cfg.Notification.OverdueScanInterval(), logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.HTTP, cfg.App.RequestTimeout())

	dependencies := map[string]handlers.Pinger{}
	if pg.Enabled() {
		dependencies["postgres"] = pg
	}
	if redis.Enabled() {
		dependencies["redis"] = redis
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies),
		Issues:         handlers.NewIssuesHandler(issueService),
		Users:          handlers.NewUsersHandler(authService, userService, leaderboard),
		Admin:          handlers.NewAdminHandler(ledger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, st.users),
		Metrics:        metrics.Handler(),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func newStores(pg *persistence.Postgres) stores {
	if pg.Enabled() {
		return stores{
			issues:  repository.NewIssueRepository(pg.Pool),
			users:   repository.NewUserRepository(pg.Pool),
			history: repository.NewIssueHistoryRepository(pg.Pool),
		}
	}
	return stores{
		issues:  repository.NewMemoryIssueRepository(),
		users:   repository.NewMemoryUserRepository(),
		history: repository.NewMemoryIssueHistoryRepository(),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
