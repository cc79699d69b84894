package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/teranga-app/teranga/internal/app"
	"github.com/teranga-app/teranga/internal/cotisation"
	"github.com/teranga-app/teranga/internal/expense"
	"github.com/teranga-app/teranga/internal/loan"
	"github.com/teranga-app/teranga/internal/observability"
	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/platform/cache"
	"github.com/teranga-app/teranga/internal/platform/db"
	"github.com/teranga-app/teranga/internal/shared"
	"github.com/teranga-app/teranga/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	sink := jobs.NewEventSink(queueClient, logger)
	locker := shared.NewAggregateLocker(redisClient, 10*time.Second)

	orgService := org.NewService(org.NewRepository(dbpool), logger)
	actors := &org.ActorLoader{Service: orgService}

	cotisationService := cotisation.NewService(cotisation.NewRepository(dbpool), sink, logger)
	expenseService := expense.NewService(expense.NewRepository(dbpool), sink, logger).WithLocker(locker)
	loanService := loan.NewService(loan.NewRepository(dbpool), sink, logger).WithLocker(locker)

	orgHandler := org.NewHandler(logger, orgService, actors)
	cotisationHandler := cotisation.NewHandler(logger, cotisationService, orgService, actors)
	expenseHandler := expense.NewHandler(logger, expenseService, actors)
	loanHandler := loan.NewHandler(logger, loanService, actors)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		OrgHandler:        orgHandler,
		CotisationHandler: cotisationHandler,
		ExpenseHandler:    expenseHandler,
		LoanHandler:       loanHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
