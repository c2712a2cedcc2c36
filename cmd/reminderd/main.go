package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/api"
	"github.com/stockflow/reminderd/internal/breaker"
	"github.com/stockflow/reminderd/internal/config"
	"github.com/stockflow/reminderd/internal/db"
	"github.com/stockflow/reminderd/internal/escalation"
	"github.com/stockflow/reminderd/internal/mailer"
	"github.com/stockflow/reminderd/internal/metrics"
	"github.com/stockflow/reminderd/internal/notify"
	"github.com/stockflow/reminderd/internal/observ"
	"github.com/stockflow/reminderd/internal/redis"
	"github.com/stockflow/reminderd/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting reminderd",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", cfg.Timezone),
		zap.Duration("run_interval", cfg.RunInterval),
	)

	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is optional: without it the ledger constraint alone guards
	// against overlapping runs.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, run locking and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var runLock *redis.RunLock
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		runLock = redis.NewRunLock(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  5, // manual runs
			Window: 1 * time.Minute,
		})
		defer redisClient.Close()
	}

	// The log mailer stands in for SES outside production.
	var mail mailer.Mailer
	if cfg.Env == "production" {
		sesMailer, err := mailer.NewSESMailer(ctx, mailer.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES mailer: %w", err)
		}
		mail = sesMailer
	} else {
		mail = mailer.NewLogMailer(logger)
		logger.Info("using log mailer, no emails will be delivered")
	}

	mailBreaker := breaker.New(breaker.Config{
		Name:            "ses",
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}, logger)
	protectedMail := breaker.NewProtectedMailer(mail, mailBreaker, logger)

	engine, err := escalation.NewEngine(
		repo,
		repo,
		protectedMail,
		escalation.DefaultRules(),
		escalation.Config{
			Concurrency: cfg.Concurrency,
			SendTimeout: cfg.SendTimeout,
			Location:    cfg.Location(),
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create escalation engine: %w", err)
	}

	summaryWebhook := notify.NewSummaryWebhook(notify.WebhookConfig{
		URL: cfg.SummaryWebhook,
	}, logger)
	if summaryWebhook != nil {
		logger.Info("run summaries will be posted", zap.Stringer("webhook", summaryWebhook))
	}

	var schedLock scheduler.Locker
	if runLock != nil {
		schedLock = runLock
	}
	var schedNotifier scheduler.Notifier
	if summaryWebhook != nil {
		schedNotifier = summaryWebhook
	}

	sched := scheduler.New(engine, schedLock, schedNotifier, scheduler.Config{
		Interval: cfg.RunInterval,
		Location: cfg.Location(),
	}, logger)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	go sched.Start(schedCtx)

	logger.Info("escalation scheduler started")

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute)) // a manual run can take a while
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, engine, repo, database, runLock, summaryWebhook, cfg.Location())

	r.Route("/v1", func(r chi.Router) {
		r.With(api.RateLimitMiddleware(rateLimiter, logger, api.CallerKeyFunc)).
			Post("/escalation/run", handler.TriggerRun)

		r.Get("/invoices/{id}/reminders", handler.ListInvoiceReminders)
		r.Get("/reminders", handler.ListTenantReminders)
	})

	r.Get("/health", handler.HealthCheck)

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop the scheduler first; an in-flight run abandons its current
		// sends without writing ledger entries, so the next run retries them.
		schedCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
