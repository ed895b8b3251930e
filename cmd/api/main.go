package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskquorum/api/internal/app/migrate"
	"github.com/taskquorum/api/internal/events"
	httpx "github.com/taskquorum/api/internal/http"
	"github.com/taskquorum/api/internal/repository/postgres"
	"github.com/taskquorum/api/internal/service/auth"
	"github.com/taskquorum/api/internal/service/session"
	"github.com/taskquorum/api/internal/service/task"
	"github.com/taskquorum/api/pkg/config"
	"github.com/taskquorum/api/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	sessions := session.NewMemoryStore(cfg.SessionTTL)
	if addr := strings.TrimSpace(cfg.SessionRedisAddr); addr != "" {
		redisSessions, err := session.NewRedisStore(addr, cfg.SessionRedisPass, cfg.SessionRedisDB, cfg.SessionTTL, log)
		if err != nil {
			log.Warn("redis session store unavailable, using in-memory sessions", "error", err)
		} else {
			sessions.Close()
			sessions = redisSessions
		}
	}
	defer sessions.Close()

	var publisher events.Publisher = events.NoopPublisher{}
	if url := strings.TrimSpace(cfg.EventBrokerURL); url != "" {
		client, err := events.NewAMQPClient(url, cfg.EventQueueName, log)
		if err != nil {
			log.Warn("event broker unavailable, task events disabled", "error", err)
		} else {
			publisher = client
		}
	}
	defer publisher.Close()

	authSvc := auth.New(repo, sessions, log)
	taskSvc := task.New(repo, repo, repo, publisher, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, taskSvc, limiter, cfg.SessionCookieName, cfg.SessionTTL, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
