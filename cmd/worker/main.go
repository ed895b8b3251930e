package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskquorum/api/internal/domain"
	"github.com/taskquorum/api/internal/events"
	"github.com/taskquorum/api/internal/repository"
	"github.com/taskquorum/api/internal/repository/postgres"
	"github.com/taskquorum/api/pkg/config"
	"github.com/taskquorum/api/pkg/logger"
)

// The worker drains the task event queue and records each transition into
// the task_events audit table.
func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("worker", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	brokerURL := strings.TrimSpace(cfg.EventBrokerURL)
	if brokerURL == "" {
		log.Error("EVENT_BROKER_URL is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := postgres.New(pool)

	client, err := events.NewAMQPClient(brokerURL, cfg.EventQueueName, log)
	if err != nil {
		log.Error("failed to connect to event broker", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	handler := func(ctx context.Context, event events.TaskEvent) error {
		return recordEvent(ctx, repo, event)
	}
	if err := client.StartConsuming(ctx, handler); err != nil {
		log.Error("failed to start consuming", "error", err)
		os.Exit(1)
	}

	log.Info("worker started", "queue", cfg.EventQueueName)
	<-ctx.Done()
	log.Info("worker stopped")
}

func recordEvent(ctx context.Context, repo repository.EventRepository, event events.TaskEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	record := &domain.TaskEvent{
		TaskID:     event.TaskID,
		EventType:  event.Type,
		ActorID:    event.ActorID,
		Payload:    payload,
		OccurredAt: event.OccurredAt,
		RecordedAt: time.Now().UTC(),
	}
	return repo.InsertTaskEvent(ctx, record)
}
