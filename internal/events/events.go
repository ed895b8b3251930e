package events

import (
	"context"
	"time"
)

// Task lifecycle event types.
const (
	TypeTaskCreated   = "task.created"
	TypeTaskCompleted = "task.completed"
	TypeTaskDeleted   = "task.deleted"
)

// TaskEvent is the queue payload describing a task lifecycle transition.
type TaskEvent struct {
	Type       string    `json:"type"`
	TaskID     string    `json:"task_id"`
	Title      string    `json:"title,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits task events toward the worker. Implementations must be
// safe for concurrent use by request handlers.
type Publisher interface {
	PublishTaskEvent(ctx context.Context, event TaskEvent) error
	Close() error
}

// Consumer delivers queued task events to a handler. A handler error
// requeues the message.
type Consumer interface {
	StartConsuming(ctx context.Context, handler func(context.Context, TaskEvent) error) error
	Close() error
}

// NoopPublisher drops events; wired when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishTaskEvent(ctx context.Context, event TaskEvent) error { return nil }
func (NoopPublisher) Close() error                                                { return nil }
