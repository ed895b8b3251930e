package repository

import (
	"context"
	"time"

	"github.com/taskquorum/api/internal/domain"
)

// UserRepository persists user accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}

// TaskRepository persists tasks together with their assignee and
// completion sets.
type TaskRepository interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTaskByID(ctx context.Context, id string) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	// MarkComplete atomically adds the user to the completion set and
	// flips is_done/done_at when the set now covers every assignee. The
	// add is idempotent; done_at is written at most once. The bool
	// reports whether this call performed the flip.
	MarkComplete(ctx context.Context, taskID, userID string, now time.Time) (*domain.Task, bool, error)
	ListTasksAssignedTo(ctx context.Context, userID string) ([]domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.TaskWithCreator, error)
	ListTasksByCreator(ctx context.Context, creatorID string) ([]domain.Task, error)
	ListTasksCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Task, error)
	ListUnfinishedTasks(ctx context.Context) ([]domain.Task, error)
	ListTasksByCreatorNamePrefix(ctx context.Context, prefix string) ([]domain.Task, error)
}

// EventRepository stores the task audit trail.
type EventRepository interface {
	InsertTaskEvent(ctx context.Context, event *domain.TaskEvent) error
	ListTaskEvents(ctx context.Context, taskID string, limit int) ([]domain.TaskEvent, error)
}
