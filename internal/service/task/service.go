package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/taskquorum/api/internal/domain"
	"github.com/taskquorum/api/internal/events"
	"github.com/taskquorum/api/internal/repository"
)

// Service orchestrates task management: creation under the assignment
// policy, quorum completion, deletion and the read-only query surface.
type Service struct {
	tasks     repository.TaskRepository
	users     repository.UserRepository
	eventRepo repository.EventRepository
	publisher events.Publisher
	logger    *slog.Logger
}

// New returns a task service.
func New(tasks repository.TaskRepository, users repository.UserRepository, eventRepo repository.EventRepository, publisher events.Publisher, logger *slog.Logger) Service {
	return Service{tasks: tasks, users: users, eventRepo: eventRepo, publisher: publisher, logger: logger}
}

var (
	// ErrForbidden is returned when the caller may not delete the task.
	ErrForbidden = errors.New("task: operation not permitted")
	// ErrEmptyAssignment is returned when a task would end up with no
	// assignees.
	ErrEmptyAssignment = errors.New("task: assignee set must not be empty")

	errTitleRequired  = errors.New("task title is required")
	errPrefixRequired = errors.New("name prefix is required")
)

// Dashboard aggregates the per-user view: assigned tasks, completion
// percentage and the assignable users.
type Dashboard struct {
	Tasks   []domain.Task
	Percent int
	Users   []domain.User
}

// Create registers a task. The final assignee set comes from
// ResolveAssignment, never from the submitted list directly.
func (s Service) Create(ctx context.Context, sess domain.Session, title string, submittedAssignees []string) (*domain.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errTitleRequired
	}
	assignees := ResolveAssignment(sess.Role, sess.UserID, submittedAssignees)
	if len(assignees) == 0 {
		return nil, ErrEmptyAssignment
	}
	t := &domain.Task{
		ID:            uuid.NewString(),
		Title:         title,
		CreatorID:     sess.UserID,
		AssignedUsers: assignees,
		CompletedBy:   []string{},
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.tasks.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("task created", "task_id", t.ID, "creator_id", t.CreatorID, "assignees", len(assignees))
	s.publish(ctx, events.TaskEvent{
		Type:       events.TypeTaskCreated,
		TaskID:     t.ID,
		Title:      t.Title,
		ActorID:    sess.UserID,
		OccurredAt: t.CreatedAt,
	})
	return t, nil
}

// MarkComplete records the caller's completion of the task. Repeated calls
// by the same user leave the task unchanged.
func (s Service) MarkComplete(ctx context.Context, sess domain.Session, taskID string) (*domain.Task, error) {
	t, becameDone, err := s.tasks.MarkComplete(ctx, taskID, sess.UserID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if becameDone {
		s.logger.Info("task fully completed", "task_id", t.ID, "done_at", t.DoneAt)
		s.publish(ctx, events.TaskEvent{
			Type:       events.TypeTaskCompleted,
			TaskID:     t.ID,
			Title:      t.Title,
			ActorID:    sess.UserID,
			OccurredAt: *t.DoneAt,
		})
	}
	return t, nil
}

// Delete removes a task. Only the creator or an admin may delete.
func (s Service) Delete(ctx context.Context, sess domain.Session, taskID string) error {
	t, err := s.tasks.GetTaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if sess.Role != domain.RoleAdmin && t.CreatorID != sess.UserID {
		return ErrForbidden
	}
	if err := s.tasks.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.logger.Info("task deleted", "task_id", taskID, "actor_id", sess.UserID)
	s.publish(ctx, events.TaskEvent{
		Type:       events.TypeTaskDeleted,
		TaskID:     taskID,
		Title:      t.Title,
		ActorID:    sess.UserID,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// Get returns a task by identifier.
func (s Service) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.tasks.GetTaskByID(ctx, taskID)
}

// DashboardFor builds the home view for the session user.
func (s Service) DashboardFor(ctx context.Context, sess domain.Session) (*Dashboard, error) {
	assigned, err := s.tasks.ListTasksAssignedTo(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	assignable, err := s.AssignableUsers(ctx)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Tasks: assigned, Percent: Progress(assigned), Users: assignable}, nil
}

// AssignableUsers lists the accounts tasks can be assigned to.
func (s Service) AssignableUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsersByRole(ctx, domain.RoleNormal)
}

// ListAll returns every task with creator attributes.
func (s Service) ListAll(ctx context.Context) ([]domain.TaskWithCreator, error) {
	return s.tasks.ListTasks(ctx)
}

// ListByUsername returns tasks created by the named user. An unknown
// username yields an empty list, matching the public API contract.
func (s Service) ListByUsername(ctx context.Context, username string) ([]domain.Task, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return []domain.Task{}, nil
		}
		return nil, err
	}
	return s.tasks.ListTasksByCreator(ctx, user.ID)
}

// ListToday returns tasks created within the current UTC day.
func (s Service) ListToday(ctx context.Context, now time.Time) ([]domain.Task, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.tasks.ListTasksCreatedBetween(ctx, dayStart, dayStart.Add(24*time.Hour))
}

// ListUnfinished returns tasks that are not yet done.
func (s Service) ListUnfinished(ctx context.Context) ([]domain.Task, error) {
	return s.tasks.ListUnfinishedTasks(ctx)
}

// SearchByCreatorName returns tasks whose creator's full name starts with
// the prefix, case-insensitively.
func (s Service) SearchByCreatorName(ctx context.Context, prefix string) ([]domain.Task, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errPrefixRequired
	}
	return s.tasks.ListTasksByCreatorNamePrefix(ctx, prefix)
}

// Events returns the audit trail recorded for a task.
func (s Service) Events(ctx context.Context, taskID string, limit int) ([]domain.TaskEvent, error) {
	return s.eventRepo.ListTaskEvents(ctx, taskID, limit)
}

// publish sends the event best-effort; a broker outage must not fail the
// request that produced the transition.
func (s Service) publish(ctx context.Context, event events.TaskEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTaskEvent(ctx, event); err != nil {
		s.logger.Warn("task event publish failed", "type", event.Type, "task_id", event.TaskID, "error", err)
	}
}
