package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/taskquorum/api/internal/domain"
	"github.com/taskquorum/api/internal/events"
	"github.com/taskquorum/api/internal/repository"
)

type taskRepoStub struct {
	mu               sync.Mutex
	created          []*domain.Task
	createErr        error
	tasksByID        map[string]domain.Task
	deleted          []string
	markCompleteTask *domain.Task
	markCompleteFlip bool
	markCompleteErr  error
}

func newTaskRepoStub() *taskRepoStub {
	return &taskRepoStub{tasksByID: make(map[string]domain.Task)}
}

func (s *taskRepoStub) CreateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copied := *task
	s.created = append(s.created, &copied)
	s.tasksByID[task.ID] = copied
	return nil
}

func (s *taskRepoStub) GetTaskByID(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasksByID[id]; ok {
		return &task, nil
	}
	return nil, repository.ErrNotFound
}

func (s *taskRepoStub) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	delete(s.tasksByID, id)
	return nil
}

func (s *taskRepoStub) MarkComplete(_ context.Context, taskID, userID string, now time.Time) (*domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markCompleteErr != nil {
		return nil, false, s.markCompleteErr
	}
	task := *s.markCompleteTask
	return &task, s.markCompleteFlip, nil
}

func (s *taskRepoStub) ListTasksAssignedTo(_ context.Context, userID string) ([]domain.Task, error) {
	return nil, nil
}

func (s *taskRepoStub) ListTasks(_ context.Context) ([]domain.TaskWithCreator, error) {
	return nil, nil
}

func (s *taskRepoStub) ListTasksByCreator(_ context.Context, creatorID string) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, task := range s.tasksByID {
		if task.CreatorID == creatorID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *taskRepoStub) ListTasksCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Task, error) {
	return nil, nil
}

func (s *taskRepoStub) ListUnfinishedTasks(_ context.Context) ([]domain.Task, error) {
	return nil, nil
}

func (s *taskRepoStub) ListTasksByCreatorNamePrefix(_ context.Context, prefix string) ([]domain.Task, error) {
	return nil, nil
}

type userRepoStub struct {
	usersByName map[string]domain.User
}

func (s *userRepoStub) CreateUser(_ context.Context, user *domain.User) error { return nil }

func (s *userRepoStub) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	if user, ok := s.usersByName[username]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) ListUsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	return nil, nil
}

type eventRepoStub struct{}

func (eventRepoStub) InsertTaskEvent(_ context.Context, event *domain.TaskEvent) error { return nil }
func (eventRepoStub) ListTaskEvents(_ context.Context, taskID string, limit int) ([]domain.TaskEvent, error) {
	return nil, nil
}

type publisherStub struct {
	mu        sync.Mutex
	published []events.TaskEvent
	err       error
}

func (p *publisherStub) PublishTaskEvent(_ context.Context, event events.TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func (p *publisherStub) Close() error { return nil }

func (p *publisherStub) events() []events.TaskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.TaskEvent, len(p.published))
	copy(out, p.published)
	return out
}

func newTestService(repo *taskRepoStub, users *userRepoStub, publisher *publisherStub) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if users == nil {
		users = &userRepoStub{}
	}
	return New(repo, users, eventRepoStub{}, publisher, log)
}

func TestCreateNormalUserAlwaysSelfAssigned(t *testing.T) {
	repo := newTaskRepoStub()
	publisher := &publisherStub{}
	svc := newTestService(repo, nil, publisher)

	sess := domain.Session{UserID: "user-1", Role: domain.RoleNormal}
	created, err := svc.Create(context.Background(), sess, "  write report  ", []string{"user-2", "user-3"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Title != "write report" {
		t.Fatalf("expected trimmed title, got %q", created.Title)
	}
	if len(created.AssignedUsers) != 1 || created.AssignedUsers[0] != "user-1" {
		t.Fatalf("expected creator-only assignment, got %v", created.AssignedUsers)
	}
	if created.IsDone || created.DoneAt != nil {
		t.Fatalf("new task must not be done: %+v", created)
	}
	published := publisher.events()
	if len(published) != 1 || published[0].Type != events.TypeTaskCreated {
		t.Fatalf("expected one created event, got %v", published)
	}
	if published[0].TaskID != created.ID {
		t.Fatalf("event references wrong task: %q", published[0].TaskID)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	svc := newTestService(newTaskRepoStub(), nil, &publisherStub{})
	sess := domain.Session{UserID: "user-1", Role: domain.RoleNormal}
	if _, err := svc.Create(context.Background(), sess, "   ", nil); !errors.Is(err, errTitleRequired) {
		t.Fatalf("expected errTitleRequired, got %v", err)
	}
}

func TestCreateAdminUsesSubmittedAssignees(t *testing.T) {
	repo := newTaskRepoStub()
	svc := newTestService(repo, nil, &publisherStub{})

	sess := domain.Session{UserID: "admin-1", Role: domain.RoleAdmin}
	created, err := svc.Create(context.Background(), sess, "ship release", []string{"user-2", "user-2", "user-3"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(created.AssignedUsers) != 2 {
		t.Fatalf("expected deduplicated assignees, got %v", created.AssignedUsers)
	}
}

func TestMarkCompletePublishesOnlyOnDoneTransition(t *testing.T) {
	doneAt := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	repo := newTaskRepoStub()
	repo.markCompleteTask = &domain.Task{
		ID:            "task-1",
		Title:         "ship release",
		AssignedUsers: []string{"user-1"},
		CompletedBy:   []string{"user-1"},
		IsDone:        true,
		DoneAt:        &doneAt,
	}
	publisher := &publisherStub{}
	svc := newTestService(repo, nil, publisher)
	sess := domain.Session{UserID: "user-1", Role: domain.RoleNormal}

	repo.markCompleteFlip = false
	if _, err := svc.MarkComplete(context.Background(), sess, "task-1"); err != nil {
		t.Fatalf("MarkComplete returned error: %v", err)
	}
	if len(publisher.events()) != 0 {
		t.Fatalf("expected no event without a done transition")
	}

	repo.markCompleteFlip = true
	updated, err := svc.MarkComplete(context.Background(), sess, "task-1")
	if err != nil {
		t.Fatalf("MarkComplete returned error: %v", err)
	}
	if !updated.IsDone {
		t.Fatalf("expected done task, got %+v", updated)
	}
	published := publisher.events()
	if len(published) != 1 || published[0].Type != events.TypeTaskCompleted {
		t.Fatalf("expected one completed event, got %v", published)
	}
	if !published[0].OccurredAt.Equal(doneAt) {
		t.Fatalf("completed event should carry done_at, got %v", published[0].OccurredAt)
	}
}

func TestMarkCompletePropagatesNotAssigned(t *testing.T) {
	repo := newTaskRepoStub()
	repo.markCompleteErr = repository.ErrNotAssigned
	svc := newTestService(repo, nil, &publisherStub{})
	sess := domain.Session{UserID: "user-9", Role: domain.RoleNormal}

	if _, err := svc.MarkComplete(context.Background(), sess, "task-1"); !errors.Is(err, repository.ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestDeleteRequiresCreatorOrAdmin(t *testing.T) {
	repo := newTaskRepoStub()
	repo.tasksByID["task-1"] = domain.Task{ID: "task-1", Title: "ship release", CreatorID: "user-1"}
	publisher := &publisherStub{}
	svc := newTestService(repo, nil, publisher)

	other := domain.Session{UserID: "user-2", Role: domain.RoleNormal}
	if err := svc.Delete(context.Background(), other, "task-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(repo.deleted) != 0 {
		t.Fatalf("task must not be deleted on forbidden access")
	}

	admin := domain.Session{UserID: "admin-1", Role: domain.RoleAdmin}
	if err := svc.Delete(context.Background(), admin, "task-1"); err != nil {
		t.Fatalf("admin delete returned error: %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != "task-1" {
		t.Fatalf("expected task-1 deleted, got %v", repo.deleted)
	}
	published := publisher.events()
	if len(published) != 1 || published[0].Type != events.TypeTaskDeleted {
		t.Fatalf("expected one deleted event, got %v", published)
	}
}

func TestListByUsernameUnknownUserYieldsEmptyList(t *testing.T) {
	svc := newTestService(newTaskRepoStub(), &userRepoStub{}, &publisherStub{})
	tasks, err := svc.ListByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("ListByUsername returned error: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", tasks)
	}
}

func TestCreateSurvivesPublisherFailure(t *testing.T) {
	repo := newTaskRepoStub()
	publisher := &publisherStub{err: errors.New("broker down")}
	svc := newTestService(repo, nil, publisher)
	sess := domain.Session{UserID: "user-1", Role: domain.RoleNormal}

	if _, err := svc.Create(context.Background(), sess, "write report", nil); err != nil {
		t.Fatalf("Create must not fail on publish error, got %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected task persisted, got %d", len(repo.created))
	}
}
