package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/taskquorum/api/internal/domain"
	"github.com/taskquorum/api/internal/repository"
)

// taskSelect loads tasks with their assignee and completion sets
// aggregated into arrays.
const taskSelect = `SELECT t.id, t.title, t.creator_id, t.is_done, t.done_at, t.created_at,
		COALESCE(array_agg(DISTINCT a.user_id) FILTER (WHERE a.user_id IS NOT NULL), '{}') AS assigned,
		COALESCE(array_agg(DISTINCT c.user_id) FILTER (WHERE c.user_id IS NOT NULL), '{}') AS completed
	FROM tasks t
	LEFT JOIN task_assignees a ON a.task_id = t.id
	LEFT JOIN task_completions c ON c.task_id = t.id`

const taskGroupBy = ` GROUP BY t.id, t.title, t.creator_id, t.is_done, t.done_at, t.created_at`

// CreateTask inserts a task together with its assignee set in one
// transaction. Returns repository.ErrInvalidReference when the creator or
// any assignee does not exist.
func (r *Repository) CreateTask(ctx context.Context, task *domain.Task) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const taskInsert = `INSERT INTO tasks (id, title, creator_id, is_done, done_at, created_at)
		VALUES ($1, $2, $3, FALSE, NULL, $4)`
	if _, err := tx.Exec(ctx, taskInsert, task.ID, task.Title, task.CreatorID, task.CreatedAt); err != nil {
		return mapConstraintErr(err)
	}

	const assigneeInsert = `INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2)`
	batch := &pgx.Batch{}
	for _, userID := range task.AssignedUsers {
		batch.Queue(assigneeInsert, task.ID, userID)
	}
	br := tx.SendBatch(ctx, batch)
	for range task.AssignedUsers {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return mapConstraintErr(err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetTaskByID loads a single task with both user sets.
func (r *Repository) GetTaskByID(ctx context.Context, id string) (*domain.Task, error) {
	query := taskSelect + ` WHERE t.id = $1` + taskGroupBy
	row := r.pool.QueryRow(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task; assignee and completion rows cascade.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkComplete adds the user to the task's completion set and derives the
// done flag, all inside one transaction. The initial row lock serializes
// concurrent completions on the same task, so two assignees finishing at
// once cannot drop each other's completion or miss the final flip.
func (r *Repository) MarkComplete(ctx context.Context, taskID, userID string, now time.Time) (*domain.Task, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var isDone bool
	if err := tx.QueryRow(ctx, `SELECT is_done FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&isDone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, repository.ErrNotFound
		}
		return nil, false, err
	}

	var assigned bool
	const membership = `SELECT EXISTS (SELECT 1 FROM task_assignees WHERE task_id = $1 AND user_id = $2)`
	if err := tx.QueryRow(ctx, membership, taskID, userID).Scan(&assigned); err != nil {
		return nil, false, err
	}
	if !assigned {
		return nil, false, repository.ErrNotAssigned
	}

	// Idempotent set-add: repeating a completion has no observable effect.
	const completionInsert = `INSERT INTO task_completions (task_id, user_id, completed_at)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, completionInsert, taskID, userID, now); err != nil {
		return nil, false, err
	}

	// Flip done only when no assignee is missing a completion row, and at
	// most once (done_at stays at its first value).
	const doneUpdate = `UPDATE tasks SET is_done = TRUE, done_at = $2
		WHERE id = $1 AND NOT is_done AND NOT EXISTS (
			SELECT 1 FROM task_assignees a
			WHERE a.task_id = $1 AND NOT EXISTS (
				SELECT 1 FROM task_completions c
				WHERE c.task_id = $1 AND c.user_id = a.user_id))`
	tag, err := tx.Exec(ctx, doneUpdate, taskID, now)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	task, err := r.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	return task, tag.RowsAffected() > 0, nil
}

// ListTasksAssignedTo returns tasks where the user is an assignee, newest
// first.
func (r *Repository) ListTasksAssignedTo(ctx context.Context, userID string) ([]domain.Task, error) {
	query := taskSelect + ` WHERE t.id IN (SELECT task_id FROM task_assignees WHERE user_id = $1)` +
		taskGroupBy + ` ORDER BY t.created_at DESC`
	return r.queryTasks(ctx, query, userID)
}

// ListTasks returns every task with denormalized creator attributes.
func (r *Repository) ListTasks(ctx context.Context) ([]domain.TaskWithCreator, error) {
	query := `SELECT t.id, t.title, t.creator_id, t.is_done, t.done_at, t.created_at,
			COALESCE(array_agg(DISTINCT a.user_id) FILTER (WHERE a.user_id IS NOT NULL), '{}') AS assigned,
			COALESCE(array_agg(DISTINCT c.user_id) FILTER (WHERE c.user_id IS NOT NULL), '{}') AS completed,
			u.username, u.full_name
		FROM tasks t
		INNER JOIN users u ON u.id = t.creator_id
		LEFT JOIN task_assignees a ON a.task_id = t.id
		LEFT JOIN task_completions c ON c.task_id = t.id
		GROUP BY t.id, t.title, t.creator_id, t.is_done, t.done_at, t.created_at, u.username, u.full_name
		ORDER BY t.created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]domain.TaskWithCreator, 0)
	for rows.Next() {
		var (
			t      domain.Task
			doneAt *time.Time
			item   domain.TaskWithCreator
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatorID, &t.IsDone, &doneAt, &t.CreatedAt,
			&t.AssignedUsers, &t.CompletedBy, &item.CreatorUsername, &item.CreatorFullName); err != nil {
			return nil, err
		}
		t.DoneAt = doneAt
		item.Task = t
		tasks = append(tasks, item)
	}
	return tasks, rows.Err()
}

// ListTasksByCreator returns tasks created by the user, newest first.
func (r *Repository) ListTasksByCreator(ctx context.Context, creatorID string) ([]domain.Task, error) {
	query := taskSelect + ` WHERE t.creator_id = $1` + taskGroupBy + ` ORDER BY t.created_at DESC`
	return r.queryTasks(ctx, query, creatorID)
}

// ListTasksCreatedBetween returns tasks with created_at in [from, to).
func (r *Repository) ListTasksCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Task, error) {
	query := taskSelect + ` WHERE t.created_at >= $1 AND t.created_at < $2` +
		taskGroupBy + ` ORDER BY t.created_at DESC`
	return r.queryTasks(ctx, query, from, to)
}

// ListUnfinishedTasks returns tasks not yet done, newest first.
func (r *Repository) ListUnfinishedTasks(ctx context.Context) ([]domain.Task, error) {
	query := taskSelect + ` WHERE NOT t.is_done` + taskGroupBy + ` ORDER BY t.created_at DESC`
	return r.queryTasks(ctx, query)
}

// ListTasksByCreatorNamePrefix returns tasks whose creator's full name
// starts with the prefix, case-insensitively.
func (r *Repository) ListTasksByCreatorNamePrefix(ctx context.Context, prefix string) ([]domain.Task, error) {
	query := taskSelect + ` WHERE t.creator_id IN (SELECT id FROM users WHERE full_name ILIKE $1)` +
		taskGroupBy + ` ORDER BY t.created_at DESC`
	return r.queryTasks(ctx, query, escapeLike(prefix)+"%")
}

func (r *Repository) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t      domain.Task
		doneAt *time.Time
	)
	if err := row.Scan(&t.ID, &t.Title, &t.CreatorID, &t.IsDone, &doneAt, &t.CreatedAt,
		&t.AssignedUsers, &t.CompletedBy); err != nil {
		return nil, err
	}
	t.DoneAt = doneAt
	return &t, nil
}
