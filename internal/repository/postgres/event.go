package postgres

import (
	"context"

	"github.com/taskquorum/api/internal/domain"
)

// InsertTaskEvent appends an audit record. Events intentionally carry no
// foreign key so the trail survives task deletion.
func (r *Repository) InsertTaskEvent(ctx context.Context, event *domain.TaskEvent) error {
	const query = `INSERT INTO task_events (task_id, event_type, actor_id, payload, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	return r.pool.QueryRow(ctx, query,
		event.TaskID,
		event.EventType,
		event.ActorID,
		event.Payload,
		event.OccurredAt,
		event.RecordedAt,
	).Scan(&event.ID)
}

// ListTaskEvents returns the newest audit records for a task.
func (r *Repository) ListTaskEvents(ctx context.Context, taskID string, limit int) ([]domain.TaskEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, task_id, event_type, actor_id, payload, occurred_at, recorded_at
		FROM task_events WHERE task_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.TaskEvent, 0)
	for rows.Next() {
		var e domain.TaskEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.EventType, &e.ActorID, &e.Payload, &e.OccurredAt, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
