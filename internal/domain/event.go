package domain

import (
	"encoding/json"
	"time"
)

// TaskEvent is an audit record of a task lifecycle transition, written by
// the worker from the event queue.
type TaskEvent struct {
	ID         int64
	TaskID     string
	EventType  string
	ActorID    string
	Payload    json.RawMessage
	OccurredAt time.Time
	RecordedAt time.Time
}
