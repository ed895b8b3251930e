package domain

import "time"

// Task is a unit of work assigned to one or more users. It counts as done
// only once every assignee has marked it complete; DoneAt records the
// moment of that transition and is never updated afterwards.
type Task struct {
	ID            string
	Title         string
	CreatorID     string
	AssignedUsers []string
	CompletedBy   []string
	IsDone        bool
	DoneAt        *time.Time
	CreatedAt     time.Time
}

// IsAssignedTo reports whether the user belongs to the task's assignee set.
func (t Task) IsAssignedTo(userID string) bool {
	for _, id := range t.AssignedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// TaskWithCreator pairs a task with denormalized creator attributes for the
// read-only listing API.
type TaskWithCreator struct {
	Task
	CreatorUsername string
	CreatorFullName string
}
