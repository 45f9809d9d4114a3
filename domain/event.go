package domain

import "time"

// Event types emitted after a successful mutation.
const (
	TodoCreated   = "todo-created"
	TodoUpdated   = "todo-updated"
	TodoDeleted   = "todo-deleted"
	TodoCompleted = "todo-completed"
)

// Event describes a change applied to the directory.
type Event struct {
	Type   string    `json:"type"`
	TaskID int64     `json:"taskId"`
	Task   *Task     `json:"task,omitempty"`
	Time   time.Time `json:"time"`
}

// Notifier receives change events. Implementations must not block.
type Notifier interface {
	Notify(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
