package domain

import "context"

// CounterKey identifies the singleton counter document in every backend.
const CounterKey = "counter"

// Store is the persistence boundary of the directory.
type Store interface {
	// ScanTasks returns every persisted task in no particular order.
	ScanTasks(ctx context.Context) ([]Task, error)
	// ScanCounter returns the last persisted counter value, ok is false when none exists.
	ScanCounter(ctx context.Context) (value int64, ok bool, err error)
	InsertTask(ctx context.Context, t Task) error
	// UpdateTask merges p into the stored task. A missing id is not an error.
	UpdateTask(ctx context.Context, id int64, p Patch) error
	DeleteTask(ctx context.Context, id int64) error
	UpsertCounter(ctx context.Context, value int64) error
}
