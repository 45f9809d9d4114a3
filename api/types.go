package api

import (
	"context"

	"todo-api/domain"
)

// Todos is the task directory served by the handlers.
type Todos interface {
	Get(ctx context.Context, id int64) (domain.Task, error)
	List(ctx context.Context) []domain.Task
	ListComplete(ctx context.Context) []domain.Task
	ListIncomplete(ctx context.Context) []domain.Task
	Create(ctx context.Context, fields domain.Patch) (domain.Task, error)
	Update(ctx context.Context, id int64, p domain.Patch) (domain.Task, error)
	Delete(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64) (domain.Task, error)
	Len() int
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper makes task creation idempotent per Idempotency-Key.
type Deduper interface {
	// Claim records the key and returns true if it was not seen before.
	Claim(ctx context.Context, key string) (bool, error)
	// Resolve binds a claimed key to the id of the task it created.
	Resolve(ctx context.Context, key string, id int64) error
	// Lookup returns the task id bound to key; ok is false while unresolved.
	Lookup(ctx context.Context, key string) (id int64, ok bool, err error)
	// Release forgets a claimed key so the client may retry.
	Release(ctx context.Context, key string) error
}

// Publisher delivers change events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}
