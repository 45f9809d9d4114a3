package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Directory owns the in-memory task list and the id counter. Every read is
// served from memory; every mutation is persisted to the store before the
// in-memory state changes, so a failed write leaves the directory untouched.
type Directory struct {
	store    Store
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time

	mu      sync.RWMutex
	todos   []*Task
	counter int64
}

// Option configures a Directory.
type Option func(*Directory)

// WithNotifier registers a receiver for change events.
func WithNotifier(n Notifier) Option {
	return func(d *Directory) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithLogger sets the logger used for directory diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDirectory loads every task and the counter from the store.
func NewDirectory(ctx context.Context, store Store, opts ...Option) (*Directory, error) {
	if store == nil {
		panic("domain.NewDirectory: store is nil")
	}
	d := &Directory{
		store:    store,
		notifier: nopNotifier{},
		logger:   log.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	tasks, err := store.ScanTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	counter, ok, err := store.ScanCounter(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan counter: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	d.todos = make([]*Task, 0, len(tasks))
	for i := range tasks {
		t := tasks[i]
		d.todos = append(d.todos, &t)
	}

	// A lost or stale counter must never hand out an id that is already taken.
	d.counter = counter
	if n := len(d.todos); n > 0 {
		if floor := d.todos[n-1].ID + 1; !ok || counter < floor {
			d.logger.WithFields(log.Fields{
				"persisted": counter,
				"found":     ok,
				"floor":     floor,
			}).Warn("counter behind stored tasks, advancing")
			d.counter = floor
		}
	}

	d.logger.WithFields(log.Fields{"tasks": len(d.todos), "next_id": d.counter}).Info("directory loaded")
	return d, nil
}

// Get returns the task with the given id.
func (d *Directory) Get(ctx context.Context, id int64) (Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, _, err := d.lookup(id)
	if err != nil {
		return Task{}, err
	}
	return *t, nil
}

// List returns every task in list order.
func (d *Directory) List(ctx context.Context) []Task {
	return d.filter(func(*Task) bool { return true })
}

// ListComplete returns the completed tasks in list order.
func (d *Directory) ListComplete(ctx context.Context) []Task {
	return d.filter(func(t *Task) bool { return t.Complete })
}

// ListIncomplete returns the tasks not yet completed in list order.
func (d *Directory) ListIncomplete(ctx context.Context) []Task {
	return d.filter(func(t *Task) bool { return !t.Complete })
}

// Len reports the number of tasks held.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.todos)
}

// NextID reports the id the next create will receive.
func (d *Directory) NextID() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counter
}

// Create stores a new task built from fields. Complete is always false.
func (d *Directory) Create(ctx context.Context, fields Patch) (Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.allocateID(ctx)
	if err != nil {
		return Task{}, err
	}
	t := &Task{ID: id}
	fields.Complete = nil
	fields.Apply(t)

	if err := d.store.InsertTask(ctx, *t); err != nil {
		return Task{}, fmt.Errorf("insert todo %d: %w", id, err)
	}
	d.todos = append(d.todos, t)

	out := *t
	d.emit(TodoCreated, id, &out)
	return out, nil
}

// Update overwrites the fields present in p on the task with the given id.
// Completion state is owned by Complete and is never changed here.
func (d *Directory) Update(ctx context.Context, id int64, p Patch) (Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, _, err := d.lookup(id)
	if err != nil {
		return Task{}, err
	}
	p.Complete = nil
	if p.Empty() {
		return *t, nil
	}
	if err := d.store.UpdateTask(ctx, id, p); err != nil {
		return Task{}, fmt.Errorf("update todo %d: %w", id, err)
	}
	p.Apply(t)

	out := *t
	d.emit(TodoUpdated, id, &out)
	return out, nil
}

// Delete removes the task with the given id.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, idx, err := d.lookup(id)
	if err != nil {
		return err
	}
	if err := d.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete todo %d: %w", id, err)
	}
	d.todos = append(d.todos[:idx], d.todos[idx+1:]...)

	d.emit(TodoDeleted, id, nil)
	return nil
}

// Complete marks the task with the given id as complete. Completing a task
// twice fails with ErrAlreadyComplete.
func (d *Directory) Complete(ctx context.Context, id int64) (Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, _, err := d.lookup(id)
	if err != nil {
		return Task{}, err
	}
	if t.Complete {
		return Task{}, fmt.Errorf("todo %d: %w", id, ErrAlreadyComplete)
	}
	done := true
	if err := d.store.UpdateTask(ctx, id, Patch{Complete: &done}); err != nil {
		return Task{}, fmt.Errorf("complete todo %d: %w", id, err)
	}
	t.Complete = true

	out := *t
	d.emit(TodoCompleted, id, &out)
	return out, nil
}

// allocateID persists the post-increment counter and returns the
// pre-increment value. Callers must hold the write lock.
func (d *Directory) allocateID(ctx context.Context) (int64, error) {
	next := d.counter + 1
	if err := d.store.UpsertCounter(ctx, next); err != nil {
		return 0, fmt.Errorf("upsert counter: %w", err)
	}
	id := d.counter
	d.counter = next
	return id, nil
}

func (d *Directory) lookup(id int64) (*Task, int, error) {
	for i, t := range d.todos {
		if t.ID == id {
			return t, i, nil
		}
	}
	return nil, -1, fmt.Errorf("todo %d: %w", id, ErrNotFound)
}

func (d *Directory) filter(keep func(*Task) bool) []Task {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Task, 0, len(d.todos))
	for _, t := range d.todos {
		if keep(t) {
			out = append(out, *t)
		}
	}
	return out
}

func (d *Directory) emit(typ string, id int64, t *Task) {
	d.notifier.Notify(Event{Type: typ, TaskID: id, Task: t, Time: d.now().UTC()})
}
