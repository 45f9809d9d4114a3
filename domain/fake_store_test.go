package domain

import (
	"context"
	"errors"
	"sync"
)

var errStoreDown = errors.New("store down")

type fakeStore struct {
	mu         sync.Mutex
	tasks      map[int64]Task
	counter    int64
	hasCounter bool

	failInsert  bool
	failUpdate  bool
	failDelete  bool
	failCounter bool
	failScan    bool

	inserts  int
	updates  []Patch
	deletes  []int64
	counters []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[int64]Task{}}
}

func (f *fakeStore) ScanTasks(ctx context.Context) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failScan {
		return nil, errStoreDown
	}
	out := make([]Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) ScanCounter(ctx context.Context) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failScan {
		return 0, false, errStoreDown
	}
	return f.counter, f.hasCounter, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return errStoreDown
	}
	f.inserts++
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id int64, p Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate {
		return errStoreDown
	}
	f.updates = append(f.updates, p)
	t, ok := f.tasks[id]
	if !ok {
		return nil
	}
	p.Apply(&t)
	f.tasks[id] = t
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errStoreDown
	}
	f.deletes = append(f.deletes, id)
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) UpsertCounter(ctx context.Context, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCounter {
		return errStoreDown
	}
	f.counter = value
	f.hasCounter = true
	f.counters = append(f.counters, value)
	return nil
}

func (f *fakeStore) task(id int64) (Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return t, ok
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
