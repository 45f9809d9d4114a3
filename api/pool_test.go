package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"todo-api/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	block  chan struct{}
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestEventDispatcherPublishesAndDrains(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := &recordingPublisher{}
	d := NewEventDispatcher(pub, DispatcherConfig{Workers: 2, Buffer: 16, PublishTimeout: time.Second}, logger)

	for i := 0; i < 10; i++ {
		d.Notify(domain.Event{Type: domain.TodoCreated, TaskID: int64(i)})
	}
	d.Close()

	if got := pub.count(); got != 10 {
		t.Fatalf("expected 10 published events, got %d", got)
	}
}

func TestEventDispatcherDropsWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pub := &recordingPublisher{block: make(chan struct{})}
	d := NewEventDispatcher(pub, DispatcherConfig{
		Workers:        1,
		Buffer:         1,
		PublishTimeout: time.Second,
		HandoffTimeout: 10 * time.Millisecond,
	}, logger)

	// one event held by the worker, one in the buffer, the third is dropped
	d.Notify(domain.Event{Type: domain.TodoCreated, TaskID: 0})
	time.Sleep(20 * time.Millisecond)
	d.Notify(domain.Event{Type: domain.TodoCreated, TaskID: 1})

	start := time.Now()
	d.Notify(domain.Event{Type: domain.TodoCreated, TaskID: 2})
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Fatalf("notify blocked for %v", waited)
	}

	close(pub.block)
	d.Close()

	if got := pub.count(); got != 2 {
		t.Fatalf("expected 2 published events, got %d", got)
	}
	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped event, got %d", got)
	}
	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "event buffer saturated; dropping event" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a drop warning")
	}
}

func TestEventDispatcherNotifyAfterClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := &recordingPublisher{}
	d := NewEventDispatcher(pub, DispatcherConfig{Workers: 1, Buffer: 1}, logger)
	d.Close()
	d.Close()

	d.Notify(domain.Event{Type: domain.TodoDeleted})
	if got := pub.count(); got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}

func TestEventDispatcherLogsPublishErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pub := &recordingPublisher{err: errors.New("queue down")}
	d := NewEventDispatcher(pub, DispatcherConfig{Workers: 1, Buffer: 4}, logger)

	d.Notify(domain.Event{Type: domain.TodoUpdated, TaskID: 3})
	d.Close()

	entry := hook.LastEntry()
	if entry == nil || entry.Data["error"] == nil {
		t.Fatalf("expected publish error to be logged, got %#v", entry)
	}
}

func TestEventDispatcherWithDirectory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := &recordingPublisher{}
	d := NewEventDispatcher(pub, DispatcherConfig{Workers: 1, Buffer: 8}, logger)

	dir, err := domain.NewDirectory(context.Background(), newMemStore(), domain.WithNotifier(d), domain.WithLogger(logger))
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	task := "x"
	created, err := dir.Create(context.Background(), domain.Patch{Task: &task})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := dir.Complete(context.Background(), created.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	d.Close()

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].Type != domain.TodoCreated || pub.events[1].Type != domain.TodoCompleted {
		t.Fatalf("unexpected event types: %s, %s", pub.events[0].Type, pub.events[1].Type)
	}
}
