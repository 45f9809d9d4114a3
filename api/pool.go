package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// DispatcherConfig sizes the event dispatcher.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

// EventDispatcher hands directory events to a pool of workers that publish
// them. It implements domain.Notifier and never blocks the caller for longer
// than the handoff timeout.
type EventDispatcher struct {
	cfg       DispatcherConfig
	publisher Publisher
	logger    *log.Logger

	mu      sync.RWMutex
	closed  bool
	jobs    chan domain.Event
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewEventDispatcher starts cfg.Workers goroutines publishing to publisher.
func NewEventDispatcher(publisher Publisher, cfg DispatcherConfig, logger *log.Logger) *EventDispatcher {
	if publisher == nil {
		panic("api.NewEventDispatcher: publisher is nil")
	}
	if logger == nil {
		panic("api.NewEventDispatcher: logger is nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	d := &EventDispatcher{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		jobs:      make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.PublishTimeout, cfg.HandoffTimeout)
	return d
}

// Notify queues ev for publishing, dropping it when the pool is saturated.
func (d *EventDispatcher) Notify(ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.jobs <- ev:
		return
	default:
	}

	if d.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(d.cfg.HandoffTimeout)
		defer timer.Stop()
		select {
		case d.jobs <- ev:
			return
		case <-timer.C:
		}
	}

	d.dropped.Add(1)
	d.logger.WithFields(log.Fields{"type": ev.Type, "task": ev.TaskID}).Warn("event buffer saturated; dropping event")
}

// Dropped reports how many events were discarded because the pool was full.
func (d *EventDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be published.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *EventDispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := d.publisher.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.logger.WithError(err).Errorf("event publish failed, type: %s, task: %d, worker: %d", ev.Type, ev.TaskID, id)
		}
	}
}
