// Package messaging carries domain events between components and sends
// outbound notifications with a retry policy.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antbot/course-bot/internal/domain/shared"
	"github.com/antbot/course-bot/pkg/logger"
)

// ErrEventBusClosed is returned by Publish and Subscribe after Close.
var ErrEventBusClosed = errors.New("event bus is closed")

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus is an in-process implementation of shared.EventBus.
// In async mode every handler runs on a bounded worker pool so a slow
// notification never blocks the publisher.
type InMemoryEventBus struct {
	mu             sync.RWMutex
	handlers       map[shared.EventType][]shared.EventHandler
	asyncMode      bool
	workerPool     chan struct{}
	handlerTimeout time.Duration
	logger         *slog.Logger
	metrics        EventBusMetrics
	closed         bool
	closeCh        chan struct{}
	wg             sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode enables asynchronous event processing
	AsyncMode bool

	// WorkerPoolSize is the number of concurrent workers for async processing
	WorkerPoolSize int

	// HandlerTimeout bounds one handler call. It must cover the
	// dispatcher's retries (3 attempts, 5s apart by default).
	HandlerTimeout time.Duration

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		HandlerTimeout: 2 * time.Minute,
	}
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 2 * time.Minute
	}

	return &InMemoryEventBus{
		handlers:       make(map[shared.EventType][]shared.EventHandler),
		asyncMode:      config.AsyncMode,
		workerPool:     make(chan struct{}, config.WorkerPoolSize),
		handlerTimeout: config.HandlerTimeout,
		logger:         config.Logger.With(logger.Component("eventbus")),
		closeCh:        make(chan struct{}),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)

	return nil
}

// Publish sends an event to all subscribed handlers. Handler errors are
// logged and never returned to the publisher.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := append([]shared.EventHandler(nil), b.handlers[event.EventType()]...)
	if b.asyncMode {
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	b.metrics.published.Add(1)

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	for _, handler := range handlers {
		if b.asyncMode {
			go b.executeAsync(event, handler)
			continue
		}
		b.execute(event, handler)
	}

	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	defer b.wg.Done()

	select {
	case b.workerPool <- struct{}{}:
		defer func() { <-b.workerPool }()
	case <-b.closeCh:
		b.metrics.dropped.Add(1)
		b.logger.Warn("event dropped on shutdown", "event_type", event.EventType())
		return
	}

	b.execute(event, handler)
}

func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()

	start := time.Now()
	err := safeHandle(ctx, handler, event)
	duration := time.Since(start)

	if err != nil {
		b.metrics.failed.Add(1)
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"duration", duration,
			logger.Err(err),
		)
		return
	}
	b.metrics.handled.Add(1)
}

func safeHandle(ctx context.Context, handler shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Wait blocks until every handler started so far has finished.
func (b *InMemoryEventBus) Wait() {
	b.wg.Wait()
}

// Close stops accepting events and waits for running handlers.
// Handlers still waiting for a worker slot are dropped.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()

	b.logger.Info("event bus closed",
		"published", b.metrics.published.Load(),
		"failed", b.metrics.failed.Load(),
		"dropped", b.metrics.dropped.Load(),
	)
	return nil
}

// Metrics returns a snapshot of the bus counters.
func (b *InMemoryEventBus) Metrics() EventBusSnapshot {
	return b.metrics.snapshot()
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts bus activity.
type EventBusMetrics struct {
	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// EventBusSnapshot is a point-in-time copy of EventBusMetrics.
type EventBusSnapshot struct {
	Published int64 `json:"published"`
	Handled   int64 `json:"handled"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

func (m *EventBusMetrics) snapshot() EventBusSnapshot {
	return EventBusSnapshot{
		Published: m.published.Load(),
		Handled:   m.handled.Load(),
		Failed:    m.failed.Load(),
		Dropped:   m.dropped.Load(),
	}
}
