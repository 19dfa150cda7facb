// Package eventbus provides the in-process event bus the router publishes
// turn lifecycle events on.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChannelEventBus is an implementation of EventBus using Go channels
type ChannelEventBus struct {
	// subscribers maps event types to subscription IDs to handlers
	subscribers map[EventType]map[string]EventHandler
	// allSubscribers receive every event regardless of type
	allSubscribers map[string]EventHandler

	queue chan envelope
	wg    sync.WaitGroup
	// mutex guards the subscriber maps
	mutex sync.RWMutex
	// lifecycle guards closed; Publish holds it for reading while sending
	// so Close never closes queue under a sender
	lifecycle sync.RWMutex
	closed    bool

	logger        *zap.Logger
	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
}

// envelope carries an event with the publisher's context values. The
// context is detached from cancellation so a finished turn does not drop
// its own completion events.
type envelope struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures the channel-based event bus
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

// WithWorkerCount sets the number of event processing workers
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// WithRetries configures the retry behavior for event handlers
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

// WithLogger sets the logger used to report handler failures
func WithLogger(logger *zap.Logger) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// NewChannelEventBus creates a new channel-based event bus and starts its workers
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		subscribers:    make(map[EventType]map[string]EventHandler),
		allSubscribers: make(map[string]EventHandler),
		logger:         zap.NewNop(),
		bufferSize:     100,
		workerCount:    2,
		maxRetries:     2,
		retryInterval:  50 * time.Millisecond,
	}

	for _, option := range options {
		option(eb)
	}
	if eb.workerCount < 1 {
		eb.workerCount = 1
	}
	if eb.bufferSize < 0 {
		eb.bufferSize = 0
	}

	eb.queue = make(chan envelope, eb.bufferSize)
	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *ChannelEventBus) worker() {
	defer eb.wg.Done()
	for env := range eb.queue {
		eb.dispatch(env)
	}
}

// dispatch hands the event to every matching subscriber. Handler maps are
// copied first so handlers may subscribe or unsubscribe without deadlock.
func (eb *ChannelEventBus) dispatch(env envelope) {
	eb.mutex.RLock()
	handlers := make([]EventHandler, 0, len(eb.subscribers[env.event.Type()])+len(eb.allSubscribers))
	for _, h := range eb.subscribers[env.event.Type()] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allSubscribers {
		handlers = append(handlers, h)
	}
	eb.mutex.RUnlock()

	for _, h := range handlers {
		eb.runHandler(env.ctx, env.event, h)
	}
}

func (eb *ChannelEventBus) runHandler(ctx context.Context, event Event, handler EventHandler) {
	var err error
	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if err = handler(ctx, event); err == nil {
			return
		}
		if attempt < eb.maxRetries {
			time.Sleep(eb.retryInterval)
		}
	}
	eb.logger.Warn("event handler failed",
		zap.String("event_type", string(event.Type())),
		zap.Int("retries", eb.maxRetries),
		zap.Error(err),
	)
}

// Publish queues an event. It fails if the bus is closed or ctx is done
// before the event could be queued.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	eb.lifecycle.RLock()
	defer eb.lifecycle.RUnlock()
	if eb.closed {
		return fmt.Errorf("event bus is closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case eb.queue <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	}
}

// Subscribe registers a handler for specific event types
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}

	if eb.isClosed() {
		return "", fmt.Errorf("event bus is closed")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	id := uuid.New().String()
	for _, t := range eventTypes {
		if _, ok := eb.subscribers[t]; !ok {
			eb.subscribers[t] = make(map[string]EventHandler)
		}
		eb.subscribers[t][id] = handler
	}
	return id, nil
}

// SubscribeAll registers a handler for all event types
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	if eb.isClosed() {
		return "", fmt.Errorf("event bus is closed")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	id := uuid.New().String()
	eb.allSubscribers[id] = handler
	return id, nil
}

// Unsubscribe removes a subscription by ID
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	if eb.isClosed() {
		return fmt.Errorf("event bus is closed")
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	delete(eb.allSubscribers, subscriptionID)
	for t, subs := range eb.subscribers {
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(eb.subscribers, t)
		}
	}
	return nil
}

// Close stops accepting events, lets the workers drain the queue and
// waits for them to exit. Closing twice is a no-op.
func (eb *ChannelEventBus) Close() error {
	eb.lifecycle.Lock()
	if eb.closed {
		eb.lifecycle.Unlock()
		return nil
	}
	eb.closed = true
	close(eb.queue)
	eb.lifecycle.Unlock()

	eb.wg.Wait()
	return nil
}

func (eb *ChannelEventBus) isClosed() bool {
	eb.lifecycle.RLock()
	defer eb.lifecycle.RUnlock()
	return eb.closed
}
