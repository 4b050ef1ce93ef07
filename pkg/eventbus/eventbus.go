package eventbus

import (
	"sync"
)

// Handler is a function that handles an event of type T.
type Handler[T any] func(event T)

// EventBus provides in-process pub/sub for a single event type.
type EventBus[T any] struct {
	mu       sync.RWMutex
	handlers []Handler[T]
	wg       sync.WaitGroup
}

// New creates a new EventBus.
func New[T any]() *EventBus[T] {
	return &EventBus[T]{}
}

// Subscribe registers a handler. Handlers registered after a Publish do not
// see that event.
func (e *EventBus[T]) Subscribe(handler Handler[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// Publish delivers event to every subscriber, each on its own goroutine.
func (e *EventBus[T]) Publish(event T) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, h := range e.handlers {
		e.wg.Add(1)
		go func(h Handler[T]) {
			defer e.wg.Done()
			h(event)
		}(h)
	}
}

// PublishSync delivers event to every subscriber in registration order.
func (e *EventBus[T]) PublishSync(event T) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, h := range e.handlers {
		h(event)
	}
}

// Wait blocks until all asynchronously delivered events have been handled.
// Call it during shutdown so in-flight notifications are not dropped.
func (e *EventBus[T]) Wait() {
	e.wg.Wait()
}

// SubscriberCount returns the number of registered handlers.
func (e *EventBus[T]) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
