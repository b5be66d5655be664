package bus

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// A namespace is a prefix of the event kind: a handler registered for
// "presence." receives "presence.user_online".
//
// Handlers registered with On run synchronously, in registration order, on
// the goroutine that calls Emit. A panicking handler is recovered so the
// remaining handlers still run. Channel subscribers created with Subscribe
// receive events non-blocking after all handlers have run.
type Bus struct {
	mu       sync.RWMutex
	handlers []*handler
	subs     map[int]*subscription
	next     int
	logger   *zap.Logger
}

type handler struct {
	id        int
	namespace string
	fn        func(Event)
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus. The logger may be nil.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]*subscription),
		logger: logger,
	}
}

// On registers a handler for all events whose kind matches the namespace
// prefix. Returns a cancel function that unregisters the handler.
func (b *Bus) On(namespace string, fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers = append(b.handlers, &handler{id: id, namespace: namespace, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to every matching handler in registration order,
// then to matching channel subscribers.
func (b *Bus) Emit(evt Event) {
	b.mu.RLock()
	matched := make([]*handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		if strings.HasPrefix(evt.Kind, h.namespace) {
			matched = append(matched, h)
		}
	}
	chans := make([]chan Event, 0, len(b.subs))
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			chans = append(chans, sub.ch)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		b.dispatch(h, evt)
	}
	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
			// Drop event if subscriber is full (non-blocking).
		}
	}
}

func (b *Bus) dispatch(h *handler, evt Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", evt.Kind),
				zap.Any("panic", r),
			)
		}
	}()
	h.fn(evt)
}

// Subscribe returns a channel that receives events matching the given
// namespace prefix. bufSize controls the channel buffer. Returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
