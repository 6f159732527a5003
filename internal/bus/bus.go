// Package bus provides an in-process publish/subscribe channel for
// lifecycle events.
package bus

import (
	"log/slog"
	"sync"

	"github.com/tathienbao/exec-core/internal/types"
)

// DefaultRingSize bounds the retained event history.
const DefaultRingSize = 1000

// Handler consumes a single event. Handlers run synchronously on the
// publisher's goroutine; a panicking handler is recovered and logged and
// never blocks delivery to other subscribers.
type Handler func(types.Event)

// Bus is an injected pub/sub component. It is never a package-level
// singleton so tests can run isolated buses.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	subs     map[types.EventType][]Handler
	wildcard []Handler

	ring  []types.Event
	head  int
	count int
}

// New creates a bus with the given ring buffer capacity. A capacity of
// zero or less falls back to DefaultRingSize.
func New(ringSize int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Bus{
		logger: logger,
		subs:   make(map[types.EventType][]Handler),
		ring:   make([]types.Event, ringSize),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t types.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a wildcard handler receiving every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, h)
}

// Publish records the event in the ring buffer, then delivers it
// synchronously to all current subscribers of its type plus wildcard
// subscribers. Recording first means a handler that reads Recent during
// dispatch sees the event it is handling.
func (b *Bus) Publish(ev types.Event) {
	b.mu.Lock()
	b.ring[b.head] = ev
	b.head = (b.head + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
	handlers := make([]Handler, 0, len(b.subs[ev.Type])+len(b.wildcard))
	handlers = append(handlers, b.subs[ev.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
}

// dispatch invokes one handler, isolating panics.
func (b *Bus) dispatch(h Handler, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", ev.Type,
				"order_id", ev.OrderID,
				"panic", r,
			)
		}
	}()
	h(ev)
}

// Recent returns up to n of the most recent events, oldest first, for
// late-attaching consumers such as a dashboard poller.
func (b *Bus) Recent(n int) []types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	out := make([]types.Event, 0, n)
	start := (b.head - n + len(b.ring)) % len(b.ring)
	for i := 0; i < n; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

// Len returns the number of buffered events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
