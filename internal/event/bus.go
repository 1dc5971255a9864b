package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// subscription represents a registered event handler.
type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a simple synchronous pub-sub event bus.
// Each session owns its own Bus; there is no process-wide instance.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64

	logger    *logging.Logger
	onFailure func(*errors.HandlerError)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report recovered handler panics.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFailureHook registers fn to be called after a handler panics.
func WithFailureHook(fn func(*errors.HandlerError)) Option {
	return func(b *Bus) { b.onFailure = fn }
}

// NewBus creates a new event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]subscription),
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.generateID()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
// It is safe to call from inside a handler.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				// Copy so that snapshots taken by an in-flight Publish stay intact.
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				next = append(next, subs[i+1:]...)
				b.subscriptions[eventType] = next
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
// Specific handlers are called first, followed by wildcard handlers.
// Within each group, handlers are called in registration order.
// A panicking handler is recovered and reported; delivery continues.
// Returns the number of handlers that panicked.
func (b *Bus) Publish(event Event) int {
	b.mu.RLock()
	eventType := event.EventType()

	specificSubs := make([]subscription, len(b.subscriptions[eventType]))
	copy(specificSubs, b.subscriptions[eventType])

	wildcardSubs := make([]subscription, len(b.subscriptions[Wildcard]))
	copy(wildcardSubs, b.subscriptions[Wildcard])

	b.mu.RUnlock()

	failed := 0
	for _, sub := range specificSubs {
		if !b.safeCall(sub, event) {
			failed++
		}
	}
	for _, sub := range wildcardSubs {
		if !b.safeCall(sub, event) {
			failed++
		}
	}
	return failed
}

// safeCall invokes a handler and recovers from any panic.
func (b *Bus) safeCall(sub subscription, event Event) bool {
	var pc panics.Catcher
	pc.Try(func() { sub.handler(event) })

	r := pc.Recovered()
	if r == nil {
		return true
	}

	herr := errors.NewHandlerError(event.EventType(), sub.id, r.AsError())
	b.logger.Error("event handler panicked",
		"event_type", event.EventType(),
		"subscription", sub.id,
		"panic", fmt.Sprint(r.Value),
		"stack", string(r.Stack),
	)
	if b.onFailure != nil {
		b.onFailure(herr)
	}
	return false
}

// generateID creates a unique subscription ID.
func (b *Bus) generateID() string {
	return fmt.Sprintf("sub-%d", b.nextID.Add(1))
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
