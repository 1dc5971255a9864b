package msgbuf

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/webpair/internal/clock"
	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/metrics"
	"github.com/Iron-Ham/webpair/internal/probe"
	"github.com/Iron-Ham/webpair/internal/store"
)

// DefaultDebounce is the delay between the first event of a burst and its delivery.
const DefaultDebounce = time.Second

// MessageBatch is the ordered set of events delivered by one flush.
type MessageBatch []probe.RawMessageEvent

// TerminalSignal is passed to handlers instead of a batch when delivery ends
// for a reason other than a normal flush.
type TerminalSignal struct {
	Status  int
	Message string
}

func (s *TerminalSignal) Error() string {
	return fmt.Sprintf("%s (status %d)", s.Message, s.Status)
}

func reloadSignal() *TerminalSignal {
	return &TerminalSignal{Status: -1, Message: "reloading"}
}

// IsReloading reports whether err is the signal sent on an imminent reload.
func IsReloading(err error) bool {
	var sig *TerminalSignal
	return errors.As(err, &sig) && sig.Status == -1
}

// Handler receives either a non-empty batch with a nil error, or a nil
// batch with a *TerminalSignal.
type Handler func(batch MessageBatch, err error)

type registration struct {
	id             string
	handler        Handler
	removeAfterUse bool
}

// Options configures a Buffer. All fields are optional.
type Options struct {
	// Debounce defaults to DefaultDebounce when zero or negative.
	Debounce  time.Duration
	Clock     clock.Clock
	Store     store.Store
	SessionID string
	Logger    *logging.Logger
	Metrics   *metrics.Session
}

// Buffer is the debounced delivery pipeline of one session.
//
// Deliveries are serialized on deliverMu, which is always taken before mu
// and held while handlers run. Handlers may call Subscribe, Unsubscribe,
// Pending and Ingest, but not ImminentReload.
type Buffer struct {
	mu        sync.Mutex
	deliverMu sync.Mutex

	queue      *queue.Queue
	tail       []probe.RawMessageEvent
	timer      *clock.Timer
	generation uint64
	subs       []registration
	nextID     uint64
	closed     bool

	debounce  time.Duration
	clock     clock.Clock
	store     store.Store
	sessionID string
	logger    *logging.Logger
	metrics   *metrics.Session
}

// New creates an idle Buffer.
func New(opts Options) *Buffer {
	b := &Buffer{
		queue:     queue.New(32),
		debounce:  opts.Debounce,
		clock:     opts.Clock,
		store:     opts.Store,
		sessionID: opts.SessionID,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if b.debounce <= 0 {
		b.debounce = DefaultDebounce
	}
	if b.clock == nil {
		b.clock = clock.Real()
	}
	if b.store == nil {
		b.store = store.NewMemoryStore()
	}
	if b.logger == nil {
		b.logger = logging.NopLogger()
	}
	return b
}

// Ingest offers one raw event to the buffer. Only inbound events (new and
// not sent by us) are accepted; the rest are dropped. It reports whether the
// event was accepted.
func (b *Buffer) Ingest(ev probe.RawMessageEvent) bool {
	if !ev.IsInbound() {
		b.metrics.Ingested(false)
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if err := b.queue.Put(ev); err != nil {
		b.mu.Unlock()
		b.logger.Error("delivery queue rejected event", "error", err.Error())
		return false
	}
	b.tail = append(b.tail, ev)
	if b.timer == nil {
		gen := b.generation
		b.timer = b.clock.AfterFunc(b.debounce, func() { b.flush(gen) })
	}
	pending := len(b.tail)
	b.mu.Unlock()

	b.metrics.Ingested(true)
	b.metrics.SetPending(pending)
	return true
}

// flush delivers the queued batch. gen guards against timers that fired
// after a reload or close already took the queue.
func (b *Buffer) flush(gen uint64) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.closed || gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	batch := b.drainLocked()
	b.tail = nil
	if len(batch) == 0 {
		b.mu.Unlock()
		return
	}
	subs := b.snapshotLocked()
	b.mu.Unlock()

	b.metrics.Flushed(len(batch))
	b.metrics.SetPending(0)
	b.logger.Debug("delivering batch", "events", len(batch), "subscribers", len(subs))

	for _, sub := range subs {
		b.safeCall(sub, slices.Clone(batch), nil)
	}
}

// drainLocked empties the delivery queue in ingestion order.
func (b *Buffer) drainLocked() MessageBatch {
	n := b.queue.Len()
	if n == 0 {
		return nil
	}
	items, err := b.queue.Get(n)
	if err != nil {
		b.logger.Error("failed to drain delivery queue", "error", err.Error())
		return nil
	}
	batch := make(MessageBatch, 0, len(items))
	for _, item := range items {
		batch = append(batch, item.(probe.RawMessageEvent))
	}
	return batch
}

// snapshotLocked copies the subscriber list and drops one-shot handlers from
// the live list, so each one-shot is handed to exactly one delivery.
func (b *Buffer) snapshotLocked() []registration {
	snapshot := slices.Clone(b.subs)
	b.subs = slices.DeleteFunc(slices.Clone(b.subs), func(r registration) bool {
		return r.removeAfterUse
	})
	return snapshot
}

func (b *Buffer) safeCall(sub registration, batch MessageBatch, err error) {
	var pc panics.Catcher
	pc.Try(func() { sub.handler(batch, err) })

	r := pc.Recovered()
	if r == nil {
		return
	}
	herr := errors.NewHandlerError("messages", sub.id, r.AsError()).WithSessionID(b.sessionID)
	b.logger.Error("message handler panicked", "error", herr.Error(), "stack", string(r.Stack))
	b.metrics.HandlerFailure("buffer")
}

// Subscribe registers handler for future deliveries. With removeAfterUse
// the handler is dropped after its first delivery. It returns an empty ID
// if the buffer is closed.
func (b *Buffer) Subscribe(handler Handler, removeAfterUse bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ""
	}
	b.nextID++
	id := fmt.Sprintf("msg-%d", b.nextID)
	b.subs = append(b.subs, registration{id: id, handler: handler, removeAfterUse: removeAfterUse})
	return id
}

// Unsubscribe removes a handler. It is safe to call from inside a handler.
func (b *Buffer) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.subs, func(r registration) bool { return r.id == id })
	if i < 0 {
		return false
	}
	b.subs = slices.Delete(slices.Clone(b.subs), i, i+1)
	return true
}

// Subscribers returns the number of registered handlers.
func (b *Buffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Pending returns the number of accepted events not yet delivered.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tail)
}

// ImminentReload persists the undelivered tail and notifies every handler
// with a reload TerminalSignal. The delivery queue is empty afterwards and
// the pending debounce timer is cancelled. Handlers are notified even if
// persistence fails, in which case a *errors.ReloadError is returned.
func (b *Buffer) ImminentReload(ctx context.Context) error {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.ErrShutdown
	}
	b.generation++
	b.timer.Stop()
	b.timer = nil
	b.drainLocked()
	tail := b.tail
	b.tail = nil
	subs := b.snapshotLocked()
	b.mu.Unlock()

	b.metrics.SetPending(0)

	var rerr error
	if err := persist(ctx, b.store, tail); err != nil {
		rerr = errors.NewReloadError(PersistKey, len(tail), err).WithSessionID(b.sessionID)
		b.logger.Error("failed to persist pending messages", "error", rerr.Error())
	} else {
		b.logger.Info("persisted pending messages for reload", "events", len(tail))
	}
	b.metrics.Reloaded(rerr == nil)

	for _, sub := range subs {
		b.safeCall(sub, nil, reloadSignal())
	}
	return rerr
}

// Close cancels any pending timer, drops queued events and removes every
// handler. It is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.generation++
	b.timer.Stop()
	b.timer = nil
	b.queue.Dispose()
	b.tail = nil
	b.subs = nil
	b.metrics.SetPending(0)
}
