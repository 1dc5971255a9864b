package session

import (
	"fmt"
	"slices"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/lifecycle"
)

// Registry tracks the sessions hosted by one process, keyed by ID.
type Registry struct {
	sessions cmap.ConcurrentMap[string, *Session]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: cmap.New[*Session]()}
}

// Add registers s. It fails if another session already uses the same ID.
func (r *Registry) Add(s *Session) error {
	if !r.sessions.SetIfAbsent(s.ID(), s) {
		return fmt.Errorf("%w: session %q already registered", errors.ErrInvalidInput, s.ID())
	}
	return nil
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Remove unregisters and returns the session with the given ID. The
// session is not shut down.
func (r *Registry) Remove(id string) (*Session, bool) {
	return r.sessions.Pop(id)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return r.sessions.Count()
}

// IDs returns the registered IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := r.sessions.Keys()
	slices.Sort(ids)
	return ids
}

// States returns the lifecycle state of every registered session.
func (r *Registry) States() map[string]lifecycle.State {
	out := make(map[string]lifecycle.State, r.sessions.Count())
	for item := range r.sessions.IterBuffered() {
		out[item.Key] = item.Val.State()
	}
	return out
}

// NotConnected returns the sorted IDs of sessions that are not Connected.
func (r *Registry) NotConnected() []string {
	var ids []string
	for id, st := range r.States() {
		if st != lifecycle.Connected {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// ShutdownAll shuts every session down concurrently and empties the
// registry.
func (r *Registry) ShutdownAll() {
	var wg conc.WaitGroup
	for _, id := range r.sessions.Keys() {
		if s, ok := r.sessions.Pop(id); ok {
			wg.Go(s.Shutdown)
		}
	}
	wg.Wait()
}
