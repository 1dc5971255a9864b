package watch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/webpair/internal/config"
	"github.com/Iron-Ham/webpair/internal/event"
	"github.com/Iron-Ham/webpair/internal/lifecycle"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/msgbuf"
	"github.com/Iron-Ham/webpair/internal/probe/fsprobe"
	"github.com/Iron-Ham/webpair/internal/session"
	"github.com/Iron-Ham/webpair/internal/store"
)

// host owns everything one session needs on disk: the directory lock, the
// probe watching the directory and the store holding reload-persisted
// messages.
type host struct {
	session *session.Session
	probe   *fsprobe.Probe
	lock    *session.Lock
}

// openHost locks probeDir, opens its probe and wires a session whose events
// are printed through out.
func openHost(cfg *config.Config, probeDir string, reg prometheus.Registerer, out *renderer, logger *logging.Logger) (*host, error) {
	id := cfg.SessionIDFor(probeDir)
	logger = logger.WithSession(id)

	if err := os.MkdirAll(probeDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create probe directory: %w", err)
	}
	lock, err := session.AcquireLock(probeDir, id, logger)
	if err != nil {
		return nil, err
	}
	h := &host{lock: lock}

	h.probe, err = fsprobe.Open(probeDir, fsprobe.Options{
		MaxQRAttempts: cfg.Probe.MaxQRAttempts,
		Logger:        logger,
	})
	if err != nil {
		h.close()
		return nil, err
	}

	st, err := store.NewFileStore(cfg.SessionStoreDir(id))
	if err != nil {
		h.close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	h.session, err = session.New(h.probe, session.Options{
		ID:              id,
		PollInterval:    cfg.Session.PollInterval(),
		MaxProbeBackoff: cfg.Session.ProbeBackoffMax(),
		Debounce:        cfg.Session.Debounce(),
		PairingTimeout:  cfg.Session.PairingTimeout(),
		Store:           st,
		Logger:          logger,
		Registerer:      reg,
	})
	if err != nil {
		h.close()
		return nil, err
	}

	h.subscribe(out)
	return h, nil
}

func (h *host) subscribe(out *renderer) {
	s := h.session
	id := s.ID()
	s.OnLifecycleChange(func(ev lifecycle.TransitionEvent) { out.lifecycle(id, ev) })
	s.OnSocketChange(func(ev lifecycle.SocketTransitionEvent) { out.socket(id, ev) })
	s.OnDisconnectedHint(func(ev lifecycle.DisconnectedHint) { out.hint(id, ev) })
	s.OnQRCode(func(code string, attempt int) { out.qrCode(id, code, attempt) })
	s.OnReconnected(func(ev event.ReconnectedEvent) { out.reconnected(id, ev) })
	s.OnNewMessages(func(batch msgbuf.MessageBatch, err error) { out.batch(id, batch, err) }, false)
}

// waitForLogin reports a warning when the session has not connected within
// timeout. It returns once connected, timed out or cancelled.
func (h *host) waitForLogin(ctx context.Context, timeout time.Duration, out *renderer) {
	if !h.session.WaitForLogin(ctx, timeout) && ctx.Err() == nil {
		out.warn(h.session.ID(), fmt.Sprintf("not logged in after %s", timeout))
	}
}

// close releases resources in reverse order of acquisition. The session,
// when present, must already be shut down.
func (h *host) close() {
	if h.probe != nil {
		_ = h.probe.Close()
	}
	_ = h.lock.Release()
}
