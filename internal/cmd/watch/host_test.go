package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/webpair/internal/config"
	"github.com/Iron-Ham/webpair/internal/lifecycle"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/msgbuf"
	"github.com/Iron-Ham/webpair/internal/probe/fsprobe"
	"github.com/Iron-Ham/webpair/internal/session"
	"github.com/Iron-Ham/webpair/internal/store"
	"github.com/Iron-Ham/webpair/internal/testutil"
)

func TestOpenHost(t *testing.T) {
	root := t.TempDir()
	probeDir := filepath.Join(root, "work")
	cfg := config.Default()
	cfg.Store.Dir = filepath.Join(root, "store")
	cfg.Session.PollIntervalMs = 50
	cfg.Session.DebounceMs = 60_000

	out := newRenderer(io.Discard)
	h, err := openHost(cfg, probeDir, prometheus.NewRegistry(), out, logging.NopLogger())
	require.NoError(t, err)
	defer h.close()
	defer h.session.Shutdown()

	assert.Equal(t, "work", h.session.ID())

	_, err = openHost(cfg, probeDir, prometheus.NewRegistry(), out, logging.NopLogger())
	assert.True(t, errors.Is(err, session.ErrLocked))

	testutil.WriteFiles(t, probeDir, map[string]string{
		fsprobe.StateFile: "mode: MAIN\nsocket_stream: CONNECTED\nsocket_state: CONNECTED\n",
		"inbox/001.json":  `{"isNewMsg": true, "payload": {"body": "hello"}}`,
	})

	require.NoError(t, h.session.Start(context.Background()))
	testutil.Eventually(t, 3*time.Second, func() bool {
		return h.session.State() == lifecycle.Connected && h.session.Pending() == 1
	}, "state or message not picked up")

	testutil.WriteFiles(t, probeDir, map[string]string{fsprobe.ReloadMarker: ""})
	st, err := store.NewFileStore(cfg.SessionStoreDir("work"))
	require.NoError(t, err)
	testutil.Eventually(t, 3*time.Second, func() bool {
		ok, _ := st.Exists(context.Background(), msgbuf.PersistKey)
		return ok
	}, "reload not persisted")
}

func TestHost_CloseReleasesLock(t *testing.T) {
	root := t.TempDir()
	probeDir := filepath.Join(root, "work")
	cfg := config.Default()
	cfg.Store.Dir = filepath.Join(root, "store")

	h, err := openHost(cfg, probeDir, prometheus.NewRegistry(), newRenderer(io.Discard), logging.NopLogger())
	require.NoError(t, err)
	h.session.Shutdown()
	h.close()

	_, err = os.Stat(filepath.Join(probeDir, session.LockFileName))
	assert.True(t, os.IsNotExist(err))
}
