package watch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/webpair/internal/probe"
	"github.com/Iron-Ham/webpair/internal/session"
	"github.com/Iron-Ham/webpair/internal/testutil"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHandler_Endpoints(t *testing.T) {
	reg := newRegistry()
	sessions := session.NewRegistry()

	s, err := session.New(testutil.NewScriptedRemote(), session.Options{ID: "work", Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	srv := httptest.NewServer(newHandler(reg, sessions))
	defer srv.Close()

	status, _ := get(t, srv, "/live")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status, "no sessions registered")

	require.NoError(t, sessions.Add(s))
	status, _ = get(t, srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status, "session not connected")

	s.Observe(probe.ParseObservation("MAIN", "", "", ""))
	status, _ = get(t, srv, "/ready?full=1")
	assert.Equal(t, http.StatusOK, status)

	status, body := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, `webpair_lifecycle_transitions_total{session_id="work"`), body)
	assert.Contains(t, body, "go_goroutines")
}
