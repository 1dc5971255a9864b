package watch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/session"
)

// maxGoroutines fails liveness when goroutines leak far beyond what a
// handful of sessions need.
const maxGoroutines = 10_000

// newHandler serves /metrics, /live and /ready. Readiness requires every
// registered session to be Connected.
func newHandler(reg *prometheus.Registry, sessions *session.Registry) http.Handler {
	health := healthcheck.NewMetricsHandler(reg, "webpair")
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	health.AddReadinessCheck("sessions-connected", func() error {
		if sessions.Len() == 0 {
			return fmt.Errorf("no sessions running")
		}
		if pending := sessions.NotConnected(); len(pending) > 0 {
			return fmt.Errorf("not connected: %s", strings.Join(pending, ", "))
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	return mux
}

// newRegistry returns a registry carrying the process collectors alongside
// the session metrics.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serve runs the HTTP endpoint until ctx is done.
func serve(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err.Error())
		}
	}()
	logger.Info("metrics server listening", "addr", ln.Addr().String())

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return ln.Addr().String(), stop, nil
}
