// Package watch provides the command that hosts sessions in the foreground.
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/webpair/internal/config"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/session"
)

var (
	probeDirs    []string
	loginTimeout time.Duration
	noMetrics    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run sessions in the foreground",
	Long: `Run one session per probe directory until interrupted.

Lifecycle changes, QR codes and incoming message batches are printed as they
happen. Send SIGUSR1 to announce an imminent client reload: undelivered
messages are saved and can be read back with 'webpair pending'.

When metrics are enabled, /metrics, /live and /ready are served on
metrics.listen_addr. /ready succeeds once every session is connected.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSliceVarP(&probeDirs, "probe-dir", "d", nil, "probe directory to drive (repeatable; default from probe.dir)")
	watchCmd.Flags().DurationVar(&loginTimeout, "login-timeout", 0, "warn when not logged in after this long (default from session.login_timeout_seconds)")
	watchCmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not serve metrics and health endpoints")
}

// Register adds the watch command to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dirs := probeDirs
	if len(dirs) == 0 {
		dirs = []string{cfg.Probe.ResolveProbeDir()}
	}
	if len(dirs) > 1 && cfg.Session.ID != "" {
		return fmt.Errorf("session.id cannot be shared by %d probe directories", len(dirs))
	}
	timeout := loginTimeout
	if timeout == 0 {
		timeout = cfg.Session.LoginTimeout()
	}

	logger, err := openLogger(cfg, dirs[0])
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	out := newRenderer(cmd.OutOrStdout())
	reg := newRegistry()
	sessions := session.NewRegistry()

	var hosts []*host
	defer func() {
		sessions.ShutdownAll()
		for _, h := range hosts {
			h.close()
		}
	}()

	for _, dir := range dirs {
		h, err := openHost(cfg, dir, reg, out, logger)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		hosts = append(hosts, h)
		if err := sessions.Add(h.session); err != nil {
			return err
		}
	}

	if cfg.Metrics.Enabled && !noMetrics {
		addr, stopServer, err := serve(ctx, cfg.Metrics.ListenAddr, newHandler(reg, sessions), logger)
		if err != nil {
			return err
		}
		defer stopServer()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s/metrics\n", addr)
	}

	for _, h := range hosts {
		if err := h.session.Start(ctx); err != nil {
			return err
		}
	}

	var wg conc.WaitGroup
	defer wg.Wait()
	wg.Go(func() { forwardReloads(ctx, sessions, logger) })
	for _, h := range hosts {
		wg.Go(func() { h.waitForLogin(ctx, timeout, out) })
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// forwardReloads announces an imminent reload to every session on SIGUSR1.
func forwardReloads(ctx context.Context, sessions *session.Registry, logger *logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			for _, id := range sessions.IDs() {
				s, ok := sessions.Get(id)
				if !ok {
					continue
				}
				if err := s.ImminentReload(ctx); err != nil {
					logger.WithSession(id).Warn("reload persistence failed", "error", err.Error())
				}
			}
		}
	}
}

func openLogger(cfg *config.Config, probeDir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	dir := cfg.Logging.Dir
	if dir == "" {
		dir = probeDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return logging.NewLogger(dir, cfg.Logging.Level)
}
