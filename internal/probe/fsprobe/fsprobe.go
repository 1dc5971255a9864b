// Package fsprobe implements probe.Remote over a directory shared with the
// process that drives the remote client.
//
// The host owns the directory contents:
//
//	state.yaml     current interface observation and the displayed QR code
//	inbox/         one JSON or YAML file per raw message event, consumed in name order
//	reload         created just before the client reloads; removed once handled
//	pair.request   written by the probe while a pairing procedure is running
//
// Changes are picked up through fsnotify and surfaced as probe.Notifier
// ticks, so polling is only a fallback.
package fsprobe

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/probe"
)

// Well-known names inside the probe directory.
const (
	StateFile       = "state.yaml"
	InboxDir        = "inbox"
	ReloadMarker    = "reload"
	PairRequestFile = "pair.request"

	rejectedSuffix = ".rejected"
)

var errEmptyMessage = errors.New("empty message file")

// inboxDebounce coalesces the create/write bursts editors and atomic
// writers produce for one file.
const inboxDebounce = 50 * time.Millisecond

// State is the decoded form of state.yaml.
type State struct {
	Mode         string `yaml:"mode"`
	SubState     string `yaml:"sub_state"`
	SocketStream string `yaml:"socket_stream"`
	SocketState  string `yaml:"socket_state"`
	QRCode       string `yaml:"qr_code,omitempty"`
}

// Observation converts the raw tokens into a probe.Observation.
func (s State) Observation() probe.Observation {
	return probe.ParseObservation(s.Mode, s.SubState, s.SocketStream, s.SocketState)
}

// Options configures a Probe.
type Options struct {
	// MaxQRAttempts bounds the number of distinct QR codes one pairing
	// procedure relays before giving up. Zero means unbounded.
	MaxQRAttempts int

	Logger *logging.Logger
}

// Probe is a probe.Remote backed by a directory. It also implements
// probe.Notifier and probe.ReloadSignaler.
type Probe struct {
	dir           string
	maxQRAttempts int
	logger        *logging.Logger
	watcher       *fsnotify.Watcher

	messages chan probe.RawMessageEvent
	changes  chan struct{}
	reloads  chan struct{}

	mu      sync.Mutex
	waiters map[int]chan struct{}
	nextID  int

	done      chan struct{}
	closeOnce sync.Once
	wg        conc.WaitGroup
}

// Open prepares dir and starts watching it. Message files already present
// in the inbox are delivered first.
func Open(dir string, opts Options) (*Probe, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: probe directory is required", errors.ErrInvalidInput)
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Join(dir, InboxDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create probe directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, d := range []string{dir, filepath.Join(dir, InboxDir)} {
		if err := watcher.Add(d); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	p := &Probe{
		dir:           dir,
		maxQRAttempts: opts.MaxQRAttempts,
		logger:        logger.WithComponent("fsprobe"),
		watcher:       watcher,
		messages:      make(chan probe.RawMessageEvent, 256),
		changes:       make(chan struct{}, 1),
		reloads:       make(chan struct{}, 1),
		waiters:       make(map[int]chan struct{}),
		done:          make(chan struct{}),
	}

	p.wg.Go(func() {
		defer close(p.messages)
		p.drainInbox()
		p.watchLoop()
	})
	return p, nil
}

// Dir returns the watched directory.
func (p *Probe) Dir() string { return p.dir }

// Close stops watching and closes the message stream.
func (p *Probe) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.watcher.Close()
		p.wg.Wait()
	})
	return err
}

// Observe reads state.yaml.
func (p *Probe) Observe(ctx context.Context) (probe.Observation, error) {
	if err := ctx.Err(); err != nil {
		return probe.Observation{}, err
	}
	st, err := p.ReadState()
	if err != nil {
		return probe.Observation{}, err
	}
	return st.Observation(), nil
}

// ReadState decodes the current state file.
func (p *Probe) ReadState() (State, error) {
	var st State
	data, err := os.ReadFile(filepath.Join(p.dir, StateFile))
	if err != nil {
		return st, fmt.Errorf("failed to read state: %w", err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse state: %w", err)
	}
	return st, nil
}

// Messages implements probe.Remote.
func (p *Probe) Messages() <-chan probe.RawMessageEvent { return p.messages }

// Changes implements probe.Notifier.
func (p *Probe) Changes() <-chan struct{} { return p.changes }

// Reloads implements probe.ReloadSignaler.
func (p *Probe) Reloads() <-chan struct{} { return p.reloads }

// Pair asks the host to pair by writing pair.request, then relays every new
// QR code found in state.yaml until the interface reaches MAIN.
func (p *Probe) Pair(ctx context.Context, onQR func(code string, attempt int)) (bool, error) {
	requestPath := filepath.Join(p.dir, PairRequestFile)
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano) + "\n")
	if err := os.WriteFile(requestPath, stamp, 0o644); err != nil {
		return false, fmt.Errorf("failed to request pairing: %w", err)
	}
	defer os.Remove(requestPath)

	wake, stop := p.subscribeState()
	defer stop()

	var lastCode string
	attempts := 0
	for {
		st, err := p.ReadState()
		switch {
		case err == nil && st.Observation().Mode == probe.ModeMain:
			return true, nil
		case err == nil && st.QRCode != "" && st.QRCode != lastCode:
			if p.maxQRAttempts > 0 && attempts >= p.maxQRAttempts {
				p.logger.Warn("qr attempts exhausted", "attempts", attempts)
				return false, nil
			}
			lastCode = st.QRCode
			attempts++
			if onQR != nil {
				onQR(lastCode, attempts)
			}
		case err != nil:
			p.logger.Debug("state unreadable while pairing", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-p.done:
			return false, errors.ErrShutdown
		case <-wake:
		}
	}
}

// subscribeState returns a channel ticked on every state file change.
func (p *Probe) subscribeState() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.waiters[id] = ch
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		delete(p.waiters, id)
		p.mu.Unlock()
	}
}

func (p *Probe) stateChanged() {
	tick(p.changes)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.waiters {
		tick(ch)
	}
}

// tick sends without blocking; pending ticks coalesce.
func tick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Probe) watchLoop() {
	debounce := time.NewTimer(0)
	<-debounce.C
	inboxDirty := false

	for {
		select {
		case <-p.done:
			return

		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleEvent(ev, &inboxDirty, debounce)

		case <-debounce.C:
			if inboxDirty {
				inboxDirty = false
				p.drainInbox()
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("watcher error", "error", err.Error())
		}
	}
}

func (p *Probe) handleEvent(ev fsnotify.Event, inboxDirty *bool, debounce *time.Timer) {
	dir, name := filepath.Split(ev.Name)
	if filepath.Clean(dir) == filepath.Join(p.dir, InboxDir) {
		if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
			*inboxDirty = true
			debounce.Reset(inboxDebounce)
		}
		return
	}

	switch name {
	case StateFile:
		if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
			p.stateChanged()
		}
	case ReloadMarker:
		if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
			if err := os.Remove(ev.Name); err != nil && !os.IsNotExist(err) {
				p.logger.Warn("failed to remove reload marker", "error", err.Error())
			}
			p.logger.Info("reload announced")
			tick(p.reloads)
		}
	}
}

// drainInbox delivers and removes every message file in name order. Files
// that fail to decode are renamed with a .rejected suffix.
func (p *Probe) drainInbox() {
	inbox := filepath.Join(p.dir, InboxDir)
	entries, err := os.ReadDir(inbox)
	if err != nil {
		p.logger.Warn("failed to read inbox", "error", err.Error())
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isMessageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	for _, name := range names {
		path := filepath.Join(inbox, name)
		ev, err := readMessage(path)
		if err != nil {
			// Vanished or still being written; a later event retries it.
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errEmptyMessage) {
				continue
			}
			p.logger.Warn("rejected message file", "file", name, "error", err.Error())
			_ = os.Rename(path, path+rejectedSuffix)
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove message file", "file", name, "error", err.Error())
		}

		select {
		case p.messages <- ev:
		case <-p.done:
			return
		}
	}
}

func isMessageFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// readMessage decodes one message file. YAML is a superset of JSON, so a
// single decoder handles both encodings.
func readMessage(path string) (probe.RawMessageEvent, error) {
	var ev probe.RawMessageEvent
	data, err := os.ReadFile(path)
	if err != nil {
		return ev, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ev, errEmptyMessage
	}
	if err := yaml.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}
