package watch

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/webpair/internal/event"
	"github.com/Iron-Ham/webpair/internal/lifecycle"
	"github.com/Iron-Ham/webpair/internal/msgbuf"
)

var (
	connectedColor = lipgloss.Color("#10B981") // Green
	pairingColor   = lipgloss.Color("#F59E0B") // Amber
	lostColor      = lipgloss.Color("#F87171") // Red
	mutedColor     = lipgloss.Color("#9CA3AF") // Gray
	accentColor    = lipgloss.Color("#A78BFA") // Purple

	timeStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	sessionStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	warnStyle    = lipgloss.NewStyle().Foreground(pairingColor)
	errorStyle   = lipgloss.NewStyle().Foreground(lostColor)

	qrBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(pairingColor).
		Padding(0, 1)
)

// stateStyle colors a lifecycle state by how close it is to Connected.
func stateStyle(s lifecycle.State) lipgloss.Style {
	switch {
	case s == lifecycle.Connected:
		return lipgloss.NewStyle().Bold(true).Foreground(connectedColor)
	case s == lifecycle.Disconnected || s.NeedsPairing():
		return lipgloss.NewStyle().Bold(true).Foreground(lostColor)
	case s == lifecycle.Init:
		return mutedStyle
	default:
		return lipgloss.NewStyle().Foreground(pairingColor)
	}
}

// maxSummaryWidth keeps each message preview on one terminal line.
const maxSummaryWidth = 72

// renderer prints one line per session event. Output from several sessions
// is interleaved line by line.
type renderer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w, now: time.Now}
}

func (r *renderer) line(sessionID, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "%s %s %s\n",
		timeStyle.Render(r.now().Format("15:04:05")),
		sessionStyle.Render("["+sessionID+"]"),
		msg,
	)
}

func (r *renderer) lifecycle(sessionID string, ev lifecycle.TransitionEvent) {
	r.line(sessionID, fmt.Sprintf("%s %s %s",
		stateStyle(ev.From).Render(ev.From.String()),
		mutedStyle.Render("→"),
		stateStyle(ev.To).Render(ev.To.String()),
	))
}

func (r *renderer) socket(sessionID string, ev lifecycle.SocketTransitionEvent) {
	r.line(sessionID, fmt.Sprintf("%s %s",
		mutedStyle.Render("socket"),
		stateStyle(ev.To).Render(ev.To.String()),
	))
}

func (r *renderer) hint(sessionID string, _ lifecycle.DisconnectedHint) {
	r.line(sessionID, warnStyle.Render("phone appears disconnected"))
}

func (r *renderer) qrCode(sessionID, code string, attempt int) {
	r.line(sessionID, fmt.Sprintf("%s\n%s",
		warnStyle.Render(fmt.Sprintf("scan QR code (attempt %d)", attempt)),
		qrBox.Render(code),
	))
}

func (r *renderer) reconnected(sessionID string, ev event.ReconnectedEvent) {
	r.line(sessionID, stateStyle(lifecycle.Connected).Render(
		fmt.Sprintf("re-paired in %s", ev.Duration().Round(time.Millisecond)),
	))
}

func (r *renderer) batch(sessionID string, batch msgbuf.MessageBatch, err error) {
	if msgbuf.IsReloading(err) {
		r.line(sessionID, warnStyle.Render("client reloading, pending messages saved"))
		return
	}
	if err != nil {
		r.line(sessionID, errorStyle.Render(err.Error()))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d new message(s)", len(batch)))
	for _, ev := range batch {
		if summary := summarize(ev.Payload); summary != "" {
			sb.WriteString("\n  ")
			sb.WriteString(mutedStyle.Render(ansi.Truncate(summary, maxSummaryWidth, "...")))
		}
	}
	r.line(sessionID, sb.String())
}

func (r *renderer) warn(sessionID, msg string) {
	r.line(sessionID, warnStyle.Render(msg))
}

// summarize picks the sender and body out of a message payload when the
// host provides them under their usual names.
func summarize(payload map[string]any) string {
	from, _ := payload["from"].(string)
	body, _ := payload["body"].(string)
	switch {
	case from != "" && body != "":
		return from + ": " + body
	case body != "":
		return body
	default:
		return from
	}
}
