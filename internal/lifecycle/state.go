// Package lifecycle turns raw interface observations from a remote client
// into a stable lifecycle state and publishes one event per change.
//
// Two streams are derived from every observation. The lifecycle stream
// follows the screen the client shows (QR, syncing, main). The socket stream
// follows the client's connection status and is reported separately because
// the two can disagree while a reconnect is in progress.
package lifecycle

import "github.com/Iron-Ham/webpair/internal/probe"

// State is a discrete phase of a session's connection to the remote service.
type State int

const (
	Init State = iota
	QrOpening
	QrLoading
	QrReady
	Pairing
	SyncOpening
	SyncLoading
	SyncNormal
	Connected
	Disconnected
	Unpaired
	UnpairedIdle
)

var stateNames = [...]string{
	Init:         "Init",
	QrOpening:    "QrOpening",
	QrLoading:    "QrLoading",
	QrReady:      "QrReady",
	Pairing:      "Pairing",
	SyncOpening:  "SyncOpening",
	SyncLoading:  "SyncLoading",
	SyncNormal:   "SyncNormal",
	Connected:    "Connected",
	Disconnected: "Disconnected",
	Unpaired:     "Unpaired",
	UnpairedIdle: "UnpairedIdle",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// NeedsPairing reports whether the state means the remote has lost its pairing.
func (s State) NeedsPairing() bool {
	return s == Unpaired || s == UnpairedIdle
}

// Classify maps an observation to a lifecycle state using the mode and
// sub-state. Anything it cannot place yields Init.
func Classify(obs probe.Observation) State {
	switch obs.Mode {
	case probe.ModeMain:
		return Connected
	case probe.ModeQR:
		switch obs.SubState {
		case probe.SubStateOpening:
			return QrOpening
		case probe.SubStatePairing:
			return QrLoading
		case probe.SubStateNormal:
			return QrReady
		}
	case probe.ModeSyncing:
		switch obs.SubState {
		case probe.SubStateOpening:
			return SyncOpening
		case probe.SubStatePairing:
			return SyncLoading
		case probe.SubStateNormal:
			return SyncNormal
		}
	}
	return Init
}

// ClassifySocket maps an observation to a socket-level state.
// Loss of pairing outranks a detached stream, which outranks the remaining
// socket states.
func ClassifySocket(obs probe.Observation) State {
	switch obs.SocketState {
	case probe.SocketUnpaired:
		return Unpaired
	case probe.SocketUnpairedIdle:
		return UnpairedIdle
	}
	if obs.SocketStream == probe.StreamDisconnected {
		return Disconnected
	}
	switch obs.SocketState {
	case probe.SocketPairing:
		return Pairing
	case probe.SocketConnected:
		return Connected
	default:
		return Init
	}
}
