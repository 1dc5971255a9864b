// Package probe defines the contract between a webpair session and the
// remote web client it drives: typed interface observations, raw message
// events, and the Remote capability interface a host implements.
package probe

import (
	"fmt"
	"strings"
)

// Mode is the top-level screen the remote client is showing.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeQR
	ModeSyncing
	ModeMain
)

var modeNames = map[Mode]string{
	ModeQR:      "QR",
	ModeSyncing: "SYNCING",
	ModeMain:    "MAIN",
}

func (m Mode) String() string { return enumName(modeNames, m) }

// ParseMode maps a remote token to a Mode. Unrecognized tokens yield ModeUnknown.
func ParseMode(s string) Mode { return parseEnum(modeNames, s, ModeUnknown) }

// SubState refines Mode while pairing or syncing.
type SubState int

const (
	SubStateUnknown SubState = iota
	SubStateOpening
	SubStatePairing
	SubStateNormal
)

var subStateNames = map[SubState]string{
	SubStateOpening: "OPENING",
	SubStatePairing: "PAIRING",
	SubStateNormal:  "NORMAL",
}

func (s SubState) String() string { return enumName(subStateNames, s) }

// ParseSubState maps a remote token to a SubState.
func ParseSubState(s string) SubState { return parseEnum(subStateNames, s, SubStateUnknown) }

// SocketStream reports whether the remote's data stream is attached.
type SocketStream int

const (
	StreamUnknown SocketStream = iota
	StreamConnected
	StreamDisconnected
)

var streamNames = map[SocketStream]string{
	StreamConnected:    "CONNECTED",
	StreamDisconnected: "DISCONNECTED",
}

func (s SocketStream) String() string { return enumName(streamNames, s) }

// ParseSocketStream maps a remote token to a SocketStream.
func ParseSocketStream(s string) SocketStream { return parseEnum(streamNames, s, StreamUnknown) }

// SocketState is the remote's own view of its connection to the service.
type SocketState int

const (
	SocketUnknown SocketState = iota
	SocketOpening
	SocketPairing
	SocketUnpaired
	SocketUnpairedIdle
	SocketConnected
)

var socketStateNames = map[SocketState]string{
	SocketOpening:      "OPENING",
	SocketPairing:      "PAIRING",
	SocketUnpaired:     "UNPAIRED",
	SocketUnpairedIdle: "UNPAIRED_IDLE",
	SocketConnected:    "CONNECTED",
}

func (s SocketState) String() string { return enumName(socketStateNames, s) }

// ParseSocketState maps a remote token to a SocketState.
func ParseSocketState(s string) SocketState { return parseEnum(socketStateNames, s, SocketUnknown) }

// Observation is a snapshot of the remote interface taken on one poll or
// push tick. Zero fields mean the remote did not report that signal.
type Observation struct {
	Mode         Mode
	SubState     SubState
	SocketStream SocketStream
	SocketState  SocketState
}

// ParseObservation builds an Observation from raw string tokens.
func ParseObservation(mode, subState, stream, socketState string) Observation {
	return Observation{
		Mode:         ParseMode(mode),
		SubState:     ParseSubState(subState),
		SocketStream: ParseSocketStream(stream),
		SocketState:  ParseSocketState(socketState),
	}
}

func (o Observation) String() string {
	return fmt.Sprintf("mode=%s sub=%s stream=%s socket=%s", o.Mode, o.SubState, o.SocketStream, o.SocketState)
}

func enumName[T comparable](names map[T]string, v T) string {
	if name, ok := names[v]; ok {
		return name
	}
	return "UNKNOWN"
}

func parseEnum[T comparable](names map[T]string, s string, unknown T) T {
	s = strings.ToUpper(strings.TrimSpace(s))
	for v, name := range names {
		if name == s {
			return v
		}
	}
	return unknown
}
