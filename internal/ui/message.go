package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/evpn/internal/session"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgEvent MsgKind = iota
	MsgEventsClosed
	MsgOpDone
)

// opKind names the user action an [MsgOpDone] completes.
type opKind int

const (
	opToggle opKind = iota
	opSelect
	opRefresh
	opRetry
)

type opResult struct {
	op  opKind
	err error
}

// eventMsg is the constructor for [MsgEvent]
func eventMsg(e session.Event) Msg {
	return Msg{kind: MsgEvent, data: e}
}

// eventsClosedMsg is the constructor for [MsgEventsClosed]
func eventsClosedMsg() Msg {
	return Msg{kind: MsgEventsClosed}
}

// opDoneMsg is the constructor for [MsgOpDone]
func opDoneMsg(op opKind, err error) Msg {
	return Msg{kind: MsgOpDone, data: opResult{op: op, err: err}}
}
