package mwreactor

import "net/netip"

type SessionEventKind int

const (
	SessionOpened SessionEventKind = iota
	SessionRead
	SessionWritten
	SessionClosed
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionOpened:
		return "opened"
	case SessionRead:
		return "read"
	case SessionWritten:
		return "written"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

// SessionEvent describes one session transition
type SessionEvent struct {
	Kind      SessionEventKind
	WorkerID  int
	SessionID string
	FD        int
	Peer      netip.AddrPort
	// bytes read or written, 0 for other kinds
	Bytes int
}

type SessionEventCallbackFunc func(SessionEvent)

func defaultSessionEventCallback(ev SessionEvent) {
	// just do nothing
}
