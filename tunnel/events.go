package tunnel

import (
	"lt2/internal/httpx"
)

// ── Pool events ──────────────────────────────────────────────────────

// PoolEventKind identifies a connection lifecycle message.
type PoolEventKind int

const (
	// PoolOpen: the relay TLS handshake completed.
	PoolOpen PoolEventKind = iota
	// PoolDead: the connection terminated for any reason.
	PoolDead
	// PoolRequest: a request line was seen on the relay stream.
	PoolRequest
	// PoolError: a fatal condition, the relay refused a connection.
	PoolError
)

func (k PoolEventKind) String() string {
	switch k {
	case PoolOpen:
		return "open"
	case PoolDead:
		return "dead"
	case PoolRequest:
		return "request"
	case PoolError:
		return "error"
	}
	return "unknown"
}

// PoolEvent is published by the pool on behalf of one connection.
// Events of a single connection are delivered in order.
type PoolEvent struct {
	Kind    PoolEventKind
	Conn    int
	Request httpx.Request
	Err     error
}

// ── Manager events ───────────────────────────────────────────────────

// EventKind identifies a message published by the Manager.
type EventKind int

const (
	// EventURL: the tunnel is live.  Published exactly once.
	EventURL EventKind = iota
	// EventError: a fatal error.
	EventError
	// EventRequest: a request was observed on some connection.
	EventRequest
	// EventClose: the tunnel has been closed.  Always the last event;
	// Close waits up to its grace period for room in a full buffer.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventURL:
		return "url"
	case EventError:
		return "error"
	case EventRequest:
		return "request"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is published by the Manager to its owner.
type Event struct {
	Kind      EventKind
	URL       string
	CachedURL string
	Conn      int
	Request   httpx.Request
	Err       error
}
