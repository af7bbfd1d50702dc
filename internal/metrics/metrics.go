// Package metrics tracks runtime statistics of a tunnel session.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so the tunnel code never needs to nil-check.
// The counters can be exported to Prometheus with [Collector.Register].
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one tunnel.
type Collector struct {
	negotiationAttempts atomic.Int64
	relayOpened         atomic.Int64
	bridgesActive       atomic.Int64
	bridgesTotal        atomic.Int64
	replacements        atomic.Int64
	localDialRetries    atomic.Int64
	requests            atomic.Int64
	bytesIn             atomic.Int64
	bytesOut            atomic.Int64
	errorsTotal         atomic.Int64

	mu            sync.RWMutex
	startTime     time.Time
	establishedAt time.Time
	lastError     time.Time
	lastErrorMsg  string

	// observeBridge is set by Register to feed the bridge duration
	// histogram.
	observeBridge func(seconds float64)
}

// New creates a collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Negotiation ──────────────────────────────────────────────────────

// NegotiationAttempt records one request to the relay's negotiation
// endpoint.
func (c *Collector) NegotiationAttempt() {
	if c == nil {
		return
	}
	c.negotiationAttempts.Add(1)
}

// NegotiationAttempts returns the number of negotiation requests sent.
func (c *Collector) NegotiationAttempts() int64 {
	if c == nil {
		return 0
	}
	return c.negotiationAttempts.Load()
}

// Established records the moment the tunnel first became reachable.
func (c *Collector) Established() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.establishedAt.IsZero() {
		c.establishedAt = time.Now()
	}
	c.mu.Unlock()
}

// ── Connections ──────────────────────────────────────────────────────

// RelayOpened records a completed relay handshake.
func (c *Collector) RelayOpened() {
	if c == nil {
		return
	}
	c.relayOpened.Add(1)
}

// RelayConnections returns the number of relay handshakes completed.
func (c *Collector) RelayConnections() int64 {
	if c == nil {
		return 0
	}
	return c.relayOpened.Load()
}

// BridgeOpened increments both the active and total bridge counters.
func (c *Collector) BridgeOpened() {
	if c == nil {
		return
	}
	c.bridgesActive.Add(1)
	c.bridgesTotal.Add(1)
}

// BridgeClosed decrements the active bridge counter.
func (c *Collector) BridgeClosed() {
	if c == nil {
		return
	}
	c.bridgesActive.Add(-1)
}

// BridgeDuration records how long a finished bridge lasted.  It is a
// no-op until the collector is registered with Prometheus.
func (c *Collector) BridgeDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.RLock()
	observe := c.observeBridge
	c.mu.RUnlock()
	if observe != nil {
		observe(d.Seconds())
	}
}

// ActiveBridges returns the number of connections currently bridging.
func (c *Collector) ActiveBridges() int64 {
	if c == nil {
		return 0
	}
	return c.bridgesActive.Load()
}

// TotalBridges returns the lifetime bridge count.
func (c *Collector) TotalBridges() int64 {
	if c == nil {
		return 0
	}
	return c.bridgesTotal.Load()
}

// Replacement records a dead connection being replaced.
func (c *Collector) Replacement() {
	if c == nil {
		return
	}
	c.replacements.Add(1)
}

// Replacements returns the number of replacement connections opened.
func (c *Collector) Replacements() int64 {
	if c == nil {
		return 0
	}
	return c.replacements.Load()
}

// LocalDialRetry records a refused or reset local dial that will be
// retried.
func (c *Collector) LocalDialRetry() {
	if c == nil {
		return
	}
	c.localDialRetries.Add(1)
}

// LocalDialRetries returns the number of local dial retries.
func (c *Collector) LocalDialRetries() int64 {
	if c == nil {
		return 0
	}
	return c.localDialRetries.Load()
}

// Request records an observed request line.
func (c *Collector) Request() {
	if c == nil {
		return
	}
	c.requests.Add(1)
}

// Requests returns the number of observed request lines.
func (c *Collector) Requests() int64 {
	if c == nil {
		return 0
	}
	return c.requests.Load()
}

// ── I/O ──────────────────────────────────────────────────────────────

// BytesReceived records n bytes forwarded from the relay to the local
// service.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes forwarded from the local service back to
// the relay.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received from the relay.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent to the relay.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime              string `json:"uptime"`
	Established         string `json:"established,omitempty"`
	NegotiationAttempts int64  `json:"negotiation_attempts"`
	RelayConnections    int64  `json:"relay_connections"`
	BridgesActive       int64  `json:"bridges_active"`
	BridgesTotal        int64  `json:"bridges_total"`
	Replacements        int64  `json:"replacements"`
	LocalDialRetries    int64  `json:"local_dial_retries"`
	Requests            int64  `json:"requests"`
	BytesIn             int64  `json:"bytes_in"`
	BytesOut            int64  `json:"bytes_out"`
	ErrorsTotal         int64  `json:"errors_total"`
	LastError           string `json:"last_error,omitempty"`
	LastErrorMessage    string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:              time.Since(c.startTime).Truncate(time.Second).String(),
		NegotiationAttempts: c.negotiationAttempts.Load(),
		RelayConnections:    c.relayOpened.Load(),
		BridgesActive:       c.bridgesActive.Load(),
		BridgesTotal:        c.bridgesTotal.Load(),
		Replacements:        c.replacements.Load(),
		LocalDialRetries:    c.localDialRetries.Load(),
		Requests:            c.requests.Load(),
		BytesIn:             c.bytesIn.Load(),
		BytesOut:            c.bytesOut.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
	}
	if !c.establishedAt.IsZero() {
		s.Established = c.establishedAt.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
