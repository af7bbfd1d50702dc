package tunnel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	lterr "lt2/internal/errors"
	"lt2/internal/metrics"
	"lt2/internal/retry"
	"lt2/internal/transport"
	"lt2/util"
)

// State is the lifecycle stage of a Manager.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateEstablished
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

const (
	// relayKeepAlive is the TCP keep-alive period of relay sockets.
	relayKeepAlive = 30 * time.Second
	// closeGrace bounds how long Close waits for connections to unwind.
	closeGrace = 5 * time.Second
	// eventBuffer is the capacity of the outward event channel.
	eventBuffer = 64
)

// Options carries the optional collaborators of a Manager.  Zero
// values select production defaults.
type Options struct {
	Logger  *util.Logger
	Metrics *metrics.Collector

	// HTTPClient is used for negotiation.
	HTTPClient *http.Client
	// RelayDialer defaults to TLS without certificate verification.
	RelayDialer transport.Dialer
	// LocalDialer defaults to TCP, or TLS when the config asks for it.
	LocalDialer transport.Dialer
	// Sleep replaces the retry wait, mainly for tests.
	Sleep retry.SleepFunc
}

// Manager owns one tunnel: it negotiates an Assignment, keeps the pool
// at max_conn connections and republishes a reduced event stream.
type Manager struct {
	cfg    Config
	opts   Options
	logger *util.Logger
	policy *retry.Policy

	ctx    context.Context
	cancel context.CancelFunc

	state  atomic.Int32
	closed atomic.Bool // written only by Close

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu   sync.Mutex
	asg  *Assignment
	pool *Pool
}

// New validates cfg and returns an idle Manager.
func New(cfg Config, opts Options) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	policy := &retry.Policy{
		Interval:    cfg.RetryInterval,
		MaxAttempts: retryAttempts(cfg.MaxRetries),
		Sleep:       opts.Sleep,
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger,
		policy: policy,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}, nil
}

// retryAttempts turns a retry cap into an attempt cap.
func retryAttempts(maxRetries int) int {
	if maxRetries <= 0 {
		return 0
	}
	return maxRetries + 1
}

// Events returns the manager's event stream, which the owner must
// drain.  EventClose is the last event; the channel is closed right
// after it.  Request events are dropped rather than stalling the tunnel
// when the reader falls behind.
func (m *Manager) Events() <-chan Event { return m.events }

// Open negotiates the tunnel and starts max_conn relay connections.  It
// returns as soon as the assignment is known; EventURL follows when the
// first relay connection is up.  Open may be called once.
func (m *Manager) Open(ctx context.Context) (url, cachedURL string, err error) {
	if m.closed.Load() {
		return "", "", lterr.ErrTunnelClosed
	}
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateNegotiating)) {
		return "", "", fmt.Errorf("tunnel already opened (state %s)", m.State())
	}

	// Negotiation ends with either the caller's ctx or Close.
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	neg := NewNegotiator(m.opts.HTTPClient, m.policy, m.logger.Named("negotiate"), m.opts.Metrics)
	asg, err := neg.Negotiate(opCtx, &m.cfg)
	if err != nil {
		return "", "", m.fail(err)
	}

	local := m.opts.LocalDialer
	if local == nil {
		if local, err = localDialer(asg.Local); err != nil {
			return "", "", m.fail(err)
		}
	}
	relay := m.opts.RelayDialer
	if relay == nil {
		relay = &transport.TLSDialer{
			Config:    transport.RelayTLSConfig(asg.RelayHost),
			KeepAlive: relayKeepAlive,
		}
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return "", "", lterr.ErrTunnelClosed
	}
	m.asg = asg
	m.pool = NewPool(m.ctx, PoolConfig{
		Assignment:  asg,
		RelayDialer: relay,
		LocalDialer: local,
		Retry:       m.policy,
		Closed:      m.closed.Load,
		Logger:      m.logger.Named("pool"),
		Metrics:     m.opts.Metrics,
	}, asg.MaxConn)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(m.pool)

	m.logger.Verbose("opening %d relay connection(s) to %s", asg.MaxConn, asg.RelayAddr())
	for i := 0; i < asg.MaxConn; i++ {
		m.pool.Open()
	}
	return asg.URL, asg.CachedURL, nil
}

func (m *Manager) fail(err error) error {
	if m.closed.Load() {
		return lterr.ErrTunnelClosed
	}
	m.state.CompareAndSwap(int32(StateNegotiating), int32(StateFailed))
	m.logger.Error("%v", err)
	return err
}

func localDialer(l LocalTarget) (transport.Dialer, error) {
	if !l.HTTPS {
		return &transport.TCPDialer{}, nil
	}
	tlsCfg, err := transport.LocalTLSConfig(l.TLS)
	if err != nil {
		return nil, fmt.Errorf("local TLS: %w", err)
	}
	return &transport.TLSDialer{Config: tlsCfg}, nil
}

// loop is the single consumer of pool events.
func (m *Manager) loop(pool *Pool) {
	defer m.wg.Done()

	announced := false
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-pool.Events():
			switch ev.Kind {
			case PoolOpen:
				if announced {
					continue
				}
				announced = true
				m.state.CompareAndSwap(int32(StateNegotiating), int32(StateEstablished))
				m.opts.Metrics.Established()
				asg := m.Assignment()
				m.logger.Info("tunnel %s is live at %s", asg.ID, asg.URL)
				m.publish(Event{Kind: EventURL, URL: asg.URL, CachedURL: asg.CachedURL, Conn: ev.Conn})

			case PoolDead:
				if m.closed.Load() {
					continue
				}
				m.logger.Debug("conn#%d dead, opening replacement (live=%d)", ev.Conn, pool.Live())
				if pool.Open() {
					m.opts.Metrics.Replacement()
				}

			case PoolRequest:
				m.tryPublish(Event{Kind: EventRequest, Conn: ev.Conn, Request: ev.Request})

			case PoolError:
				m.logger.Info("tunnel socket connection error: %v", ev.Err)
				m.opts.Metrics.RecordError(ev.Err.Error())
				m.publish(Event{Kind: EventError, Conn: ev.Conn, Err: ev.Err})
			}
		}
	}
}

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Manager) tryPublish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("event reader is behind, dropping %s event", ev.Kind)
	}
}

// Close tears down every connection and stops replacements.  Bridged
// connections are closed before Close returns; calls after the first
// return nil.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return nil
	}
	m.closed.Store(true)
	pool := m.pool
	m.mu.Unlock()

	m.state.Store(int32(StateClosing))
	m.cancel()

	var err error
	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		if pool != nil {
			pool.Wait()
		}
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(closeGrace):
		err = fmt.Errorf("tunnel close: timeout waiting for connections to finish")
	}

	m.state.Store(int32(StateClosed))
	m.logger.Verbose("tunnel closed")

	// The loop has returned, so Close is the only writer left.  A reader
	// that is still draining gets the close event; one that stopped
	// reading is given up on after the grace period.
	select {
	case m.events <- Event{Kind: EventClose}:
	case <-time.After(closeGrace):
		m.logger.Debug("event reader stopped, dropping close event")
	}
	close(m.events)
	close(m.done)
	return err
}

// Wait blocks until Close has finished.
func (m *Manager) Wait() { <-m.done }

// ── Accessors ────────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool { return m.closed.Load() }

// Assignment returns the negotiated assignment, or nil before Open
// succeeds.
func (m *Manager) Assignment() *Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.asg
}

// ID returns the tunnel identifier.
func (m *Manager) ID() string {
	if a := m.Assignment(); a != nil {
		return a.ID
	}
	return ""
}

// URL returns the public URL.
func (m *Manager) URL() string {
	if a := m.Assignment(); a != nil {
		return a.URL
	}
	return ""
}

// CachedURL returns the caching relay URL, if any.
func (m *Manager) CachedURL() string {
	if a := m.Assignment(); a != nil {
		return a.CachedURL
	}
	return ""
}

// Live returns the pool's count of open relay connections.
func (m *Manager) Live() int {
	if p := m.currentPool(); p != nil {
		return p.Live()
	}
	return 0
}

// States returns the per-state connection counts.
func (m *Manager) States() map[ConnState]int {
	if p := m.currentPool(); p != nil {
		return p.States()
	}
	return map[ConnState]int{}
}

func (m *Manager) currentPool() *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool
}

func discardLogger() *util.Logger {
	l := util.NewLogger(int(util.LogQuiet))
	l.SetOutput(io.Discard)
	return l
}
