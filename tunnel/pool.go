package tunnel

import (
	"context"
	"strconv"
	"sync"

	"lt2/internal/metrics"
	"lt2/internal/retry"
	"lt2/internal/transport"
	"lt2/util"
)

// PoolConfig wires a Pool to its assignment and dialers.
type PoolConfig struct {
	Assignment  *Assignment
	RelayDialer transport.Dialer
	LocalDialer transport.Dialer
	Retry       *retry.Policy

	// Closed reports the owner's closed flag.  Once it returns true no
	// connection is opened and no local dial is retried.
	Closed func() bool

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Pool spawns relay connections and publishes their lifecycle events.
// It never replaces a connection on its own: the owner calls Open again
// for every PoolDead it consumes.
type Pool struct {
	cfg    PoolConfig
	ctx    context.Context
	events chan PoolEvent
	wg     sync.WaitGroup

	mu     sync.Mutex
	nextID int
	conns  map[int]*relayConn
	live   int
}

// NewPool returns a pool whose connections live until ctx is done.
// buffer sizes the event channel.
func NewPool(ctx context.Context, cfg PoolConfig, buffer int) *Pool {
	if cfg.Retry == nil {
		cfg.Retry = retry.Fixed(retry.DefaultInterval)
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Closed == nil {
		cfg.Closed = func() bool { return false }
	}
	return &Pool{
		cfg:    cfg,
		ctx:    ctx,
		events: make(chan PoolEvent, buffer),
		conns:  make(map[int]*relayConn),
	}
}

// Events returns the channel of connection lifecycle events.  It is
// never closed; stop reading once the pool's context is done.
func (p *Pool) Events() <-chan PoolEvent { return p.events }

// Open spawns one relay connection.  It reports false, and spawns
// nothing, when the pool is closed.
func (p *Pool) Open() bool {
	if p.closed() {
		return false
	}

	p.mu.Lock()
	p.nextID++
	c := &relayConn{id: p.nextID, pool: p}
	c.logger = p.cfg.Logger.Named(connName(c.id))
	p.conns[c.id] = c
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.forget(c.id)
		c.run(p.ctx)
	}()
	return true
}

// Live returns the number of connections that reached RelayOpen and
// have not yet died.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// States returns the number of connections in each state.  Dead
// connections leave the pool and are not counted.
func (p *Pool) States() map[ConnState]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[ConnState]int)
	for _, c := range p.conns {
		if s := c.State(); s != StateDead {
			out[s]++
		}
	}
	return out
}

// Wait blocks until every connection goroutine has returned.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) closed() bool {
	return p.ctx.Err() != nil || p.cfg.Closed()
}

func (p *Pool) forget(id int) {
	p.mu.Lock()
	delete(p.conns, id)
	p.mu.Unlock()
}

// publish delivers ev unless the pool is shutting down, and keeps the
// live count in step with open and dead events.
func (p *Pool) publish(ctx context.Context, ev PoolEvent) {
	switch ev.Kind {
	case PoolOpen:
		p.mu.Lock()
		p.live++
		p.mu.Unlock()
	case PoolDead:
		p.mu.Lock()
		if c, ok := p.conns[ev.Conn]; ok && c.opened {
			p.live--
		}
		p.mu.Unlock()
	}

	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}

func connName(id int) string {
	return "conn#" + strconv.Itoa(id)
}
