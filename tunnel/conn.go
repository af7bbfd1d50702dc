package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	lterr "lt2/internal/errors"
	"lt2/internal/retry"
	"lt2/util"
)

// ConnState is the lifecycle stage of one relay connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateRelayOpen
	StateDialingLocal
	StateBridging
	StateDead
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRelayOpen:
		return "relay-open"
	case StateDialingLocal:
		return "dialing-local"
	case StateBridging:
		return "bridging"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// relayConn is one relay↔local bridge.  It owns its relay socket and,
// once dialled, its local socket; nothing else touches them.
type relayConn struct {
	id     int
	pool   *Pool
	logger *util.Logger
	state  atomic.Int32
	opened bool   // reached RelayOpen; only read by the owning goroutine
	early  []byte // relay bytes read while polling during local retries
}

// relayPollTimeout bounds the liveness read on the relay between local
// dial attempts.
const relayPollTimeout = time.Millisecond

func (c *relayConn) State() ConnState { return ConnState(c.state.Load()) }

func (c *relayConn) setState(s ConnState) {
	old := ConnState(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("%s → %s", old, s)
	}
}

// run drives the connection from Connecting to Dead.  Every path out of
// run except a refused relay publishes exactly one PoolDead.
func (c *relayConn) run(ctx context.Context) {
	defer c.setState(StateDead)

	asg := c.pool.cfg.Assignment
	addr := asg.RelayAddr()

	// ── Connecting ──
	relay, err := c.pool.cfg.RelayDialer.Dial(ctx, "tcp", addr)
	if err != nil {
		if lterr.IsConnRefused(err) {
			c.logger.Error("relay connection error: %v", err)
			c.pool.publish(ctx, PoolEvent{
				Kind: PoolError,
				Conn: c.id,
				Err:  fmt.Errorf("%w: %s (check your firewall settings)", lterr.ErrRelayRefused, addr),
			})
			return
		}
		if ctx.Err() == nil {
			c.logger.Verbose("relay dial %s failed: %v", addr, err)
			c.pool.cfg.Metrics.RecordError(fmt.Sprintf("relay dial %s: %v", addr, err))
			// Pace replacements of a relay that keeps failing.
			_ = c.pool.cfg.Retry.Wait(ctx)
		}
		c.pool.publish(ctx, PoolEvent{Kind: PoolDead, Conn: c.id})
		return
	}

	// ── RelayOpen ──
	c.opened = true
	c.setState(StateRelayOpen)
	c.pool.cfg.Metrics.RelayOpened()
	c.pool.publish(ctx, PoolEvent{Kind: PoolOpen, Conn: c.id})

	// The relay is only polled between local dial attempts; bytes it
	// sends in the meantime wait in the socket buffers or in c.early.
	stop := context.AfterFunc(ctx, func() { relay.Close() })
	local, err := c.dialLocal(ctx, relay)
	stop()
	if err != nil {
		relay.Close()
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, lterr.ErrRelayClosed):
			c.logger.Verbose("relay closed while dialing %s", asg.Local.Addr())
		default:
			c.logger.Error("local connection to %s failed: %v", asg.Local.Addr(), err)
			c.pool.cfg.Metrics.RecordError(err.Error())
			// A local service that rejects every dial would otherwise
			// have its relay slot replaced in a tight loop.
			_ = c.pool.cfg.Retry.Wait(ctx)
		}
		c.pool.publish(ctx, PoolEvent{Kind: PoolDead, Conn: c.id})
		return
	}

	// ── Bridging ──
	c.setState(StateBridging)
	start := time.Now()
	in, out, err := c.bridge(ctx, relay, local)
	if err != nil {
		c.logger.Verbose("bridge error: %v", err)
	}
	c.logger.Verbose("closed after %v (in=%d out=%d)",
		time.Since(start).Truncate(time.Millisecond), in, out)

	// ── Dead ──
	c.pool.publish(ctx, PoolEvent{Kind: PoolDead, Conn: c.id})
}

// dialLocal connects to the local service, retrying refused and reset
// dials on the retry interval.  Any other failure is returned at once,
// as is ErrRelayClosed when the relay hangs up between attempts.
func (c *relayConn) dialLocal(ctx context.Context, relay net.Conn) (net.Conn, error) {
	c.setState(StateDialingLocal)

	local := c.pool.cfg.Assignment.Local
	addr := local.Addr()
	scheme := "http"
	if local.HTTPS {
		scheme = "https"
	}

	policy := *c.pool.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		c.pool.cfg.Metrics.LocalDialRetry()
		c.logger.Info("retrying local connection to %s://%s (attempt %d): %v", scheme, addr, attempt, errors.Unwrap(err))
	}

	var conn net.Conn
	err := policy.Do(ctx, func(attempt int) error {
		if c.pool.closed() {
			return retry.Permanent(lterr.ErrTunnelClosed)
		}
		if attempt > 1 && !c.relayAlive(relay) {
			return retry.Permanent(lterr.ErrRelayClosed)
		}
		var err error
		conn, err = c.pool.cfg.LocalDialer.Dial(ctx, "tcp", addr)
		if err == nil {
			return nil
		}
		nerr := lterr.Wrap("local dial", addr, err)
		if !lterr.IsRetryable(nerr) || ctx.Err() != nil {
			return retry.Permanent(nerr)
		}
		return nerr
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// relayAlive reports whether the relay is still open.  It reads with a
// short deadline; any bytes that arrive are kept in c.early for the
// bridge, and once data has been seen the relay is not polled again.
func (c *relayConn) relayAlive(relay net.Conn) bool {
	if len(c.early) > 0 {
		return true
	}
	if err := relay.SetReadDeadline(time.Now().Add(relayPollTimeout)); err != nil {
		return false
	}
	defer relay.SetReadDeadline(time.Time{}) //nolint:errcheck

	buf := util.GetBuf()
	defer util.PutBuf(buf)
	n, err := relay.Read(*buf)
	if n > 0 {
		c.early = append(c.early, (*buf)[:n]...)
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
