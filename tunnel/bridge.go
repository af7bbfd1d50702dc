package tunnel

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	lterr "lt2/internal/errors"
	"lt2/internal/httpx"
	"lt2/util"
)

// bridge pumps bytes between relay and local until either side closes
// or ctx is cancelled; both sockets are closed on return.  in counts
// relay→local bytes and out counts local→relay bytes.
func (c *relayConn) bridge(ctx context.Context, relay, local net.Conn) (in, out int64, err error) {
	m := c.pool.cfg.Metrics
	m.BridgeOpened()
	start := time.Now()
	defer func() {
		m.BridgeClosed()
		m.BridgeDuration(time.Since(start))
	}()

	var relayIn io.Reader = relay
	if len(c.early) > 0 {
		relayIn = io.MultiReader(bytes.NewReader(c.early), relay)
	}
	var src io.Reader = &requestSniffer{
		r: relayIn,
		onRequest: func(req httpx.Request) {
			m.Request()
			c.pool.publish(ctx, PoolEvent{Kind: PoolRequest, Conn: c.id, Request: req})
		},
	}
	if host := c.pool.cfg.Assignment.Local.RewriteHost; host != "" {
		src = httpx.NewHostRewriteReader(src, host)
	}

	toLocal := &countingWriter{w: local}
	toRelay := &countingWriter{w: relay}
	err = util.Splice(ctx,
		util.Stream{Reader: src, Writer: toRelay, Closer: relay},
		util.Stream{Reader: local, Writer: toLocal, Closer: local},
		lterr.IsExpectedClose,
	)
	m.BytesReceived(toLocal.n)
	m.BytesSent(toRelay.n)
	return toLocal.n, toRelay.n, err
}

// requestSniffer reports a request line at the start of any chunk read
// from the relay.  A line split across two reads is missed.
type requestSniffer struct {
	r         io.Reader
	onRequest func(httpx.Request)
}

func (s *requestSniffer) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		if req, ok := httpx.ParseRequestLine(p[:n]); ok {
			s.onRequest(req)
		}
	}
	return n, err
}

// countingWriter counts bytes written through it.  It is only used by
// a single pump goroutine.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
