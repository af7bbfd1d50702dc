package tunnel

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"lt2/internal/transport"
)

// ── Fake relay ───────────────────────────────────────────────────────

// fakeRelay accepts the client's relay connections over plain TCP and
// hands them to the test.
type fakeRelay struct {
	ln       net.Listener
	conns    chan net.Conn
	accepted atomic.Int64
	greeting []byte // written to every accepted connection, if set
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	r := &fakeRelay{ln: ln, conns: make(chan net.Conn, 64)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			r.accepted.Add(1)
			if r.greeting != nil {
				c.Write(r.greeting) //nolint:errcheck
			}
			r.conns <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return r
}

func (r *fakeRelay) port() int { return r.ln.Addr().(*net.TCPAddr).Port }

// next returns the next accepted relay connection.
func (r *fakeRelay) next(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-r.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for relay connection")
		return nil
	}
}

// ── Local echo service ───────────────────────────────────────────────

type echoServer struct {
	ln     net.Listener
	active atomic.Int64
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &echoServer{ln: ln}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.active.Add(1)
			go func(c net.Conn) {
				defer s.active.Add(-1)
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *echoServer) addr() string { return s.ln.Addr().String() }

func (s *echoServer) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// ── Dialers ──────────────────────────────────────────────────────────

// funcDialer adapts a function to transport.Dialer.
type funcDialer func(ctx context.Context, network, addr string) (net.Conn, error)

func (f funcDialer) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

func (f funcDialer) Close() error { return nil }

// flakyDialer fails the first n dials with err, then dials target.
func flakyDialer(n int, err error, target string) (transport.Dialer, *atomic.Int64) {
	calls := new(atomic.Int64)
	d := funcDialer(func(ctx context.Context, network, _ string) (net.Conn, error) {
		if calls.Add(1) <= int64(n) {
			return nil, err
		}
		var nd net.Dialer
		return nd.DialContext(ctx, network, target)
	})
	return d, calls
}

func syscallErr(op string, errno syscall.Errno) error {
	return &net.OpError{Op: op, Net: "tcp", Err: &os.SyscallError{Syscall: "connect", Err: errno}}
}

// ── Retry sleeps ─────────────────────────────────────────────────────

// sleepRecorder records requested delays and returns immediately.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// ── Negotiation endpoint ─────────────────────────────────────────────

// relayAPI serves a fixed negotiation answer and records query strings.
func relayAPI(t *testing.T, status int, body interface{}) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	hits := new(atomic.Int64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func assignmentBody(relayPort, maxConn int) map[string]interface{} {
	return map[string]interface{}{
		"id":             "brave-otter",
		"ip":             "127.0.0.1",
		"port":           relayPort,
		"url":            "https://brave-otter.lt2.test",
		"max_conn_count": maxConn,
	}
}

// ── Polling ──────────────────────────────────────────────────────────

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// drain consumes manager events until the channel closes.
func drain(m *Manager) <-chan []Event {
	out := make(chan []Event, 1)
	go func() {
		var evs []Event
		for ev := range m.Events() {
			evs = append(evs, ev)
		}
		out <- evs
	}()
	return out
}
