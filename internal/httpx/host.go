// Package httpx holds the small amount of HTTP awareness the tunnel
// client has: a one-shot Host header rewrite and a best-effort request
// line matcher used for observability.  Neither is an HTTP parser.
package httpx

import (
	"bytes"
	"io"
)

// hostPrefix is the header name that follows a CRLF; the first byte
// is matched case-insensitively.
var hostPrefix = []byte("ost: ")

// HostRewriter replaces the value of the first Host header it sees with
// a fixed virtual host.  After one rewrite every chunk passes through
// untouched, including later "Host: " text inside bodies or pipelined
// requests.
//
// A header split across two chunks is not recognised.
type HostRewriter struct {
	host      []byte
	rewritten bool
}

// NewHostRewriter returns a rewriter targeting host.
func NewHostRewriter(host string) *HostRewriter {
	return &HostRewriter{host: []byte(host)}
}

// Rewritten reports whether the header has been replaced.
func (h *HostRewriter) Rewritten() bool { return h.rewritten }

// Rewrite filters one chunk.  The returned slice is chunk itself when
// nothing changed.
func (h *HostRewriter) Rewrite(chunk []byte) []byte {
	if h.rewritten {
		return chunk
	}
	start, end, ok := findHostValue(chunk)
	if !ok {
		return chunk
	}
	h.rewritten = true

	out := make([]byte, 0, len(chunk)-(end-start)+len(h.host))
	out = append(out, chunk[:start]...)
	out = append(out, h.host...)
	out = append(out, chunk[end:]...)
	return out
}

// findHostValue locates "\r\n[Hh]ost: <token>" and returns the bounds
// of the non-empty, whitespace-free token.
func findHostValue(b []byte) (start, end int, ok bool) {
	for i := 0; ; {
		idx := bytes.Index(b[i:], []byte("\r\n"))
		if idx < 0 {
			return 0, 0, false
		}
		p := i + idx + 2
		i = p
		if p+1+len(hostPrefix) > len(b) {
			return 0, 0, false
		}
		if b[p] != 'H' && b[p] != 'h' {
			continue
		}
		if !bytes.Equal(b[p+1:p+1+len(hostPrefix)], hostPrefix) {
			continue
		}
		start = p + 1 + len(hostPrefix)
		end = start
		for end < len(b) && !isSpace(b[end]) {
			end++
		}
		if end > start {
			return start, end, true
		}
	}
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	}
	return false
}

// hostRewriteReader applies a HostRewriter to every Read from src.
type hostRewriteReader struct {
	src     io.Reader
	rw      *HostRewriter
	buf     []byte
	pending []byte
	err     error // deferred until pending is drained
}

// NewHostRewriteReader wraps src so that the first Host header in the
// stream is replaced with host.  Each underlying Read is one chunk.
func NewHostRewriteReader(src io.Reader, host string) io.Reader {
	return &hostRewriteReader{src: src, rw: NewHostRewriter(host)}
}

func (r *hostRewriteReader) Read(p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		if len(r.pending) == 0 && r.err != nil {
			err := r.err
			r.err = nil
			return n, err
		}
		return n, nil
	}
	if r.rw.rewritten {
		return r.src.Read(p)
	}

	if cap(r.buf) < len(p) {
		r.buf = make([]byte, len(p))
	}
	buf := r.buf[:len(p)]
	n, err := r.src.Read(buf)
	if n == 0 {
		return 0, err
	}
	out := r.rw.Rewrite(buf[:n])
	c := copy(p, out)
	if c < len(out) {
		r.pending = append(r.pending[:0], out[c:]...)
		r.err = err
		return c, nil
	}
	return c, err
}
