// Package transport provides the dialers used to reach the relay and
// the local service.  Dialers handle the "how" of opening a socket
// (plain TCP or TLS, timeouts, keep-alive) independent of what the
// tunnel does with it.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  A TLS dialer returns
// only after the handshake has completed.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}
