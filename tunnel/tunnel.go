// Package tunnel implements the tunnel client: negotiation of a public
// tunnel identity with a relay, and a self-healing pool of relay
// connections, each bridged to the local service.
//
// The pieces are split across files:
//
//   - negotiate.go  - Negotiator, the HTTP(S) request for an Assignment
//   - conn.go       - relayConn, the per-connection state machine
//   - bridge.go     - byte pump between relay and local service
//   - pool.go       - Pool, spawning and tracking relay connections
//   - manager.go    - Manager, the public open/close lifecycle
package tunnel

import (
	"net/url"
	"time"

	lterr "lt2/internal/errors"
	"lt2/internal/transport"
)

// DefaultLocalHost is dialled when no local host is configured.
const DefaultLocalHost = "localhost"

// Config is everything the core needs to open a tunnel.  It is not
// modified once negotiation starts.
type Config struct {
	RemoteHost string // relay address, e.g. "https://lt2.example.com"
	Subdomain  string // requested subdomain (optional)

	// LocalHost is both the dial target and, when set, the value the
	// first Host header is rewritten to.  Empty dials DefaultLocalHost
	// and bridges bytes untouched.
	LocalHost string
	LocalPort int

	LocalHTTPS        bool
	LocalCert         string
	LocalKey          string
	LocalCA           string
	LocalCertPassword string
	AllowInvalidCert  bool

	// RetryInterval is the wait between negotiation attempts and
	// between local dial attempts (default 1s).
	RetryInterval time.Duration
	// MaxRetries caps those attempts.  Zero retries forever.
	MaxRetries int
}

// Validate checks the fields the core cannot work without.
func (c *Config) Validate() error {
	if c.RemoteHost == "" {
		return &lterr.ConfigError{
			Field:   "remote-host",
			Message: "is required",
			Hint:    "pass the relay address, e.g. --remote-host https://lt2.example.com",
		}
	}
	u, err := url.Parse(c.RemoteHost)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &lterr.ConfigError{
			Field:   "remote-host",
			Value:   c.RemoteHost,
			Message: "must be an absolute http:// or https:// URL",
		}
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return &lterr.ConfigError{
			Field:   "port",
			Value:   c.LocalPort,
			Message: "out of range 1-65535",
			Hint:    "set the port your local service listens on",
		}
	}
	if c.RetryInterval < 0 {
		return &lterr.ConfigError{Field: "retry-interval", Value: c.RetryInterval, Message: "must not be negative"}
	}
	if c.MaxRetries < 0 {
		return &lterr.ConfigError{Field: "max-retries", Value: c.MaxRetries, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) localTarget() LocalTarget {
	host := c.LocalHost
	if host == "" {
		host = DefaultLocalHost
	}
	return LocalTarget{
		Host:        host,
		Port:        c.LocalPort,
		HTTPS:       c.LocalHTTPS,
		RewriteHost: c.LocalHost,
		TLS: transport.LocalTLS{
			CertFile:     c.LocalCert,
			KeyFile:      c.LocalKey,
			CAFile:       c.LocalCA,
			CertPassword: c.LocalCertPassword,
			ServerName:   host,
			AllowInvalid: c.AllowInvalidCert,
		},
	}
}
