package tunnel

import (
	"lt2/internal/transport"
	"lt2/util"
)

// Assignment is the tunnel identity and addressing returned by a
// successful negotiation.  It is never modified after creation.
type Assignment struct {
	ID        string
	URL       string
	CachedURL string // only returned by caching relays

	RelayHost string // hostname of the configured relay address
	RelayIP   string // preferred over RelayHost when present
	RelayPort int

	// MaxConn is the number of relay connections the pool keeps open.
	MaxConn int

	Local LocalTarget
}

// RelayAddr returns the host:port relay connections are dialled on.
func (a *Assignment) RelayAddr() string {
	host := a.RelayIP
	if host == "" {
		host = a.RelayHost
	}
	return util.FormatAddr(host, a.RelayPort)
}

// LocalTarget is the local service each relay connection is bridged to.
type LocalTarget struct {
	Host        string
	Port        int
	HTTPS       bool
	RewriteHost string // Host header override, empty bridges raw
	TLS         transport.LocalTLS
}

// Addr returns the local host:port.
func (l LocalTarget) Addr() string {
	return util.FormatAddr(l.Host, l.Port)
}

// negotiationResponse is the relay's JSON answer to "?new".
type negotiationResponse struct {
	ID           string `json:"id"`
	IP           string `json:"ip"`
	Port         int    `json:"port"`
	URL          string `json:"url"`
	CachedURL    string `json:"cached_url"`
	MaxConnCount int    `json:"max_conn_count"`
}

func (r *negotiationResponse) assignment(relayHost string, local LocalTarget) *Assignment {
	maxConn := r.MaxConnCount
	if maxConn < 1 {
		maxConn = 1
	}
	return &Assignment{
		ID:        r.ID,
		URL:       r.URL,
		CachedURL: r.CachedURL,
		RelayHost: relayHost,
		RelayIP:   r.IP,
		RelayPort: r.Port,
		MaxConn:   maxConn,
		Local:     local,
	}
}
