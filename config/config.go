// Package config defines the runtime configuration for lt2 and loads it
// from config files and the environment.
package config

import (
	"net"
	"net/url"
	"time"

	lterr "lt2/internal/errors"
	"lt2/internal/transport"
)

// Config holds every tuneable for a single lt2 session.
//
// The yaml tags are the canonical config file keys; files may also use
// camelCase or kebab-case spellings of the same keys.
type Config struct {
	// ── Relay ────────────────────────────────────────────────────────
	RemoteHost string `yaml:"remote_host"` // relay address, http(s) URL
	Subdomain  string `yaml:"subdomain"`

	// ── Local service ────────────────────────────────────────────────
	Port              int    `yaml:"port"`
	LocalHost         string `yaml:"local_host"` // dial target and Host header override
	LocalHTTPS        bool   `yaml:"local_https"`
	LocalCert         string `yaml:"local_cert"` // PEM, or .p12/.pfx bundle
	LocalKey          string `yaml:"local_key"`
	LocalCA           string `yaml:"local_ca"`
	LocalCertPassword string `yaml:"local_cert_password"`
	AllowInvalidCert  bool   `yaml:"allow_invalid_cert"`

	// ── Retry ────────────────────────────────────────────────────────
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxRetries    int           `yaml:"max_retries"` // 0 = forever

	// ── Output ───────────────────────────────────────────────────────
	Open          bool   `yaml:"open"`
	PrintRequests bool   `yaml:"print_requests"`
	MetricsAddr   string `yaml:"metrics_addr"` // empty disables the endpoint
	Verbose       int    `yaml:"verbose"`
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is complete and internally
// consistent.  It runs before any network activity.
func (c *Config) Validate() error {
	if c.RemoteHost == "" {
		return &lterr.ConfigError{
			Field:   "remote-host",
			Message: "is required",
			Hint:    "pass -r https://relay.example.com, set LT2_REMOTE_HOST, or add remote_host to lt2.config.yaml",
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

	if c.Port == 0 {
		return &lterr.ConfigError{
			Field:   "port",
			Message: "is required",
			Hint:    "pass the port your local server listens on, e.g. -p 3000",
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &lterr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
		}
	}

	if c.LocalKey != "" && c.LocalCert == "" {
		return &lterr.ConfigError{
			Field:   "local-key",
			Value:   c.LocalKey,
			Message: "requires --local-cert",
		}
	}
	if c.LocalCert != "" && c.LocalKey == "" && !transport.IsPKCS12(c.LocalCert) {
		return &lterr.ConfigError{
			Field:   "local-cert",
			Value:   c.LocalCert,
			Message: "PEM certificate requires --local-key",
			Hint:    "use a .p12/.pfx bundle to pass certificate and key in one file",
		}
	}

	if c.RetryInterval < 0 {
		return &lterr.ConfigError{Field: "retry-interval", Value: c.RetryInterval, Message: "must not be negative"}
	}
	if c.MaxRetries < 0 {
		return &lterr.ConfigError{Field: "max-retries", Value: c.MaxRetries, Message: "must not be negative"}
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return &lterr.ConfigError{
				Field:   "metrics-addr",
				Value:   c.MetricsAddr,
				Message: "must be host:port",
				Hint:    "e.g. --metrics-addr 127.0.0.1:9090",
			}
		}
	}
	return nil
}
