package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultRetryInterval is the wait between negotiation attempts and
	// between local dial attempts.
	DefaultRetryInterval = time.Second

	// DefaultMaxRetries of zero retries forever.
	DefaultMaxRetries = 0

	// DefaultVerbosity prints Info and above.
	DefaultVerbosity = 1

	// EnvPrefix prefixes every supported environment variable.
	EnvPrefix = "LT2"
)

// Defaults returns a Config populated with the default values.
func Defaults() *Config {
	return &Config{
		RetryInterval: DefaultRetryInterval,
		MaxRetries:    DefaultMaxRetries,
		Verbose:       DefaultVerbosity,
	}
}
