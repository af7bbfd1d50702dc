package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envOverlay mirrors Config with pointer fields so that unset variables
// can be told apart from zero values.  Every variable uses the LT2_
// prefix; booleans accept anything strconv.ParseBool does.
type envOverlay struct {
	RemoteHost        *string        `envconfig:"REMOTE_HOST"`
	Subdomain         *string        `envconfig:"SUBDOMAIN"`
	Port              *int           `envconfig:"PORT"`
	LocalHost         *string        `envconfig:"LOCAL_HOST"`
	LocalHTTPS        *bool          `envconfig:"LOCAL_HTTPS"`
	LocalCert         *string        `envconfig:"LOCAL_CERT"`
	LocalKey          *string        `envconfig:"LOCAL_KEY"`
	LocalCA           *string        `envconfig:"LOCAL_CA"`
	LocalCertPassword *string        `envconfig:"LOCAL_CERT_PASSWORD"`
	AllowInvalidCert  *bool          `envconfig:"ALLOW_INVALID_CERT"`
	RetryInterval     *time.Duration `envconfig:"RETRY_INTERVAL"`
	MaxRetries        *int           `envconfig:"MAX_RETRIES"`
	Open              *bool          `envconfig:"OPEN"`
	PrintRequests     *bool          `envconfig:"PRINT_REQUESTS"`
	MetricsAddr       *string        `envconfig:"METRICS_ADDR"`
	Verbose           *int           `envconfig:"VERBOSE"`
}

// LoadFromEnv overlays LT2_* environment variables onto cfg.  Only
// variables that are set override the existing value.  This should be
// called after the config file and BEFORE CLI flags are applied so that
// flags take precedence.
func LoadFromEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	setString(&cfg.RemoteHost, env.RemoteHost)
	setString(&cfg.Subdomain, env.Subdomain)
	setInt(&cfg.Port, env.Port)
	setString(&cfg.LocalHost, env.LocalHost)
	setBool(&cfg.LocalHTTPS, env.LocalHTTPS)
	setString(&cfg.LocalCert, env.LocalCert)
	setString(&cfg.LocalKey, env.LocalKey)
	setString(&cfg.LocalCA, env.LocalCA)
	setString(&cfg.LocalCertPassword, env.LocalCertPassword)
	setBool(&cfg.AllowInvalidCert, env.AllowInvalidCert)
	if env.RetryInterval != nil {
		cfg.RetryInterval = *env.RetryInterval
	}
	setInt(&cfg.MaxRetries, env.MaxRetries)
	setBool(&cfg.Open, env.Open)
	setBool(&cfg.PrintRequests, env.PrintRequests)
	setString(&cfg.MetricsAddr, env.MetricsAddr)
	setInt(&cfg.Verbose, env.Verbose)
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
