package config

import (
	"strings"
	"testing"
	"time"

	lterr "lt2/internal/errors"
)

func validConfig() *Config {
	c := Defaults()
	c.RemoteHost = "https://lt2.example.com"
	c.Port = 3000
	return c
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	if c.RetryInterval != time.Second {
		t.Errorf("RetryInterval = %v, want 1s", c.RetryInterval)
	}
	if c.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0 (forever)", c.MaxRetries)
	}
	if c.Verbose != DefaultVerbosity {
		t.Errorf("Verbose = %d", c.Verbose)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string // "" = valid
	}{
		{"valid", func(c *Config) {}, ""},
		{"http relay", func(c *Config) { c.RemoteHost = "http://127.0.0.1:8080" }, ""},
		{"missing relay", func(c *Config) { c.RemoteHost = "" }, "remote-host"},
		{"relay without scheme", func(c *Config) { c.RemoteHost = "lt2.example.com" }, "remote-host"},
		{"relay bad scheme", func(c *Config) { c.RemoteHost = "ws://lt2.example.com" }, "remote-host"},
		{"missing port", func(c *Config) { c.Port = 0 }, "port"},
		{"negative port", func(c *Config) { c.Port = -1 }, "port"},
		{"port too large", func(c *Config) { c.Port = 65536 }, "port"},
		{"key without cert", func(c *Config) { c.LocalKey = "k.pem" }, "local-key"},
		{"pem cert without key", func(c *Config) { c.LocalCert = "c.pem" }, "local-cert"},
		{"pkcs12 cert without key", func(c *Config) { c.LocalCert = "client.p12" }, ""},
		{"pem pair", func(c *Config) { c.LocalCert = "c.pem"; c.LocalKey = "k.pem" }, ""},
		{"allow invalid keeps client cert checks", func(c *Config) { c.AllowInvalidCert = true; c.LocalKey = "k.pem" }, "local-key"},
		{"negative interval", func(c *Config) { c.RetryInterval = -time.Second }, "retry-interval"},
		{"negative retries", func(c *Config) { c.MaxRetries = -2 }, "max-retries"},
		{"metrics addr", func(c *Config) { c.MetricsAddr = "127.0.0.1:9090" }, ""},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "9090" }, "metrics-addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			err := c.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *lterr.ConfigError
			if !lterr.As(err, &ce) {
				t.Fatalf("want *ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

// TestValidate_Hints verifies that the most common mistakes come with
// actionable hints.
func TestValidate_Hints(t *testing.T) {
	for _, c := range []*Config{{Port: 80}, {RemoteHost: "https://x.test"}} {
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), "hint:") {
			t.Errorf("error %v should carry a hint", err)
		}
	}
}
