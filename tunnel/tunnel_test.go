package tunnel

import (
	"testing"
	"time"

	lterr "lt2/internal/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string // "" = valid
	}{
		{"valid", Config{RemoteHost: "https://lt2.test", LocalPort: 8080}, ""},
		{"http relay", Config{RemoteHost: "http://127.0.0.1:3000", LocalPort: 1}, ""},
		{"missing relay", Config{LocalPort: 8080}, "remote-host"},
		{"relay without scheme", Config{RemoteHost: "lt2.test", LocalPort: 8080}, "remote-host"},
		{"ftp relay", Config{RemoteHost: "ftp://lt2.test", LocalPort: 8080}, "remote-host"},
		{"zero port", Config{RemoteHost: "https://lt2.test"}, "port"},
		{"port too large", Config{RemoteHost: "https://lt2.test", LocalPort: 70000}, "port"},
		{"negative interval", Config{RemoteHost: "https://lt2.test", LocalPort: 80, RetryInterval: -time.Second}, "retry-interval"},
		{"negative retries", Config{RemoteHost: "https://lt2.test", LocalPort: 80, MaxRetries: -1}, "max-retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
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

func TestConfig_LocalTarget(t *testing.T) {
	raw := (&Config{LocalPort: 3000}).localTarget()
	if raw.Host != DefaultLocalHost || raw.RewriteHost != "" {
		t.Errorf("default target = %+v, want localhost without rewrite", raw)
	}
	if raw.Addr() != "localhost:3000" {
		t.Errorf("Addr = %q", raw.Addr())
	}

	cfg := &Config{LocalHost: "app.internal", LocalPort: 443, LocalHTTPS: true, AllowInvalidCert: true}
	lt := cfg.localTarget()
	if lt.Host != "app.internal" || lt.RewriteHost != "app.internal" {
		t.Errorf("target = %+v, want dial and rewrite to app.internal", lt)
	}
	if !lt.HTTPS || !lt.TLS.AllowInvalid || lt.TLS.ServerName != "app.internal" {
		t.Errorf("TLS settings not carried: %+v", lt.TLS)
	}
}

func TestAssignment_RelayAddr(t *testing.T) {
	a := &Assignment{RelayHost: "relay.test", RelayPort: 4000}
	if a.RelayAddr() != "relay.test:4000" {
		t.Errorf("hostname fallback = %q", a.RelayAddr())
	}
	a.RelayIP = "10.0.0.1"
	if a.RelayAddr() != "10.0.0.1:4000" {
		t.Errorf("ip preferred = %q", a.RelayAddr())
	}
}

func TestNegotiationResponse_DefaultsMaxConn(t *testing.T) {
	for _, n := range []int{0, -3} {
		r := &negotiationResponse{ID: "x", Port: 1, URL: "u", MaxConnCount: n}
		if got := r.assignment("h", LocalTarget{}).MaxConn; got != 1 {
			t.Errorf("max_conn_count=%d: MaxConn = %d, want 1", n, got)
		}
	}
}

func TestRetryAttempts(t *testing.T) {
	if retryAttempts(0) != 0 {
		t.Error("0 retries should mean unlimited attempts")
	}
	if retryAttempts(3) != 4 {
		t.Error("3 retries should allow 4 attempts")
	}
}

func TestEventKinds_String(t *testing.T) {
	if EventURL.String() != "url" || EventClose.String() != "close" || PoolDead.String() != "dead" {
		t.Error("unexpected event kind names")
	}
	if StateEstablished.String() != "established" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
