package transport

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestTCPDialer_Connect verifies that TCPDialer can reach a local
// TCP server and exchange data.
func TestTCPDialer_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello from server\n" {
		t.Errorf("got %q, want %q", got, "hello from server\n")
	}
}

// TestTCPDialer_ContextCancel verifies that a cancelled context stops the dial.
func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Dial(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestTCPDialer_Close(t *testing.T) {
	d := &TCPDialer{}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func newTLSServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestTLSDialer_RelaySkipsVerification verifies that the relay config
// completes a handshake against a self-signed certificate.
func TestTLSDialer_RelaySkipsVerification(t *testing.T) {
	srv := newTLSServer(t)

	d := &TLSDialer{Config: RelayTLSConfig("relay.invalid"), Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	tc, ok := conn.(*tls.Conn)
	if !ok {
		t.Fatalf("expected *tls.Conn, got %T", conn)
	}
	if !tc.ConnectionState().HandshakeComplete {
		t.Error("handshake should be complete when Dial returns")
	}
}

// TestTLSDialer_LocalVerifies verifies that local TLS rejects an
// unknown certificate unless a CA file or AllowInvalid is given.
func TestTLSDialer_LocalVerifies(t *testing.T) {
	srv := newTLSServer(t)
	addr := srv.Listener.Addr().String()

	cfg, err := LocalTLSConfig(LocalTLS{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (&TLSDialer{Config: cfg, Timeout: 2 * time.Second}).Dial(context.Background(), "tcp", addr); err == nil {
		t.Fatal("expected verification failure without CA")
	}

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	if err := os.WriteFile(caPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LocalTLSConfig(LocalTLS{CAFile: caPath})
	if err != nil {
		t.Fatalf("LocalTLSConfig: %v", err)
	}
	conn, err := (&TLSDialer{Config: cfg, Timeout: 2 * time.Second}).Dial(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatalf("dial with CA: %v", err)
	}
	conn.Close()

	cfg, err = LocalTLSConfig(LocalTLS{AllowInvalid: true})
	if err != nil {
		t.Fatalf("LocalTLSConfig: %v", err)
	}
	conn, err = (&TLSDialer{Config: cfg, Timeout: 2 * time.Second}).Dial(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatalf("dial with AllowInvalid: %v", err)
	}
	conn.Close()

	if _, err := LocalTLSConfig(LocalTLS{AllowInvalid: true, CertFile: "/does/not/exist.pem", KeyFile: "/does/not/exist.key"}); err == nil {
		t.Error("AllowInvalid must still load the client certificate")
	}
}

// writeClientCert writes a self-signed client certificate and its key
// as PEM files.
func writeClientCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "lt2-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "client.pem")
	keyFile = filepath.Join(dir, "client-key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

// TestLocalTLSConfig_AllowInvalidSendsClientCert verifies that skipping
// server verification still presents the client certificate.
func TestLocalTLSConfig_AllowInvalidSendsClientCert(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d", len(r.TLS.PeerCertificates))
	}))
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	certFile, keyFile := writeClientCert(t)
	cfg, err := LocalTLSConfig(LocalTLS{AllowInvalid: true, CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("LocalTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 || !cfg.InsecureSkipVerify {
		t.Fatalf("config: %d certificates, InsecureSkipVerify=%v", len(cfg.Certificates), cfg.InsecureSkipVerify)
	}

	conn, err := (&TLSDialer{Config: cfg, Timeout: 2 * time.Second}).Dial(context.Background(), "tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck

	if _, err := io.WriteString(conn, "GET / HTTP/1.1\r\nHost: local\r\nConnection: close\r\n\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "1" {
		t.Errorf("status %d, peer certificates %q, want 200 and 1", resp.StatusCode, body)
	}
}

func TestLocalTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	bundle := filepath.Join(dir, "client.p12")
	if err := os.WriteFile(bundle, []byte("not a bundle"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		lt   LocalTLS
	}{
		{"missing ca", LocalTLS{CAFile: filepath.Join(dir, "missing.pem")}},
		{"empty ca", LocalTLS{CAFile: garbage}},
		{"cert without key", LocalTLS{CertFile: garbage}},
		{"bad key pair", LocalTLS{CertFile: garbage, KeyFile: garbage}},
		{"bad pkcs12", LocalTLS{CertFile: bundle}},
		{"missing pkcs12", LocalTLS{CertFile: filepath.Join(dir, "missing.pfx")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LocalTLSConfig(tt.lt); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIsPKCS12(t *testing.T) {
	tests := map[string]bool{
		"client.p12":   true,
		"client.PFX":   true,
		"client.pem":   false,
		"client":       false,
		"p12/cert.crt": false,
	}
	for path, want := range tests {
		if got := IsPKCS12(path); got != want {
			t.Errorf("IsPKCS12(%q) = %v, want %v", path, got, want)
		}
	}
}
