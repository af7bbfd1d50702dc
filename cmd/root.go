// Package cmd wires up the CLI flags and runs the tunnel.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"lt2/config"
	"lt2/internal/metrics"
	"lt2/tunnel"
	"lt2/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X lt2/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// env is the process context a run writes to.
type env struct {
	stdout io.Writer
	stderr io.Writer
	dir    string // working directory for config discovery
	color  bool   // stdout and stderr are terminals
}

// Execute parses args and runs the tunnel until ctx is cancelled or a
// fatal error occurs.
func Execute(ctx context.Context, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	return run(ctx, args, env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		dir:    wd,
		color:  isTerminal(os.Stdout) && isTerminal(os.Stderr),
	})
}

func run(ctx context.Context, args []string, e env) error {
	var fl config.Config
	fs := flag.NewFlagSet("lt2", flag.ContinueOnError)
	fs.SetOutput(e.stderr)

	// ── local service ────────────────────────────────────────────
	fs.IntVarP(&fl.Port, "port", "p", 0, "Internal HTTP server port")
	fs.StringVarP(&fl.LocalHost, "local-host", "l", "", "Tunnel traffic to this host instead of localhost, override Host header to this host")
	fs.BoolVar(&fl.LocalHTTPS, "local-https", false, "Tunnel traffic to a local HTTPS server")
	fs.StringVar(&fl.LocalCert, "local-cert", "", "Path to certificate PEM file (or .p12/.pfx bundle) for local HTTPS server")
	fs.StringVar(&fl.LocalKey, "local-key", "", "Path to certificate key file for local HTTPS server")
	fs.StringVar(&fl.LocalCA, "local-ca", "", "Path to certificate authority file for self-signed certificates")
	fs.StringVar(&fl.LocalCertPassword, "local-cert-password", "", "Password of a .p12/.pfx certificate bundle")
	fs.BoolVar(&fl.AllowInvalidCert, "allow-invalid-cert", false, "Disable certificate checks for your local HTTPS server (the client cert is still sent)")

	// ── relay ────────────────────────────────────────────────────
	fs.StringVarP(&fl.RemoteHost, "remote-host", "r", "", "Upstream server providing forwarding")
	fs.StringVarP(&fl.Subdomain, "subdomain", "s", "", "Request this subdomain")
	fs.DurationVar(&fl.RetryInterval, "retry-interval", config.DefaultRetryInterval, "Wait between negotiation and local dial retries")
	fs.IntVar(&fl.MaxRetries, "max-retries", config.DefaultMaxRetries, "Give up after this many retries (0 = never)")

	// ── output ───────────────────────────────────────────────────
	fs.BoolVarP(&fl.Open, "open", "o", false, "Opens the tunnel URL in your browser")
	fs.BoolVar(&fl.PrintRequests, "print-requests", false, "Print basic request info")
	fs.StringVar(&fl.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics and health checks on host:port")
	fs.CountVarP(&fl.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var configPath string
	var dryRun, showVersion, showHelp bool
	fs.StringVarP(&configPath, "config", "c", "", "Path to lt2 config file (yaml/json/jsonc)")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the resolved configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(e.stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(e.stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(e.stdout, "lt2 %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	// ── merge: defaults < file < env < flags ─────────────────────
	cfg := config.Defaults()
	source, err := config.LoadFile(e.dir, configPath, cfg)
	if err != nil {
		return err
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	overlayFlags(fs, &fl, cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if dryRun {
		shown := *cfg
		if shown.LocalCertPassword != "" {
			shown.LocalCertPassword = "********"
		}
		out, err := yaml.Marshal(&shown)
		if err != nil {
			return err
		}
		_, err = e.stdout.Write(out)
		return err
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(e.stderr)
	logger.SetColor(e.color)
	if source != "" {
		logger.Debug("loaded config from %s", source)
	} else {
		logger.Debug("using defaults, environment and flags only (no config file found)")
	}

	met := metrics.New()
	mgr, err := tunnel.New(tunnelConfig(cfg), tunnel.Options{Logger: logger, Metrics: met})
	if err != nil {
		return err
	}
	defer mgr.Close()

	if cfg.MetricsAddr != "" {
		if err := serveMetrics(ctx, cfg.MetricsAddr, met, mgr, logger); err != nil {
			return err
		}
	}

	logger.Info("establishing secure tunnel...")
	url, cachedURL, err := mgr.Open(ctx)
	if err != nil {
		return err
	}
	printBanner(e.stdout, url, cachedURL, e.color)

	if cfg.Open {
		if err := util.OpenBrowser(ctx, url); err != nil {
			logger.Warn("could not open browser: %v", err)
		}
	}

	return watch(ctx, mgr, cfg.PrintRequests, e.stdout, logger)
}

// watch consumes tunnel events until the context ends, the tunnel
// closes, or a fatal error is reported.
func watch(ctx context.Context, mgr *tunnel.Manager, printRequests bool, out io.Writer, logger *util.Logger) error {
	for {
		select {
		case <-ctx.Done():
			logger.Verbose("shutting down")
			return mgr.Close()
		case ev, ok := <-mgr.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case tunnel.EventURL:
				logger.Verbose("tunnel is live")
			case tunnel.EventRequest:
				if printRequests {
					fmt.Fprintf(out, "%s %s %s\n", time.Now().Format("15:04:05"), ev.Request.Method, ev.Request.Path)
				}
			case tunnel.EventError:
				return fmt.Errorf("tunnel: %w", ev.Err)
			case tunnel.EventClose:
				return nil
			}
		}
	}
}

// ── helpers ──────────────────────────────────────────────────────────

// overlayFlags copies every flag the user actually set onto cfg.
func overlayFlags(fs *flag.FlagSet, fl, cfg *config.Config) {
	apply := map[string]func(){
		"port":                func() { cfg.Port = fl.Port },
		"local-host":          func() { cfg.LocalHost = fl.LocalHost },
		"local-https":         func() { cfg.LocalHTTPS = fl.LocalHTTPS },
		"local-cert":          func() { cfg.LocalCert = fl.LocalCert },
		"local-key":           func() { cfg.LocalKey = fl.LocalKey },
		"local-ca":            func() { cfg.LocalCA = fl.LocalCA },
		"local-cert-password": func() { cfg.LocalCertPassword = fl.LocalCertPassword },
		"allow-invalid-cert":  func() { cfg.AllowInvalidCert = fl.AllowInvalidCert },
		"remote-host":         func() { cfg.RemoteHost = fl.RemoteHost },
		"subdomain":           func() { cfg.Subdomain = fl.Subdomain },
		"retry-interval":      func() { cfg.RetryInterval = fl.RetryInterval },
		"max-retries":         func() { cfg.MaxRetries = fl.MaxRetries },
		"open":                func() { cfg.Open = fl.Open },
		"print-requests":      func() { cfg.PrintRequests = fl.PrintRequests },
		"metrics-addr":        func() { cfg.MetricsAddr = fl.MetricsAddr },
		"verbose":             func() { cfg.Verbose = config.DefaultVerbosity + fl.Verbose },
	}
	fs.Visit(func(f *flag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})
}

func tunnelConfig(cfg *config.Config) tunnel.Config {
	return tunnel.Config{
		RemoteHost:        cfg.RemoteHost,
		Subdomain:         cfg.Subdomain,
		LocalHost:         cfg.LocalHost,
		LocalPort:         cfg.Port,
		LocalHTTPS:        cfg.LocalHTTPS,
		LocalCert:         cfg.LocalCert,
		LocalKey:          cfg.LocalKey,
		LocalCA:           cfg.LocalCA,
		LocalCertPassword: cfg.LocalCertPassword,
		AllowInvalidCert:  cfg.AllowInvalidCert,
		RetryInterval:     cfg.RetryInterval,
		MaxRetries:        cfg.MaxRetries,
	}
}

// serveMetrics starts the metrics endpoint.  The listener is opened
// synchronously so a bad address fails the run.
func serveMetrics(ctx context.Context, addr string, met *metrics.Collector, mgr *tunnel.Manager, logger *util.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := met.Register(reg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	ready := func() bool { return mgr.State() == tunnel.StateEstablished }
	go func() {
		if err := metrics.ServeListener(ctx, ln, metrics.Handler(reg, met, ready)); err != nil {
			logger.Error("metrics server: %v", err)
		}
	}()
	logger.Info("metrics on http://%s/metrics", ln.Addr())
	return nil
}

const (
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

func printBanner(w io.Writer, url, cachedURL string, color bool) {
	highlight := func(s string) string {
		if color {
			return ansiYellow + s + ansiReset
		}
		return s
	}
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Your tunnel URL is: %s\n", highlight(url))
	fmt.Fprintln(w, rule)
	if cachedURL != "" {
		fmt.Fprintf(w, "Your cached URL is: %s\n", highlight(cachedURL))
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `lt2 - expose a local server through a relay v%s

Usage:
  lt2 [options]

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Configuration is read from --config, $LT2_CONFIG, lt2.config.{yaml,yml,json,jsonc}
or the "lt2" key of package.json, then LT2_* environment variables, then flags.

Examples:
  lt2 -p 3000 -r https://relay.example.com
  lt2 -p 8443 --local-https --allow-invalid-cert -s myapp
  lt2 -p 3000 -l app.local --print-requests -vv
`)
}
