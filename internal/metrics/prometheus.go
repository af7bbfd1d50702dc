package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lt2"

// Register exports the collector's counters to reg.  The values are
// read from the collector at scrape time, except bridge durations which
// are observed as bridges finish.
func (c *Collector) Register(reg prometheus.Registerer) error {
	counter := func(name, help string, fn func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help,
		}, func() float64 { return float64(fn()) })
	}
	gauge := func(name, help string, fn func() int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help,
		}, func() float64 { return float64(fn()) })
	}

	collectors := []prometheus.Collector{
		counter("negotiation_attempts_total", "Requests sent to the relay negotiation endpoint", c.NegotiationAttempts),
		counter("relay_connections_total", "Relay TLS handshakes completed", c.RelayConnections),
		gauge("bridges_active", "Connections currently bridging relay and local service", c.ActiveBridges),
		counter("bridges_total", "Bridges established", c.TotalBridges),
		counter("replacements_total", "Dead connections replaced", c.Replacements),
		counter("local_dial_retries_total", "Refused or reset local dials retried", c.LocalDialRetries),
		counter("requests_total", "Request lines observed on relay connections", c.Requests),
		counter("bytes_in_total", "Bytes forwarded from the relay to the local service", c.TotalBytesIn),
		counter("bytes_out_total", "Bytes forwarded from the local service to the relay", c.TotalBytesOut),
		counter("errors_total", "Errors recorded", c.ErrorCount),
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}

	bridgeSeconds := promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bridge_duration_seconds",
		Help:      "Lifetime of finished bridges",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	})
	c.mu.Lock()
	c.observeBridge = bridgeSeconds.Observe
	c.mu.Unlock()
	return nil
}
