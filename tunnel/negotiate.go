package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	lterr "lt2/internal/errors"
	"lt2/internal/metrics"
	"lt2/internal/retry"
	"lt2/internal/transport"
	"lt2/util"
)

// maxResponseBody bounds how much of a negotiation response is read.
const maxResponseBody = 1 << 20

// Negotiator obtains an Assignment from the relay.
//
// Transport failures (refused, DNS, timeouts) are retried on the
// policy's fixed interval, by default forever.  Any non-2xx answer or
// an unreadable body is a terminal *lterr.ProtocolError and is never
// retried.
type Negotiator struct {
	client  *http.Client
	policy  *retry.Policy
	logger  *util.Logger
	metrics *metrics.Collector
}

// NewNegotiator returns a Negotiator.  A nil client gets one whose TLS
// transport skips relay certificate verification; a nil policy retries
// every second without limit.
func NewNegotiator(client *http.Client, policy *retry.Policy, logger *util.Logger, m *metrics.Collector) *Negotiator {
	if client == nil {
		client = defaultNegotiationClient()
	}
	if policy == nil {
		policy = retry.Fixed(retry.DefaultInterval)
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Negotiator{client: client, policy: policy, logger: logger, metrics: m}
}

func defaultNegotiationClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = transport.RelayTLSConfig("")
	return &http.Client{Transport: tr}
}

// Negotiate requests a new tunnel for cfg.  There is no overall
// deadline; ctx is the only way to abandon a relay that never answers.
func (n *Negotiator) Negotiate(ctx context.Context, cfg *Config) (*Assignment, error) {
	relay, err := url.Parse(cfg.RemoteHost)
	if err != nil || relay.Hostname() == "" {
		return nil, &lterr.ProtocolError{Message: fmt.Sprintf("invalid relay address %q", cfg.RemoteHost), Err: err}
	}
	endpoint := negotiationURL(cfg.RemoteHost, cfg.Subdomain)
	n.logger.Info("obtaining tunnel information from %s", cfg.RemoteHost)

	policy := *n.policy
	policy.OnRetry = func(_ int, err error) {
		n.logger.Info("tunnel server offline: %v, retry %s", err, n.interval())
	}

	var asg *Assignment
	err = policy.Do(ctx, func(attempt int) error {
		n.metrics.NegotiationAttempt()
		resp, err := n.fetch(ctx, endpoint)
		if err != nil {
			if lterr.As(err, new(*lterr.ProtocolError)) {
				return retry.Permanent(err)
			}
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		asg = resp.assignment(relay.Hostname(), cfg.localTarget())
		return nil
	})
	if err != nil {
		n.metrics.RecordError(err.Error())
		return nil, err
	}
	n.logger.Verbose("assigned tunnel %s (max_conn=%d, relay %s)", asg.ID, asg.MaxConn, asg.RelayAddr())
	return asg, nil
}

func (n *Negotiator) interval() string {
	if n.policy.Interval > 0 {
		return n.policy.Interval.String()
	}
	return retry.DefaultInterval.String()
}

// negotiationURL builds "<relay>?new[&subdomain=<name>]".
func negotiationURL(relay, subdomain string) string {
	var b strings.Builder
	b.WriteString(relay)
	b.WriteString("?new")
	if subdomain != "" {
		b.WriteString("&subdomain=")
		b.WriteString(url.QueryEscape(subdomain))
	}
	return b.String()
}

// fetch performs one negotiation request.  Transport errors come back
// as *lterr.NetworkError, relay rejections as *lterr.ProtocolError.
func (n *Negotiator) fetch(ctx context.Context, endpoint string) (*negotiationResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &lterr.ProtocolError{Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, lterr.Wrap("negotiate", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, lterr.Wrap("negotiate", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &lterr.ProtocolError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	var r negotiationResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &lterr.ProtocolError{Message: "invalid response body", Err: err}
	}
	if r.ID == "" || r.URL == "" || r.Port < 1 || r.Port > 65535 {
		return nil, &lterr.ProtocolError{Message: "incomplete tunnel assignment"}
	}
	return &r, nil
}

// errorMessage extracts {"message": ...} from a rejection body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return lterr.DefaultNegotiationMessage
}
