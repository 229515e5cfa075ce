package http

import (
	"net"
	"net/http"
	"time"

	"github.com/arloliu/hoptrace"
)

// defaultKeepAlive is used when WithDialTimeout replaces the dialer.
const defaultKeepAlive = 30 * time.Second

type clientConfig struct {
	timeout time.Duration

	dialTimeout           time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration

	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
	idleConnTimeout     time.Duration

	base      http.RoundTripper
	transport []Option
}

// ClientOption configures NewClient.
type ClientOption func(*clientConfig)

// WithTimeout sets the overall request timeout of the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithDialTimeout sets the TCP dial timeout.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.dialTimeout = d
	}
}

// WithTLSHandshakeTimeout sets the TLS handshake timeout.
func WithTLSHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.tlsHandshakeTimeout = d
	}
}

// WithResponseHeaderTimeout sets how long to wait for response headers once
// the request is written.
func WithResponseHeaderTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.responseHeaderTimeout = d
	}
}

// WithMaxIdleConns sets the idle connection limit across all hosts.
func WithMaxIdleConns(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxIdleConns = n
	}
}

// WithMaxIdleConnsPerHost sets the idle connection limit per host.
func WithMaxIdleConnsPerHost(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxIdleConnsPerHost = n
	}
}

// WithMaxConnsPerHost sets the total connection limit per host.
func WithMaxConnsPerHost(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxConnsPerHost = n
	}
}

// WithIdleConnTimeout sets how long an idle keep-alive connection is kept.
func WithIdleConnTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.idleConnTimeout = d
	}
}

// WithBaseTransport sets the transport requests are sent through. Pool and
// timeout options apply only when it is an *http.Transport.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) {
		c.base = rt
	}
}

// WithTransportOptions passes options to the tracing Transport.
func WithTransportOptions(opts ...Option) ClientOption {
	return func(c *clientConfig) {
		c.transport = append(c.transport, opts...)
	}
}

// NewClient creates an http.Client whose requests run under client spans
// and carry the trace context downstream.
//
// Usage:
//
//	client := hoptracehttp.NewClient(tracer, prop,
//	    hoptracehttp.WithTimeout(10*time.Second),
//	    hoptracehttp.WithMaxIdleConnsPerHost(10),
//	)
func NewClient(tracer *hoptrace.Tracer, prop *hoptrace.Propagator, opts ...ClientOption) *http.Client {
	cfg := &clientConfig{base: http.DefaultTransport}
	for _, opt := range opts {
		opt(cfg)
	}

	return &http.Client{
		Transport: Transport(cfg.roundTripper(), tracer, prop, cfg.transport...),
		Timeout:   cfg.timeout,
	}
}

// roundTripper clones the base *http.Transport and applies the configured
// limits. Any other RoundTripper is returned as is.
func (c *clientConfig) roundTripper() http.RoundTripper {
	base, ok := c.base.(*http.Transport)
	if !ok {
		return c.base
	}
	t := base.Clone()

	if c.dialTimeout > 0 {
		t.DialContext = (&net.Dialer{Timeout: c.dialTimeout, KeepAlive: defaultKeepAlive}).DialContext
	}
	setIfPositive(&t.TLSHandshakeTimeout, c.tlsHandshakeTimeout)
	setIfPositive(&t.ResponseHeaderTimeout, c.responseHeaderTimeout)
	setIfPositive(&t.IdleConnTimeout, c.idleConnTimeout)
	setIfPositive(&t.MaxIdleConns, c.maxIdleConns)
	setIfPositive(&t.MaxIdleConnsPerHost, c.maxIdleConnsPerHost)
	setIfPositive(&t.MaxConnsPerHost, c.maxConnsPerHost)

	return t
}

func setIfPositive[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}
