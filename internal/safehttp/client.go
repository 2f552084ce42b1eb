// Package safehttp builds the outbound HTTP client used to dispatch
// webhooks: a fixed timeout and default headers, an SSRF-resistant DNS
// resolver that only ever dials globally routable IPv4 addresses, and
// bounded-size sampling of response bodies for persisted error messages.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rezkam/hookworker/internal/webhook"
)

const (
	// DefaultUserAgent identifies this worker to destination servers.
	DefaultUserAgent = "Hookworker Webhook Worker"

	// defaultBodySampleLimit bounds how much of a response body is read for
	// persisted error messages; see bodysample.go.
	defaultBodySampleLimit = 2048
)

// Config configures the safe HTTP client.
type Config struct {
	// RequestTimeout bounds an entire request, including DNS resolution,
	// connect, TLS handshake, and response read.
	RequestTimeout time.Duration

	// UserAgent overrides DefaultUserAgent when non-empty.
	UserAgent string

	// BodySampleLimit overrides defaultBodySampleLimit when positive.
	BodySampleLimit int

	// Resolver overrides the resolver used for hostname lookups; nil uses
	// net.DefaultResolver. Exposed for tests that need to stub DNS.
	Resolver *net.Resolver
}

// Client issues outbound webhook requests with the safety properties
// described in the package doc.
type Client struct {
	http            *http.Client
	userAgent       string
	bodySampleLimit int
}

// NewClient builds a Client from cfg, filling in defaults for zero fields.
func NewClient(cfg Config) *Client {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: safeDialContext(resolver, dialer),
		// Proxies are never honored for webhook egress. The request
		// timeout is enforced by the client-level Timeout below.
		Proxy: nil,
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	bodySampleLimit := cfg.BodySampleLimit
	if bodySampleLimit <= 0 {
		bodySampleLimit = defaultBodySampleLimit
	}

	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   cfg.RequestTimeout,
		},
		userAgent:       userAgent,
		bodySampleLimit: bodySampleLimit,
	}
}

// safeDialContext returns a DialContext that resolves addr's host through
// resolver, keeping only globally routable IPv4 addresses, then dials the
// first one that accepts a connection. Resolving here (instead of trusting
// net.Dialer's own resolution) is what prevents a DNS response racing
// between the safety check and the actual connect (TOCTOU / DNS rebinding).
func safeDialContext(resolver *net.Resolver, dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("safehttp: invalid dial address %q: %w", addr, err)
		}

		if ip := net.ParseIP(host); ip != nil {
			// Already an address literal: still subject to the public-IPv4
			// filter, just skip the lookup.
			if !isGlobalIPv4(ip) {
				return nil, fmt.Errorf("safehttp: dialing %q: %w", host, webhook.ErrNoPublicIP)
			}
			return dialer.DialContext(ctx, network, addr)
		}

		addrs, err := resolvePublicIPv4(ctx, resolver, host)
		if err != nil {
			return nil, err
		}

		var lastErr error
		for _, ip := range addrs {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("safehttp: failed to connect to any resolved address for %q: %w", host, lastErr)
	}
}
