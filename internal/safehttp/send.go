package safehttp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rezkam/hookworker/internal/webhook"
)

// Result describes a successful (2xx/3xx) response.
type Result struct {
	StatusCode int
}

// allowedMethods enumerates the HTTP methods a webhook job may use.
var allowedMethods = map[webhook.Method]string{
	webhook.MethodGet:    http.MethodGet,
	webhook.MethodPost:   http.MethodPost,
	webhook.MethodPut:    http.MethodPut,
	webhook.MethodPatch:  http.MethodPatch,
	webhook.MethodDelete: http.MethodDelete,
}

// Send builds and executes an HTTP request from p, classifying the outcome
// per the authoritative rules: 2xx/3xx is success; 429 or 5xx is a
// *TransportError-free *HTTPError with Retryable() true; other 4xx is a
// non-retryable *HTTPError; anything that fails before a response is
// obtained is a *ParseError or *TransportError.
func (c *Client) Send(ctx context.Context, p webhook.Parameters) (*Result, error) {
	method, ok := allowedMethods[p.Method]
	if !ok {
		return nil, &ParseError{Stage: "method", Err: fmt.Errorf("unknown HTTP method %q", p.Method)}
	}

	parsedURL, err := url.Parse(p.URL)
	if err != nil {
		return nil, &ParseError{Stage: "url", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, parsedURL.String(), bytes.NewReader([]byte(p.Body)))
	if err != nil {
		return nil, &ParseError{Stage: "url", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for name, value := range p.Headers {
		if name == "" {
			return nil, &ParseError{Stage: "headers", Err: fmt.Errorf("empty header name")}
		}
		req.Header.Set(name, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	// Read Retry-After before consuming status, so it's available for any
	// 429/5xx retry regardless of how status is classified below.
	retryAfter, hasRetryAfter := parseRetryAfter(resp.Header, time.Now())

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		// Drain so the connection can be reused; the body content doesn't
		// matter on success.
		_, _ = sampleBody(resp.Body, c.bodySampleLimit)
		return &Result{StatusCode: resp.StatusCode}, nil
	}

	sample, _ := sampleBody(resp.Body, c.bodySampleLimit)
	return nil, &HTTPError{
		StatusCode:    resp.StatusCode,
		RetryAfter:    retryAfter,
		HasRetryAfter: hasRetryAfter,
		BodySample:    sample,
	}
}

// classifyTransportError wraps every failure to obtain a response in a
// *TransportError. The SSRF guard's webhook.ErrNoPublicIP stays reachable
// through errors.Is, and the dispatcher treats it as non-retryable; every
// other transport failure (DNS hiccups, connection refused/reset, TLS
// handshake failures, read/write timeouts) is treated as retryable.
func classifyTransportError(err error) error {
	return &TransportError{Err: err}
}
