// Package probe performs bounded-timeout HTTP verification of external links.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"kaisou/internal/domain"
)

const (
	// DefaultUserAgent identifies audit traffic in municipal server logs.
	DefaultUserAgent = "kaisou-linkcheck/1.0 (+https://kaisou.example.jp/about/linkcheck)"

	defaultTimeout    = 15 * time.Second
	defaultBackoff    = 1 * time.Second
	defaultMaxRetries = 1
	maxRedirects      = 5

	// drainLimit bounds how much of a GET body we read before discarding.
	drainLimit = 64 << 10
)

// Result is the outcome of probing one URL.
type Result struct {
	OK           bool
	HTTPStatus   int // 0 when no HTTP response was obtained
	ErrorKind    domain.ProbeErrorKind
	ErrorMessage string
	FinalURL     string
}

// Prober verifies that a URL is alive. Implementations must be safe for
// concurrent use by the orchestrator's worker pool.
type Prober interface {
	Probe(ctx context.Context, rawURL string) Result
}

// HTTPProber probes links with a HEAD-first, GET-fallback policy. Many
// government servers reject HEAD outright but serve full requests, so a
// method rejection is not treated as a dead link.
type HTTPProber struct {
	client     *http.Client
	limiter    *rate.Limiter
	userAgent  string
	timeout    time.Duration
	backoff    time.Duration
	maxRetries int
}

// Option configures an HTTPProber.
type Option func(*HTTPProber)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithUserAgent overrides the probe User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *HTTPProber) {
		if ua != "" {
			p.userAgent = ua
		}
	}
}

// WithMaxRetries sets how many local retries follow a transient failure.
func WithMaxRetries(n int) Option {
	return func(p *HTTPProber) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the fixed delay before a retry.
func WithBackoff(d time.Duration) Option {
	return func(p *HTTPProber) {
		if d > 0 {
			p.backoff = d
		}
	}
}

// WithRateLimit bounds outbound request rate across all workers sharing this
// prober. Zero or negative rps disables limiting.
func WithRateLimit(rps float64) Option {
	return func(p *HTTPProber) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New constructs an HTTPProber with explicit transport timeouts and a
// redirect cap so no probe can block past timeout×(retries+1)+backoff.
func New(opts ...Option) *HTTPProber {
	p := &HTTPProber{
		userAgent:  DefaultUserAgent,
		timeout:    defaultTimeout,
		backoff:    defaultBackoff,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: p.timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
	}
	p.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return p
}

// Probe verifies rawURL. Transient failures (timeout, DNS, 5xx) get one
// fixed-backoff retry; permanent ones (4xx, malformed URL) do not.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) Result {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return Result{
			ErrorKind:    domain.ProbeErrUnknown,
			ErrorMessage: fmt.Sprintf("malformed url: %v", err),
		}
	}

	result := p.attempt(ctx, rawURL)
	for retry := 0; retry < p.maxRetries && !result.OK && result.ErrorKind.Transient(); retry++ {
		select {
		case <-ctx.Done():
			return result
		case <-time.After(p.backoff):
		}
		result = p.attempt(ctx, rawURL)
	}
	return result
}

// attempt runs one HEAD probe with GET fallback under a single deadline.
func (p *HTTPProber) attempt(ctx context.Context, rawURL string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return classifyError(err)
		}
	}

	result, err := p.request(ctx, http.MethodHead, rawURL)
	if err != nil {
		return classifyError(err)
	}
	if methodRejected(result.HTTPStatus) {
		result, err = p.request(ctx, http.MethodGet, rawURL)
		if err != nil {
			return classifyError(err)
		}
	}

	if result.HTTPStatus >= 200 && result.HTTPStatus < 400 {
		result.OK = true
		return result
	}
	result.ErrorKind = classifyStatus(result.HTTPStatus)
	result.ErrorMessage = fmt.Sprintf("http status %d", result.HTTPStatus)
	return result
}

func (p *HTTPProber) request(ctx context.Context, method, rawURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	result := Result{HTTPStatus: resp.StatusCode}
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}
	return result, nil
}

// methodRejected reports whether the server refused the HEAD method class
// rather than the resource itself.
func methodRejected(status int) bool {
	switch status {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusForbidden:
		return true
	}
	return false
}

func classifyStatus(status int) domain.ProbeErrorKind {
	switch {
	case status >= 400 && status < 500:
		return domain.ProbeErrClient
	case status >= 500:
		return domain.ProbeErrServer
	default:
		return domain.ProbeErrUnknown
	}
}

func classifyError(err error) Result {
	kind := domain.ProbeErrUnknown

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		kind = domain.ProbeErrDNS
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ProbeErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = domain.ProbeErrTimeout
	}
	return Result{ErrorKind: kind, ErrorMessage: err.Error()}
}
