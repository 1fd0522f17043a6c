// Package httpclient provides a shared, optimized HTTP client for vidgrab.
package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when no User-Agent header is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

// Config holds HTTP client configuration.
type Config struct {
	Timeout         time.Duration
	MaxConnsPerHost int
	DisableHTTP2    bool
	Headers         map[string]string

	// Cookies is a "name=value; name2=value2" string applied to CookieURLs.
	Cookies    string
	CookieURLs []string

	// MaxBandwidth caps body reads in bytes per second; 0 is unlimited.
	MaxBandwidth int64

	// Tracing wraps the transport with OpenTelemetry spans.
	Tracing bool
}

// DefaultConfig returns sensible defaults for media downloads.
func DefaultConfig() Config {
	return Config{
		Timeout:         0, // per-request deadlines come from the context
		MaxConnsPerHost: 100,
		DisableHTTP2:    false,
		Headers:         map[string]string{},
	}
}

// New creates an optimized HTTP client for high-throughput downloads.
func New(cfg Config) *http.Client {
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: true, // segments are already compressed
		ForceAttemptHTTP2:  !cfg.DisableHTTP2,
		DialContext:        dialer.DialContext,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if cfg.MaxBandwidth > 0 {
		// allow bursts of 64KB
		transport = &rateLimitedTransport{
			base:    transport,
			limiter: rate.NewLimiter(rate.Limit(cfg.MaxBandwidth), 64*1024),
		}
	}

	transport = &headerTransport{
		base:    transport,
		headers: cfg.Headers,
	}

	if cfg.Tracing {
		transport = otelhttp.NewTransport(transport)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		Jar:       newJar(cfg.Cookies, cfg.CookieURLs),
	}
}

// NewWithRateLimit creates a client with bandwidth limiting.
// bytesPerSec is the maximum download speed in bytes per second.
// Set to 0 for unlimited.
func NewWithRateLimit(cfg Config, bytesPerSec int64) *http.Client {
	cfg.MaxBandwidth = bytesPerSec
	return New(cfg)
}

// newJar builds a cookie jar seeded with the configured cookies.
func newJar(cookies string, urls []string) http.CookieJar {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil
	}
	parsed := ParseCookies(cookies)
	if len(parsed) == 0 {
		return jar
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		jar.SetCookies(u, parsed)
	}
	return jar
}

// ParseCookies parses a Cookie header style string.
func ParseCookies(s string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return out
}

// headerTransport sets default headers on requests that do not already
// carry them.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 || req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", DefaultUserAgent)
		}
	}
	return t.base.RoundTrip(req)
}

// rateLimitedTransport wraps a transport with rate limiting.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	resp.Body = &rateLimitedReader{
		r:       resp.Body,
		limiter: t.limiter,
		ctx:     req.Context(),
	}
	return resp, nil
}

// rateLimitedReader wraps an io.ReadCloser with rate limiting.
type rateLimitedReader struct {
	r       io.ReadCloser
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	// WaitN fails when n exceeds the burst
	if len(p) > r.limiter.Burst() {
		p = p[:r.limiter.Burst()]
	}
	if err := r.limiter.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (r *rateLimitedReader) Close() error {
	return r.r.Close()
}
