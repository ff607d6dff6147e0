// Package fetch is the HTTP plumbing shared by source adapters.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxBody = 32 << 20

// ErrStatus is wrapped by every non-2xx response error.
var ErrStatus = errors.New("unexpected http status")

// StatusError carries the status code and a snippet of the body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Request describes one adapter call.
type Request struct {
	URL            string
	Method         string // GET when empty
	Body           []byte
	Headers        map[string]string
	Proxy          string // template with {url}, or a prefix
	DirectFallback bool
}

// Options configures a Client. Zero values get sensible defaults.
type Options struct {
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	UserAgent  string
	CacheTTL   time.Duration
	CacheSize  int
	NoCache    bool
	RateLimit  time.Duration // minimum spacing between requests to one host, 0 disables
	Logger     *zerolog.Logger
}

// Client performs retried HTTP calls with an optional response cache.
type Client struct {
	http       *http.Client
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	userAgent  string
	cache      *Cache
	log        zerolog.Logger

	interval time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

func New(o Options) *Client {
	c := &Client{
		http:       NewHTTPClient(defaultDur(o.Timeout, 15*time.Second)),
		retries:    o.Retries,
		backoff:    defaultDur(o.Backoff, 500*time.Millisecond),
		maxBackoff: defaultDur(o.MaxBackoff, 5*time.Second),
		userAgent:  o.UserAgent,
		log:        zerolog.Nop(),
		interval:   o.RateLimit,
		limiters:   make(map[string]*rate.Limiter),
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.userAgent == "" {
		c.userAgent = "event-ingester/1.0"
	}
	if !o.NoCache {
		c.cache = NewCache(o.CacheSize, o.CacheTTL)
	}
	if o.Logger != nil {
		c.log = *o.Logger
	}
	return c
}

// Do executes r, routing through the proxy when one is set. With
// DirectFallback a failed proxied call is retried against the target.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if r.Proxy == "" {
		return c.cached(ctx, r, r.URL)
	}
	body, err := c.cached(ctx, r, ProxyURL(r.Proxy, r.URL))
	if err == nil || !r.DirectFallback || ctx.Err() != nil {
		return body, err
	}
	c.log.Warn().Err(err).Str("url", r.URL).Msg("proxy fetch failed, trying direct")
	return c.cached(ctx, r, r.URL)
}

// Get fetches rawURL directly.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.Do(ctx, Request{URL: rawURL})
}

func (c *Client) cached(ctx context.Context, r Request, target string) ([]byte, error) {
	key := r.Method + " " + target
	if c.cache != nil && r.Method == http.MethodGet {
		if b, ok := c.cache.Get(key); ok {
			return b, nil
		}
	}
	var body []byte
	err := Retry(ctx, c.retries+1, c.backoff, c.maxBackoff, func() error {
		b, err := c.once(ctx, r, target)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.cache != nil && r.Method == http.MethodGet {
		c.cache.Put(key, body)
	}
	return body, nil
}

func (c *Client) once(ctx context.Context, r Request, target string) ([]byte, error) {
	var rd io.Reader
	if len(r.Body) > 0 {
		rd = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, rd)
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if l := c.limiter(req.URL.Host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, Permanent(err)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(se)
		}
		return nil, se
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

// limiter returns the shared limiter for host, or nil when rate limiting
// is off.
func (c *Client) limiter(host string) *rate.Limiter {
	if c.interval <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.interval), 1)
		c.limiters[host] = l
	}
	return l
}

// ProxyURL substitutes the escaped target into a {url} template, or
// appends it to a plain prefix.
func ProxyURL(proxy, target string) string {
	if strings.Contains(proxy, "{url}") {
		return strings.ReplaceAll(proxy, "{url}", url.QueryEscape(target))
	}
	return proxy + target
}

func defaultDur(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
