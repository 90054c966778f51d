package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"gridmap/internal/ratelimit"
)

const (
	// UserAgent is sent with every tile request
	UserAgent = "gridmap/1.0 (+region map tiles)"

	// MaxBodyBytes caps the size of one tile response
	MaxBodyBytes = 16 << 20

	DefaultRequestsPerSecond = 20
	DefaultBurst             = 10
)

// ErrRateLimited is returned without a request while the tile host is backing off
var ErrRateLimited = errors.New("tile host is rate limited")

// StatusError is a non-200 response from the tile host
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tile HTTP %d for %s", e.Code, e.URL)
}

// DiskCache stores fetched bytes by reference
type DiskCache interface {
	Get(ref string) ([]byte, bool)
	Set(ref string, data []byte) error
}

// Options configures a Client. Zero values use the defaults.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
	Disk              DiskCache
	RateLimit         *ratelimit.Handler
	Verbose           bool
}

// Client fetches tile bytes over HTTP. It paces requests with a token bucket,
// backs off hosts that answer with a rate-limit status and keeps a disk copy
// of every tile it fetches.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	rateLimit  *ratelimit.Handler
	disk       DiskCache
	userAgent  string
	verbose    bool
}

// NewClient creates a client with system proxy support
func NewClient(opts Options) *Client {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = UserAgent
	}
	if opts.RateLimit == nil {
		opts.RateLimit = ratelimit.NewHandler(nil)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		rateLimit: opts.RateLimit,
		disk:      opts.Disk,
		userAgent: opts.UserAgent,
		verbose:   opts.Verbose,
	}
}

// RateLimit returns the handler tracking rate-limited hosts
func (c *Client) RateLimit() *ratelimit.Handler {
	return c.rateLimit
}

// Fetch returns the bytes behind ref, from the disk cache when present
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if c.disk != nil {
		if data, ok := c.disk.Get(ref); ok {
			return data, nil
		}
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid tile reference %q", ref)
	}
	host := u.Host

	if c.rateLimit.IsRateLimited(host) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, host)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if c.rateLimit.CheckResponse(host, resp) {
		return nil, fmt.Errorf("%w: %s answered %d", ErrRateLimited, host, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: ref}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}
	if len(data) > MaxBodyBytes {
		return nil, fmt.Errorf("tile larger than %d bytes: %s", MaxBodyBytes, ref)
	}

	if c.disk != nil {
		if err := c.disk.Set(ref, data); err != nil {
			log.Printf("[Fetcher] Failed to cache %s: %v", ref, err)
		}
	}
	if c.verbose {
		log.Printf("[Fetcher] Fetched %s (%d bytes)", ref, len(data))
	}

	return data, nil
}
