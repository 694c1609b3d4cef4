package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/tap-acuite/internal/policy/ratelimit"
	"github.com/JakeFAU/tap-acuite/internal/progress"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Config configures a Client.
type Config struct {
	BaseURL        string
	APIKey         string
	AuthHeader     string
	MaxConcurrency int64
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Its Timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEmitter reports fetch completions to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(c *Client) {
		if emitter != nil {
			c.emitter = emitter
		}
	}
}

// WithLimiter waits on limiter before every attempt.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithRetryPolicy overrides the policy built from Config.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		if policy != nil {
			c.retry = policy
		}
	}
}

// Client is the run-scoped API fetcher. It is safe for concurrent use; the
// semaphore it owns bounds requests in flight across all callers.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	sem     *semaphore.Weighted
	retry   RetryPolicy
	limiter *ratelimit.Limiter
	emitter progress.Emitter
	logger  *zap.Logger
}

var _ tap.Fetcher = (*Client)(nil)

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("fetcher: api key is required")
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "AcuiteApiKey"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		sem:     semaphore.NewWeighted(cfg.MaxConcurrency),
		retry:   NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		emitter: progress.Nop{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch performs the GET described by req and returns the response body.
// Failed attempts are retried per the retry policy; the permit is held only
// while an attempt is on the wire, never across a backoff sleep.
func (c *Client) Fetch(ctx context.Context, req tap.FetchRequest) ([]byte, error) {
	target := c.resolve(req)
	start := time.Now()
	for attempt := 1; ; attempt++ {
		body, status, err := c.attempt(ctx, req.Resource, target)
		if err == nil {
			c.report(req.Resource, status, attempt, time.Since(start), "")
			return body, nil
		}
		if ctx.Err() != nil || !c.retry.ShouldRetry(err, attempt) {
			c.report(req.Resource, status, attempt, time.Since(start), err.Error())
			return nil, fmt.Errorf("fetch %s after %d attempt(s): %w", req.Resource, attempt, err)
		}
		delay := c.retry.Backoff(attempt)
		c.logger.Warn("retrying request",
			zap.String("resource", req.Resource),
			zap.String("path", req.Path),
			zap.Int("attempt", attempt),
			zap.Int("status_code", status),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			c.report(req.Resource, status, attempt, time.Since(start), err.Error())
			return nil, fmt.Errorf("fetch %s: %w", req.Resource, err)
		}
	}
}

// FetchJSON fetches req and decodes the body into out, keeping numbers as
// json.Number.
func (c *Client) FetchJSON(ctx context.Context, req tap.FetchRequest, out any) error {
	body, err := c.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if err := tap.DecodeJSON(body, out); err != nil {
		return fmt.Errorf("%s: %w", req.Resource, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, resource, target string) ([]byte, int, error) {
	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, 0, err
	}
	if waited > time.Millisecond {
		c.logger.Debug("rate limited", zap.String("resource", resource), zap.Duration("waited", waited))
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, fmt.Errorf("acquire fetch permit: %w", err)
	}
	defer c.sem.Release(1)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set(c.cfg.AuthHeader, c.cfg.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("requesting", zap.String("resource", resource), zap.String("url", target))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", resource, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, newHTTPError(resource, target, resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s body: %w", resource, err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) resolve(req tap.FetchRequest) string {
	// Path segments arrive already escaped, so parse rather than assign Path.
	rel := strings.TrimPrefix(req.Path, "/")
	ref, err := url.Parse(rel)
	if err != nil {
		ref = &url.URL{Path: rel}
	}
	u := c.base.ResolveReference(ref)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

func (c *Client) report(resource string, status, attempts int, dur time.Duration, note string) {
	c.emitter.Emit(progress.Event{
		TS:          time.Now().UTC(),
		Stage:       progress.StageFetchDone,
		Stream:      resource,
		StatusCode:  status,
		StatusClass: progress.ClassifyStatus(status),
		Attempts:    attempts,
		Dur:         dur,
		Note:        note,
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
