package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/trialgate/trialgate/internal/metrics"
)

const (
	// MaxPageSize is the registry's hard cap on pageSize.
	MaxPageSize = 1000

	defaultPageSize   = 100
	defaultTimeout    = 30 * time.Second
	maxRetries        = 3
	maxBackoff        = 30 * time.Second
	defaultRatePerMin = 300
	defaultBurst      = 10
)

// Config tunes the registry client.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	PageSize   int           `yaml:"page_size"`
	RatePerMin float64       `yaml:"rate_per_min"`
	Burst      int           `yaml:"burst"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultConfig returns production defaults for the public registry.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://clinicaltrials.gov/api/v2",
		PageSize:   defaultPageSize,
		RatePerMin: defaultRatePerMin,
		Burst:      defaultBurst,
		Timeout:    defaultTimeout,
	}
}

// PageCache is an optional read-through cache over page payloads.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Client pages through the registry's listing endpoint with a token bucket
// and a circuit breaker around every page fetch.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   PageCache
	metrics *metrics.Registry
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPageCache enables a read-through cache for page payloads.
func WithPageCache(cache PageCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithMetrics counts page fetch outcomes and retries.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a registry client with rate limiting and circuit breaking.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = defaultPageSize
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = defaultRatePerMin
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerMin/60.0), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "registry",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IterateOpts bounds a single iteration.
type IterateOpts struct {
	Since    *time.Time // server-side LastUpdatePostDate filter
	PageSize int        // 0 means the configured default
}

// IterateStudies walks the listing endpoint and invokes fn for every record
// that passes the client-side filter. Iteration terminates when the server
// reports no next-page token, fn returns an error, or ctx is cancelled.
func (c *Client) IterateStudies(ctx context.Context, opts IterateOpts, fn func(RawStudy) error) error {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = c.cfg.PageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	pageToken := ""
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := c.fetchPage(ctx, opts.Since, pageSize, pageToken)
		if err != nil {
			return err
		}
		pages++

		for _, study := range page.Studies {
			if !RawStudy(study).MatchesFilter() {
				continue
			}
			if err := fn(RawStudy(study)); err != nil {
				return err
			}
		}

		if page.NextPageToken == "" {
			log.Debug().Int("pages", pages).Msg("registry iteration complete")
			return nil
		}
		pageToken = page.NextPageToken
	}
}

type listingPage struct {
	Studies       []map[string]interface{} `json:"studies"`
	NextPageToken string                   `json:"nextPageToken"`
}

func (c *Client) pageURL(since *time.Time, pageSize int, pageToken string) string {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	if since != nil {
		q.Set("query.term", fmt.Sprintf("AREA[LastUpdatePostDate]RANGE[%s,MAX]", since.Format("2006-01-02")))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	return c.cfg.BaseURL + "/studies?" + q.Encode()
}

// fetchPage fetches one page, honoring the rate limit, the retry policy for
// transient failures, and server-directed 429 waits (which do not count
// against the retry budget).
func (c *Client) fetchPage(ctx context.Context, since *time.Time, pageSize int, pageToken string) (*listingPage, error) {
	u := c.pageURL(since, pageSize, pageToken)

	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, u); ok {
			var page listingPage
			if err := json.Unmarshal(data, &page); err == nil {
				return &page, nil
			}
		}
	}

	attempt := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, u)
		if err == nil {
			c.countRequest("ok")
			var page listingPage
			if jsonErr := json.Unmarshal(body, &page); jsonErr != nil {
				return nil, &PermanentError{URL: u, Err: fmt.Errorf("malformed page payload: %w", jsonErr)}
			}
			if c.cache != nil {
				c.cache.Set(ctx, u, body, 5*time.Minute)
			}
			return &page, nil
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			c.countRequest("rate_limited")
			log.Warn().Str("url", u).Dur("retry_after", rl.RetryAfter).Msg("registry rate limited, waiting")
			if sleepErr := c.sleep(ctx, rl.RetryAfter); sleepErr != nil {
				return nil, sleepErr
			}
			continue // does not consume the retry budget
		}

		var transient *TransientError
		if errors.As(err, &transient) {
			c.countRequest("transient")
			if attempt < maxRetries {
				backoff := time.Duration(math.Min(math.Pow(2, float64(attempt)), maxBackoff.Seconds())) * time.Second
				log.Warn().Str("url", u).Int("attempt", attempt+1).Dur("backoff", backoff).
					Msg("transient registry failure, backing off")
				if sleepErr := c.sleep(ctx, backoff); sleepErr != nil {
					return nil, sleepErr
				}
				attempt++
				if c.metrics != nil {
					c.metrics.RegistryRetries.Inc()
				}
				continue
			}
			return nil, err
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			c.countRequest("permanent")
		}
		return nil, err
	}
}

func (c *Client) countRequest(outcome string) {
	if c.metrics != nil {
		c.metrics.RegistryRequests.WithLabelValues(outcome).Inc()
	}
}

// doOnce performs a single HTTP round trip through the circuit breaker and
// classifies the outcome into the error taxonomy.
func (c *Client) doOnce(ctx context.Context, u string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, &PermanentError{URL: u, Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransientError{URL: u, Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, &TransientError{URL: u, Err: err}
			}
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &RateLimitedError{URL: u, RetryAfter: retryAfter(resp)}
		case resp.StatusCode >= 500:
			return nil, &TransientError{URL: u, StatusCode: resp.StatusCode}
		default:
			return nil, &PermanentError{URL: u, StatusCode: resp.StatusCode}
		}
	})
	if err != nil {
		// An open breaker behaves like a transient outage.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransientError{URL: u, Err: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
