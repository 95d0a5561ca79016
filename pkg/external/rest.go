package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/resistance-prophet-server/internal/domain"
)

const maxBodyBytes = 8 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Source string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Source, e.Status, e.Body)
}

// NotFound reports whether the upstream answered 404.
func (e *StatusError) NotFound() bool { return e.Status == http.StatusNotFound }

func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// restClient is the rate-limited, breaker-guarded JSON GET every client uses.
type restClient struct {
	source  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retries int
	backoff time.Duration
	log     *logrus.Logger
}

func newRESTClient(source, defaultBase string, cfg domain.APIClientConfig, defaultRate int, logger *logrus.Logger) *restClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRate
	}

	rc := &restClient{
		source:  source,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retries: cfg.RetryCount,
		backoff: 200 * time.Millisecond,
		log:     logger,
	}
	rc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && ratio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.NotFound()) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return rc
}

// getJSON fetches baseURL+path and decodes the body into out. 429 and 5xx
// responses are retried with linear backoff.
func (c *restClient) getJSON(ctx context.Context, path string, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= c.retries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt) * c.backoff):
				}
			}
			lastErr = c.do(ctx, path, out)
			var se *StatusError
			if lastErr == nil || !errors.As(lastErr, &se) || !se.retryable() {
				return nil, lastErr
			}
			c.log.WithFields(logrus.Fields{
				"source":  c.source,
				"status":  se.Status,
				"attempt": attempt + 1,
			}).Debug("Retrying upstream request")
		}
		return nil, lastErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s unavailable: %w", c.source, err)
	}
	return err
}

func (c *restClient) do(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", c.source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "resistance-prophet/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", c.source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", c.source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &StatusError{Source: c.source, Status: resp.StatusCode, Body: snippet}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.source, err)
	}
	return nil
}

// cached runs fetch on a cache miss and stores its result. Cache failures
// are logged and never fail the lookup.
func cached[T any](ctx context.Context, cache Cache, log *logrus.Logger, key string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	if cache != nil {
		var hit T
		ok, err := cache.Get(ctx, key, &hit)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("Cache read failed")
		}
		if ok {
			return hit, nil
		}
	}

	v, err := fetch()
	if err != nil {
		return v, err
	}
	if cache != nil {
		if err := cache.Set(ctx, key, v, ttl); err != nil {
			log.WithError(err).WithField("key", key).Warn("Cache write failed")
		}
	}
	return v, nil
}
