package langsmith

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// request describes one HTTP call. The caller rebuilds the actual
// *http.Request for every attempt so body readers are never shared
// between retries.
type request struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// caller executes requests against the ingest API with bounded concurrency
// and retries. Transient failures (network errors, 408/425/429/5xx) retry
// with decorrelated jitter; 429 honors Retry-After. A 401 or 403 flips the
// caller into a disabled state where every call fails fast, because a bad
// key cannot get better by retrying.
type caller struct {
	httpClient  *http.Client
	logger      Logger
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	timeout     time.Duration

	// sem bounds in-flight requests across the whole client.
	sem *semaphore.Weighted

	rngMu sync.Mutex
	rng   *rand.Rand

	authInvalid atomic.Bool
	authLogOnce sync.Once
}

func newCaller(cfg *Config, httpClient *http.Client, logger Logger) *caller {
	return &caller{
		httpClient:  httpClient,
		logger:      logger,
		maxAttempts: cfg.HTTP.MaxAttempts,
		backoffBase: cfg.HTTP.BackoffBase,
		backoffCap:  cfg.HTTP.BackoffCap,
		timeout:     cfg.HTTP.RequestTimeout,
		sem:         semaphore.NewWeighted(cfg.HTTP.MaxConcurrentRequests),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// do executes the request until it succeeds, exhausts its attempts, or
// fails terminally. The response body is fully read before returning.
func (c *caller) do(ctx context.Context, req *request) (int, []byte, error) {
	if c.authInvalid.Load() {
		return 0, nil, &ClientError{Op: "caller.do", Kind: "ingest", Err: ErrUnauthorized}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return 0, nil, err
	}
	defer c.sem.Release(1)

	delay := c.backoffBase
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, body, retryAfter, err := c.attempt(ctx, req)
		if err == nil {
			if attempt > 1 {
				c.logger.Debug("Ingest request succeeded after retry", map[string]interface{}{
					"operation": "ingest_recovery",
					"attempts":  attempt,
				})
			}
			return status, body, nil
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		// API rejections outside the transient set are terminal. Anything
		// else, timeouts and transport failures included, is worth another
		// attempt while the parent context lives.
		var apiErr *APIError
		if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
			return status, body, err
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		sleep := delay
		if retryAfter > 0 {
			// The server asked for a specific wait; honor it exactly.
			sleep = retryAfter
		}

		c.logger.Warn("Ingest request failed, retrying", map[string]interface{}{
			"operation":      "ingest_retry_wait",
			"attempt":        attempt,
			"max_attempts":   c.maxAttempts,
			"retry_delay_ms": sleep.Milliseconds(),
			"error":          lastErr.Error(),
		})

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}

		delay = c.nextDelay(delay)
	}

	return 0, nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, c.maxAttempts, lastErr)
}

// attempt performs one try. The returned error is nil only for 2xx.
func (c *caller) attempt(ctx context.Context, req *request) (status int, body []byte, retryAfter time.Duration, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, req.url, bytes.NewReader(req.body))
	if err != nil {
		return 0, nil, 0, err
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			return resp.StatusCode, nil, 0, readErr
		}
		return resp.StatusCode, data, 0, nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       truncateBody(data),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.disableAuth(resp.StatusCode)
		return resp.StatusCode, data, 0, apiErr

	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The server understood the batch and rejected its content.
		// Retrying the same payload can only fail the same way.
		return resp.StatusCode, data, 0, apiErr

	case retryableStatus(resp.StatusCode):
		return resp.StatusCode, data, apiErr.RetryAfter, apiErr

	default:
		return resp.StatusCode, data, 0, apiErr
	}
}

// disableAuth flips the caller into fail-fast mode, logging once.
func (c *caller) disableAuth(statusCode int) {
	c.authInvalid.Store(true)
	c.authLogOnce.Do(func() {
		c.logger.Error("API key rejected, disabling sends for this client", map[string]interface{}{
			"operation":   "ingest_auth",
			"status_code": statusCode,
		})
	})
}

// nextDelay advances the decorrelated jitter schedule.
func (c *caller) nextDelay(prev time.Duration) time.Duration {
	c.rngMu.Lock()
	r := c.rng.Float64()
	c.rngMu.Unlock()

	next := float64(c.backoffBase) + r*(float64(prev)*3-float64(c.backoffBase))
	if next < float64(c.backoffBase) {
		next = float64(c.backoffBase)
	}
	return time.Duration(math.Min(float64(c.backoffCap), next))
}

// parseRetryAfter handles both forms the header allows: integer seconds
// and an HTTP-date.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// truncateBody keeps error bodies loggable.
func truncateBody(data []byte) string {
	const limit = 2048
	if len(data) > limit {
		return string(data[:limit]) + "...(truncated)"
	}
	return string(data)
}
