package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/metrics"
	"catalog-crawler/pkg/utils"
)

// Fetcher performs a single logical page fetch with adaptive per-attempt
// timeouts and backoff retry, using an underlying http.Client. Concurrency is
// bounded by the Gate wrapped around every request.
type Fetcher struct {
	client    *http.Client
	gate      *Gate
	policy    config.RetryConfig
	userAgent string
	robots    *RobotsGate // nil when robots checking is disabled
	metrics   *metrics.Metrics
	log       *logrus.Logger
}

// NewFetcher creates a new Fetcher instance.
func NewFetcher(client *http.Client, gate *Gate, policy config.RetryConfig, userAgent string, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		gate:      gate,
		policy:    policy,
		userAgent: userAgent,
		log:       log,
	}
}

// SetRobots installs an optional robots.txt gate consulted before each fetch.
func (f *Fetcher) SetRobots(r *RobotsGate) { f.robots = r }

// SetMetrics installs optional instrumentation.
func (f *Fetcher) SetMetrics(m *metrics.Metrics) { f.metrics = m }

// Fetch retrieves url and returns the parsed HTML document.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := f.FetchBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML parse of %s: %w", utils.ErrParsing, url, err)
	}
	return doc, nil
}

// FetchBytes retrieves url with retry and returns the raw response body.
// Timeout for attempt n is min(baseTimeout * backoff^(n-1), maxTimeout).
// A timeout-class failure sleeps 2^attempt seconds before the next attempt;
// any other transient failure (connection error, non-2xx) sleeps
// attempt * 1.5 seconds. After maxAttempts the last error is returned wrapped
// with ErrRetryFailed. The loop is iterative: stack depth never grows with
// the attempt count.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	reqLog := f.log.WithField("url", url)

	if f.robots != nil && !f.robots.Allowed(ctx, url) {
		reqLog.Warn("Blocked by robots.txt")
		return nil, utils.ErrRobotsDisallowed
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		// Check cancellation before attempting or sleeping
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry after error: %w", err, lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", err)
		}

		timeout := f.timeoutFor(attempt)
		attemptLog := reqLog.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": f.policy.MaxAttempts,
			"timeout":      timeout,
		})

		body, err := f.doAttempt(ctx, url, timeout)
		if err == nil {
			f.metrics.IncFetch("success")
			f.metrics.ObserveFetch(time.Since(start))
			attemptLog.Debug("Successfully fetched")
			return body, nil
		}
		lastErr = err

		// Context cancellation is terminal, not transient
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			f.metrics.IncFetch("cancelled")
			return nil, err
		}

		if attempt == f.policy.MaxAttempts {
			break
		}

		// Timeout-class failures back off harder than other transient ones
		var wait time.Duration
		if isTimeout(err) {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
			attemptLog.WithField("wait", wait).Warnf("Timeout, retrying: %v", err)
		} else {
			wait = time.Duration(float64(attempt) * 1.5 * float64(time.Second))
			attemptLog.WithField("wait", wait).Warnf("Transient failure, retrying: %v", err)
		}
		f.metrics.IncRetry()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
		}
	}

	f.metrics.IncFetch("failure")
	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", f.policy.MaxAttempts, lastErr)
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// doAttempt performs one HTTP request under the gate with the given timeout.
func (f *Fetcher) doAttempt(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if err := f.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer f.gate.Release()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, resp.StatusCode, resp.Status)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, resp.StatusCode, resp.Status)
		default:
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, resp.StatusCode, resp.Status)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return body, nil
}

// timeoutFor computes the adaptive timeout for a 1-based attempt number.
func (f *Fetcher) timeoutFor(attempt int) time.Duration {
	t := time.Duration(float64(f.policy.BaseTimeout) * math.Pow(f.policy.BackoffFactor, float64(attempt-1)))
	if t > f.policy.MaxTimeout || t <= 0 {
		t = f.policy.MaxTimeout
	}
	return t
}

// isTimeout reports whether err is a timeout-class failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
