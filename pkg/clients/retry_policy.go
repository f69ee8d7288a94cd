package clients

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// RetryAfterDetail is the error detail carrying a server-requested wait,
// parsed from a Retry-After header.
const RetryAfterDetail = "retry_after"

// RetryPolicy retries an operation with exponential backoff and jitter.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// OnRetry, when set, is called before each wait. attempt starts at 1.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        maxDelay,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// DefaultRetryPolicy returns three attempts starting at one second.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second, 30*time.Second)
}

// Execute runs fn until it succeeds or attempts run out.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteWithCondition runs fn, retrying only errors for which shouldRetry
// returns true. Non-retryable errors are returned unchanged. When attempts
// run out the last error is wrapped with its own type, so IsType and
// IsRetryable callers see the same classification.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= rp.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) || attempt == rp.MaxAttempts {
			break
		}

		wait := rp.delayFor(attempt-1, lastErr)
		if rp.OnRetry != nil {
			rp.OnRetry(attempt, lastErr, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}

	if rp.MaxAttempts == 1 || !shouldRetry(lastErr) {
		return lastErr
	}
	errType := errors.ErrorTypeConnection
	var e *errors.Error
	if errors.As(lastErr, &e) {
		errType = e.Type
	}
	return errors.Wrap(lastErr, errType, "giving up after "+strconv.Itoa(rp.MaxAttempts)+" attempts")
}

// delayFor returns the wait before the next attempt. A Retry-After hint on
// err wins over the computed backoff but is still capped by MaxDelay.
func (rp *RetryPolicy) delayFor(attempt int, err error) time.Duration {
	var e *errors.Error
	if errors.As(err, &e) {
		if hint, ok := e.Details[RetryAfterDetail].(time.Duration); ok && hint > 0 {
			if rp.MaxDelay > 0 && hint > rp.MaxDelay {
				return rp.MaxDelay
			}
			return hint
		}
	}
	return rp.calculateDelay(attempt)
}

func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// jitter
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta //nolint:gosec // jitter does not need crypto rand
	}

	return time.Duration(delay)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. It returns zero when the header is absent or unparseable.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
