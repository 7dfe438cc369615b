package aiclient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults applied when a Request leaves the corresponding field zero.
const (
	DefaultTimeoutMs    = 300000
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 2000

	maxBackoff = 30 * time.Second
)

// Options configures a ModelClient.
type Options struct {
	// RequestsPerSecond throttles call starts; 0 disables throttling.
	RequestsPerSecond float64
	TimeoutMs         int
	MaxRetries        int
	RetryDelayMs      int
}

// ModelClient invokes a Transport under a shared concurrency limit, a
// per-call timeout, and an internal retry policy for transient failures.
type ModelClient struct {
	transport Transport
	limiter   *Limiter
	throttle  *rate.Limiter
	opts      Options
}

// New creates a ModelClient over the given transport and shared limiter.
// A nil limiter gets a private one with the default slot count.
func New(transport Transport, limiter *Limiter, opts Options) *ModelClient {
	if limiter == nil {
		limiter = NewLimiter(DefaultMaxConcurrent)
	}
	var throttle *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		throttle = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &ModelClient{
		transport: transport,
		limiter:   limiter,
		throttle:  throttle,
		opts:      opts,
	}
}

// NewAnthropic creates a ModelClient backed by the Anthropic API.
// A missing API key is a configuration error, never retried.
func NewAnthropic(apiKey string, limiter *Limiter, opts Options) (*ModelClient, error) {
	if apiKey == "" {
		return nil, newError(KindConfig, 0, "anthropic API key is not set", nil)
	}
	return New(NewSDKTransport(apiKey), limiter, opts), nil
}

// attempt is the explicit retry state: how many retries have happened and
// the classified error from the most recent one.
type attempt struct {
	n       int
	lastErr *Error
}

func (a attempt) next(err *Error) attempt {
	return attempt{n: a.n + 1, lastErr: err}
}

// CreateMessage performs one model call with the client's concurrency,
// timeout, and retry policy. The limiter slot is held for the whole call
// including internal retries and released on every exit path.
func (c *ModelClient) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	timeout := time.Duration(pick(req.TimeoutMs, c.opts.TimeoutMs, DefaultTimeoutMs)) * time.Millisecond
	maxRetries := pick(req.MaxRetries, c.opts.MaxRetries, DefaultMaxRetries)
	retryDelay := pick(req.RetryDelayMs, c.opts.RetryDelayMs, DefaultRetryDelayMs)

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, newError(KindNetwork, 0, "interrupted while waiting for a call slot", err)
	}
	defer c.limiter.Release()

	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, newError(KindNetwork, 0, "interrupted while rate limited", err)
		}
	}

	a := attempt{}
	for {
		resp, err := c.doOnce(ctx, req, timeout)
		if err == nil {
			resp.WasRetried = a.n > 0
			return resp, nil
		}

		callErr := classify(err)
		if callErr.Kind == KindTimeout || callErr.Kind == KindAPI {
			// Timeouts and permanent API errors are never retried here;
			// stage-level policy may retry timeouts at its own discretion.
			return nil, callErr
		}
		if ctx.Err() != nil {
			return nil, callErr
		}
		if a.n >= maxRetries {
			return nil, newError(KindRetriesExhausted, callErr.StatusCode,
				"retry budget exhausted", callErr)
		}

		delay := backoffDelay(a.n, retryDelay, retryAfterOf(err))
		zap.L().Warn("aiclient: retrying model call",
			zap.String("model", req.Model),
			zap.String("kind", string(callErr.Kind)),
			zap.Int("attempt", a.n+1),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, callErr
		case <-timer.C:
		}

		a = a.next(callErr)
	}
}

// doOnce performs a single attempt under the per-call timeout.
func (c *ModelClient) doOnce(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.transport.Do(callCtx, req)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, newError(KindTimeout, 0, "model call exceeded "+timeout.String(), err)
	}
	return resp, err
}

// classify maps a transport failure onto the caller-facing taxonomy.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return newError(KindRateLimited, se.StatusCode, se.Message, se)
		case se.StatusCode == 500 || se.StatusCode == 502 || se.StatusCode == 503 || se.StatusCode == 504:
			return newError(KindTransient, se.StatusCode, se.Message, se)
		default:
			return newError(KindAPI, se.StatusCode, se.Message, se)
		}
	}

	return newError(KindNetwork, 0, err.Error(), err)
}

// retryAfterOf extracts a server-provided retry-after hint, if any.
func retryAfterOf(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// backoffDelay computes the wait before retry n:
// min(server retry-after, retryDelayMs * 2^n, 30s).
func backoffDelay(n, retryDelayMs int, retryAfter time.Duration) time.Duration {
	delay := time.Duration(retryDelayMs) * time.Millisecond << uint(n)
	if retryAfter > 0 && retryAfter < delay {
		delay = retryAfter
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func pick(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
