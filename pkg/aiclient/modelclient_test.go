package aiclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport serves scripted responses and tracks in-flight concurrency.
type fakeTransport struct {
	mu        sync.Mutex
	responses []fakeResult
	calls     int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	delay       time.Duration
	block       bool // block until ctx is done (timeout testing)
}

type fakeResult struct {
	resp *Response
	err  error
}

func (f *fakeTransport) Do(ctx context.Context, req Request) (*Response, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.responses) == 0 {
		return &Response{Content: "ok", Model: req.Model, TokensUsed: 10}, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.resp, r.err
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCreateMessage_Success(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr, NewLimiter(5), Options{})

	resp, err := c.CreateMessage(context.Background(), Request{Model: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.False(t, resp.WasRetried)
	assert.Equal(t, 1, tr.callCount())
}

func TestCreateMessage_NeverExceedsMaxConcurrent(t *testing.T) {
	tr := &fakeTransport{delay: 20 * time.Millisecond}
	limiter := NewLimiter(5)
	c := New(tr, limiter, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CreateMessage(context.Background(), Request{Model: "m"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, tr.maxInFlight.Load(), int64(5))
	assert.Equal(t, 25, tr.callCount())
}

func TestCreateMessage_RetryAfterHonored(t *testing.T) {
	tr := &fakeTransport{
		responses: []fakeResult{
			{err: &StatusError{StatusCode: 429, RetryAfter: 2 * time.Second, Message: "slow down"}},
			{resp: &Response{Content: "done", TokensUsed: 5}},
		},
	}
	c := New(tr, NewLimiter(1), Options{})

	start := time.Now()
	resp, err := c.CreateMessage(context.Background(), Request{Model: "m"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, resp.WasRetried)
	assert.GreaterOrEqual(t, elapsed, 1900*time.Millisecond)
	assert.Less(t, elapsed, 3500*time.Millisecond)
	assert.Equal(t, 2, tr.callCount())
}

func TestCreateMessage_PermanentErrorNotRetried(t *testing.T) {
	tr := &fakeTransport{
		responses: []fakeResult{
			{err: &StatusError{StatusCode: 401, Message: "bad key"}},
		},
	}
	c := New(tr, NewLimiter(1), Options{})

	_, err := c.CreateMessage(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, KindAPI, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, tr.callCount())
}

func TestCreateMessage_RetriesExhausted(t *testing.T) {
	tr := &fakeTransport{
		responses: []fakeResult{
			{err: &StatusError{StatusCode: 503, Message: "down"}},
			{err: &StatusError{StatusCode: 503, Message: "down"}},
			{err: &StatusError{StatusCode: 503, Message: "down"}},
		},
	}
	c := New(tr, NewLimiter(1), Options{MaxRetries: 2, RetryDelayMs: 1})

	_, err := c.CreateMessage(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, KindRetriesExhausted, KindOf(err))
	assert.False(t, IsRetryable(err))

	// The wrapped cause keeps the transient classification.
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 503, e.StatusCode)
	assert.Equal(t, 3, tr.callCount())
}

func TestCreateMessage_NetworkErrorsRetried(t *testing.T) {
	tr := &fakeTransport{
		responses: []fakeResult{
			{err: errors.New("connection reset by peer")},
			{resp: &Response{Content: "recovered"}},
		},
	}
	c := New(tr, NewLimiter(1), Options{RetryDelayMs: 1})

	resp, err := c.CreateMessage(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.True(t, resp.WasRetried)
	assert.Equal(t, "recovered", resp.Content)
}

func TestCreateMessage_Timeout(t *testing.T) {
	tr := &fakeTransport{block: true}
	c := New(tr, NewLimiter(1), Options{})

	_, err := c.CreateMessage(context.Background(), Request{Model: "m", TimeoutMs: 50})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	// Timeouts are retryable at the caller's discretion, never internally.
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 0, tr.callCount())
}

func TestNewAnthropic_MissingKey(t *testing.T) {
	_, err := NewAnthropic("", nil, Options{})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestBackoffDelay(t *testing.T) {
	// Exponential growth from the base delay.
	assert.Equal(t, 2*time.Second, backoffDelay(0, 2000, 0))
	assert.Equal(t, 4*time.Second, backoffDelay(1, 2000, 0))
	assert.Equal(t, 8*time.Second, backoffDelay(2, 2000, 0))

	// Server retry-after wins when smaller than the computed backoff.
	assert.Equal(t, time.Second, backoffDelay(1, 2000, time.Second))
	// But never grows the delay.
	assert.Equal(t, 2*time.Second, backoffDelay(0, 2000, 10*time.Second))

	// Hard cap at 30s.
	assert.Equal(t, 30*time.Second, backoffDelay(10, 2000, 0))
}

func TestLimiter_Defaults(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrent, NewLimiter(0).Max())
	assert.Equal(t, 2, NewLimiter(2).Max())
}
