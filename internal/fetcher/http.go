package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/caseworks/docpipe/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int

	// RequestsPerSecond bounds outbound requests. Zero means 10 rps.
	RequestsPerSecond float64
}

// HTTPFetcher downloads documents over http(s) with rate limiting and
// retry on transient failures.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "docpipe/1.0"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	policy := resilience.DefaultPolicy()
	policy.Attempts = opts.MaxRetries
	policy.OnRetry = resilience.LogRetries("fetcher", "http get")

	return &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)),
		policy:  policy,
	}
}

type httpResult struct {
	data        []byte
	contentType string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	res, err := resilience.DoVal(ctx, f.policy, func(ctx context.Context) (httpResult, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return httpResult{}, eris.Wrap(err, "fetcher: rate limiter wait")
		}
		return f.get(ctx, source)
	})
	if err != nil {
		return nil, "", err
	}
	return res.data, res.contentType, nil
}

func (f *HTTPFetcher) get(ctx context.Context, source string) (httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return httpResult{}, eris.Wrapf(err, "fetcher: build request %s", source)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return httpResult{}, eris.Wrapf(err, "fetcher: get %s", source)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("fetcher: http %d from %s", resp.StatusCode, source)
		if resilience.RetryableStatus(resp.StatusCode) {
			return httpResult{}, resilience.Transient(err, resp.StatusCode)
		}
		return httpResult{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResult{}, resilience.Transient(eris.Wrapf(err, "fetcher: read body %s", source), 0)
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	if ct == "" || ct == "application/octet-stream" {
		if byName := typeFromName(source); byName != "" {
			ct = byName
		}
	}
	return httpResult{data: data, contentType: ct}, nil
}
