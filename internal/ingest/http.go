package ingest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/drm-labs/geoquery/internal/resilience"
)

// Fetcher downloads remote dataset files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into a local file and returns bytes written.
	DownloadToFile(ctx context.Context, rawURL, path string) (int64, error)
}

// hostLimiter wraps a rate.Limiter that backs off when a host throttles us
// and creeps back up on success.
type hostLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	current rate.Limit
}

func newHostLimiter(base rate.Limit, burst int) *hostLimiter {
	return &hostLimiter{
		limiter: rate.NewLimiter(base, burst),
		base:    base,
		current: base,
	}
}

func (h *hostLimiter) Wait(ctx context.Context) error {
	return h.limiter.Wait(ctx)
}

// OnSuccess restores 20% of the base rate per call, capped at base.
func (h *hostLimiter) OnSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.current + h.base/5
	if next > h.base {
		next = h.base
	}
	h.current = next
	h.limiter.SetLimit(next)
}

// OnThrottle halves the rate after a 429, bottoming out at base/4.
func (h *hostLimiter) OnThrottle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.current / 2
	if next < h.base/4 {
		next = h.base / 4
	}
	h.current = next
	h.limiter.SetLimit(next)
	zap.L().Warn("ingest: host throttled, reducing rate",
		zap.Float64("rate", float64(next)),
	)
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// Breaker tunes the per-host circuit breakers. Zero fields keep the
	// defaults.
	Breaker resilience.CircuitBreakerConfig
	// RatePerHost caps request rates to specific hosts. Hosts not listed
	// use DefaultHostRate.
	RatePerHost map[string]rate.Limit
}

// DefaultHostRate is the request rate applied to hosts without an explicit cap.
const DefaultHostRate rate.Limit = 4

// HTTPFetcher implements Fetcher over net/http with per-host rate limiting,
// per-host circuit breakers, and retry on transient failures.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	breakers *resilience.ServiceBreakers
	mu       sync.Mutex
	limiters map[string]*hostLimiter
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geoquery/1.0"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		breakers: resilience.NewServiceBreakers(opts.Breaker),
		limiters: make(map[string]*hostLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *hostLimiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	base := DefaultHostRate
	if r, ok := f.opts.RatePerHost[host]; ok {
		base = r
	}
	lim := newHostLimiter(base, int(base))
	f.limiters[host] = lim
	return lim
}

// get performs one rate-limited request, classifying retryable statuses as
// transient so the resilience layer can act on them. Repeated transient
// failures open the host's circuit breaker.
func (f *HTTPFetcher) get(ctx context.Context, req *http.Request, lim *hostLimiter) (*http.Response, error) {
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ingest: rate limiter wait")
	}

	cb := f.breakers.Get(req.URL.Host)
	return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*http.Response, error) {
		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "ingest: request"), 0)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			_ = resp.Body.Close()
			lim.OnThrottle()
			return nil, resilience.NewTransientError(
				eris.Errorf("ingest: %s throttled", req.URL.Host), resp.StatusCode)
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			return nil, resilience.NewTransientError(
				eris.Errorf("ingest: http %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
		}

		lim.OnSuccess()
		return resp, nil
	})
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	lim := f.limiterFor(rawURL)
	resp, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*http.Response, error) {
		return f.get(ctx, req, lim)
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into a local file.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "ingest: write file")
	}
	return n, nil
}

// DownloadIfChanged fetches the URL only when its ETag differs from the one
// given. Returns (body, newETag, changed, error); body is nil when unchanged.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "ingest: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	lim := f.limiterFor(rawURL)
	resp, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*http.Response, error) {
		return f.get(ctx, req, lim)
	})
	if err != nil {
		return nil, "", false, err
	}

	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		return nil, etag, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", false, eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, resp.Header.Get("ETag"), true, nil
}
