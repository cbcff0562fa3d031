// Package fetcher downloads the published datasets into the data directory:
// conditional GETs with retries and a per-host adaptive rate limit, and
// extraction of zipped shapefile bundles.
package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBackoff bounds any single wait between attempts, including one asked
// for by a Retry-After header.
const maxBackoff = 30 * time.Second

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RatePerSec is the starting request rate per host.
	RatePerSec float64
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

// hostLimiter paces requests to one host. Each success raises the rate by
// a fifth, up to twice the starting rate; each 429 halves it, down to a
// quarter.
type hostLimiter struct {
	mu     sync.Mutex
	lim    *rate.Limiter
	floor  rate.Limit
	ceil   rate.Limit
	target rate.Limit
}

func newHostLimiter(start float64) *hostLimiter {
	r := rate.Limit(start)
	return &hostLimiter{
		lim:    rate.NewLimiter(r, max(1, int(math.Ceil(start)))),
		floor:  r / 4,
		ceil:   r * 2,
		target: r,
	}
}

func (h *hostLimiter) wait(ctx context.Context) error { return h.lim.Wait(ctx) }

func (h *hostLimiter) adjust(factor float64) rate.Limit {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = min(max(h.target*rate.Limit(factor), h.floor), h.ceil)
	h.lim.SetLimit(h.target)
	return h.target
}

func (h *hostLimiter) limit() rate.Limit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// HTTPFetcher downloads over net/http with retry and rate limiting.
type HTTPFetcher struct {
	client *http.Client
	opts   Options

	mu    sync.Mutex
	hosts map[string]*hostLimiter
}

// NewHTTPFetcher creates an HTTPFetcher, filling unset options with defaults.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "parcel-risk/1.0"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:  opts,
		hosts: make(map[string]*hostLimiter),
	}
}

func (f *HTTPFetcher) host(name string) *hostLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hosts[name]
	if !ok {
		h = newHostLimiter(f.opts.RatePerSec)
		f.hosts[name] = h
	}
	return h
}

// get issues req until it gets a response that is neither a transport
// error, a 429 nor a 5xx, or the attempts run out.
func (f *HTTPFetcher) get(ctx context.Context, req *http.Request) (*http.Response, error) {
	h := f.host(req.URL.Host)
	log := zap.L().With(zap.String("url", req.URL.Redacted()))

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if attempt > 0 {
			f.sleep(ctx, f.delay(attempt-1, lastErr))
		}
		if err := h.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &throttled{after: retryAfter(resp.Header.Get("Retry-After"))}
			_ = resp.Body.Close()
			log.Warn("fetcher: throttled", zap.Float64("rate", float64(h.adjust(0.5))))
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = eris.Errorf("http %d", resp.StatusCode)
			_ = resp.Body.Close()
		default:
			h.adjust(1.2)
			return resp, nil
		}
		log.Warn("fetcher: attempt failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return nil, eris.Wrapf(lastErr, "fetcher: %d attempts failed", f.opts.MaxRetries)
}

// throttled is a 429, carrying the server's Retry-After if it sent one.
type throttled struct{ after time.Duration }

func (t *throttled) Error() string { return "http 429" }

// retryAfter parses a Retry-After header given in seconds. HTTP dates are
// not used by the servers we fetch from and count as absent.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// delay is the wait before retry n (0-based): the server's Retry-After if
// given, otherwise exponential backoff with up to 50% jitter.
func (f *HTTPFetcher) delay(n int, cause error) time.Duration {
	if t, ok := cause.(*throttled); ok && t.after > 0 {
		return min(t.after, maxBackoff)
	}
	d := min(time.Duration(float64(f.opts.BackoffBase)*math.Pow(2, float64(n))), maxBackoff)
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	return d
}

func (f *HTTPFetcher) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// DownloadIfChanged fetches rawURL unless the server reports the given ETag
// is still current. It returns the body, the new ETag and whether the
// content changed. An empty etag always downloads.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.get(ctx, req)
	if err != nil {
		return nil, "", false, err
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		_ = resp.Body.Close()
		return nil, etag, false, nil
	case http.StatusOK:
		return resp.Body, resp.Header.Get("ETag"), true, nil
	default:
		_ = resp.Body.Close()
		return nil, "", false, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, req.URL.Redacted())
	}
}
