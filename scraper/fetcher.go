package scraper

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aluiziolira/go-scrape-engine/config"
)

// responseCacheSize bounds the optional response cache.
const responseCacheSize = 4096

// Response is the raw outcome of a successful fetch.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher performs single-URL fetches with rate-limit admission, crawl-policy
// checking, identity rotation, and retry with exponential backoff.
//
// The retry loop is a state machine: each attempt ends in success, a
// retryable failure, or a terminal failure. Retryable failures loop while
// attempts remain; a denied admission re-runs the same attempt without
// consuming a retry slot.
type Fetcher struct {
	cfg     *config.Config
	limiter *RateLimiter
	rotator *IdentityRotator
	policy  *PolicyCache
	metrics *Metrics

	cache *expirable.LRU[string, *Response]

	clientsMu sync.Mutex
	clients   map[string]*http.Client

	retryCount atomic.Int64

	// transport overrides the per-proxy transports when non-nil (tests).
	transport http.RoundTripper
	// sleep suspends between attempts and while awaiting admission.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a fetcher over the shared limiter, rotator, and policy
// cache owned by the orchestrator.
func NewFetcher(cfg *config.Config, limiter *RateLimiter, rotator *IdentityRotator, policy *PolicyCache, metrics *Metrics) *Fetcher {
	f := &Fetcher{
		cfg:     cfg,
		limiter: limiter,
		rotator: rotator,
		policy:  policy,
		metrics: metrics,
		clients: make(map[string]*http.Client),
		sleep:   sleepContext,
	}
	if cfg.EnableCaching {
		f.cache = expirable.NewLRU[string, *Response](responseCacheSize, nil, cfg.CacheTTL)
	}
	return f
}

// Fetch retrieves one URL, retrying retryable failures up to MaxRetries
// times. Each attempt gets a fresh per-request timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if f.cache != nil {
		if resp, ok := f.cache.Get(rawURL); ok {
			f.metrics.IncCacheHit()
			return resp, nil
		}
	}

	for attempt := 0; ; attempt++ {
		// Admission control. A denial is not a failure: sleep out the
		// window and re-run the same attempt.
		for !f.limiter.Admit() {
			wait := f.limiter.WaitTime()
			slog.Debug("rate limited",
				slog.String("url", rawURL),
				slog.Duration("wait", wait),
			)
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		if !f.policy.Allowed(rawURL) {
			return nil, ErrPolicyBlocked{URL: rawURL}
		}

		resp, err := f.do(ctx, rawURL)
		if err == nil {
			if f.cache != nil {
				f.cache.Add(rawURL, resp)
			}
			return resp, nil
		}

		if !retryable(err) || attempt >= f.cfg.MaxRetries {
			return nil, err
		}

		delay := f.backoff(attempt)
		slog.Debug("retrying fetch",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		f.retryCount.Add(1)
		f.metrics.IncRetries()
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Retries returns the total number of retry attempts performed so far.
func (f *Fetcher) Retries() int {
	return int(f.retryCount.Load())
}

// do issues a single HTTP attempt and classifies its outcome.
func (f *Fetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		// Malformed request: terminal by construction.
		return nil, err
	}

	userAgent := config.DefaultUserAgent
	if f.cfg.RotateIdentities {
		userAgent = f.rotator.NextUserAgent()
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	var proxy *url.URL
	if f.cfg.RotateProxies {
		proxy = f.rotator.NextProxy()
	}

	// Cancellation is cooperative: an in-flight attempt runs to its own
	// completion or per-request timeout even after the batch is stopped.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	f.metrics.IncRequest("started")
	resp, err := f.client(proxy).Do(req.WithContext(reqCtx))
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, ErrHTTPStatus{Code: resp.StatusCode}
	}

	return &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// backoff returns the delay before the retry following the given attempt
// index: RetryBackoff * 2^attempt, capped at RetryBackoffMax.
func (f *Fetcher) backoff(attempt int) time.Duration {
	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<attempt)
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// client returns a reusable HTTP client for the given proxy (nil for a
// direct connection). Clients are built lazily and cached per proxy.
func (f *Fetcher) client(proxy *url.URL) *http.Client {
	key := ""
	if proxy != nil {
		key = proxy.String()
	}

	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c
	}

	var rt http.RoundTripper
	if f.transport != nil {
		rt = f.transport
	} else {
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   f.cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: !f.cfg.VerifySSL},
		}
		if proxy != nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
		rt = transport
	}

	c := &http.Client{Transport: rt}
	if !f.cfg.FollowRedirects {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	f.clients[key] = c
	return c
}

// classifyTransportError maps a raw transport error to the fetch taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return ErrTransport{Err: err}
}

// sleepContext pauses for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
