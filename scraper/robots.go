package scraper

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// PolicyCache caches per-origin robots.txt decisions for the lifetime of one
// orchestrator. Entries are created lazily on first lookup and never
// invalidated during a run; staleness is traded for fewer round trips.
//
// The robots.txt fetch itself is a single plain GET: it bypasses the rate
// limiter and retry logic, and any failure degrades to allow-all.
type PolicyCache struct {
	enabled bool
	client  *http.Client

	mu      sync.RWMutex
	origins map[string]*robotstxt.RobotsData // nil entry means allow all
}

// NewPolicyCache builds a cache. When enabled is false every lookup is
// allowed without touching the network.
func NewPolicyCache(enabled bool, client *http.Client) *PolicyCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &PolicyCache{
		enabled: enabled,
		client:  client,
		origins: make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the URL's path may be fetched under its origin's
// crawl policy.
func (pc *PolicyCache) Allowed(rawURL string) bool {
	if !pc.enabled {
		return true
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	origin := parsed.Scheme + "://" + parsed.Host

	pc.mu.RLock()
	data, ok := pc.origins[origin]
	pc.mu.RUnlock()

	if !ok {
		// Fetch outside the lock; the first writer wins on a race.
		fetched := pc.fetch(origin)

		pc.mu.Lock()
		if existing, ok := pc.origins[origin]; ok {
			data = existing
		} else {
			pc.origins[origin] = fetched
			data = fetched
		}
		pc.mu.Unlock()
	}

	if data == nil {
		return true
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return data.FindGroup("*").Test(path)
}

// fetch retrieves and parses an origin's robots.txt. Any failure yields nil,
// which Allowed treats as allow-all.
func (pc *PolicyCache) fetch(origin string) *robotstxt.RobotsData {
	robotsURL := origin + "/robots.txt"

	resp, err := pc.client.Get(robotsURL)
	if err != nil {
		slog.Warn("robots.txt fetch failed, allowing all",
			slog.String("origin", origin),
			slog.Any("error", err),
		)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		slog.Warn("robots.txt parse failed, allowing all",
			slog.String("origin", origin),
			slog.Any("error", err),
		)
		return nil
	}
	return data
}

// Origins returns the number of cached origin policies.
func (pc *PolicyCache) Origins() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.origins)
}
