package scraper

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/aluiziolira/go-scrape-engine/config"
)

// IdentityRotator cycles through proxy endpoints and user-agent strings with
// two independent round-robin cursors. Draws are lock-free; each cursor
// advances with a single atomic add.
type IdentityRotator struct {
	proxies []*url.URL
	agents  []string

	proxyCursor atomic.Uint64
	agentCursor atomic.Uint64
}

// NewIdentityRotator parses the proxy list and builds a rotator. Either pool
// may be empty; an empty proxy pool yields direct connections and an empty
// agent pool yields config.DefaultUserAgent.
func NewIdentityRotator(proxies, agents []string) (*IdentityRotator, error) {
	parsed := make([]*url.URL, 0, len(proxies))
	for _, raw := range proxies {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("proxy %q must include a host", raw)
		}
		parsed = append(parsed, u)
	}
	return &IdentityRotator{
		proxies: parsed,
		agents:  agents,
	}, nil
}

// NextProxy returns the next proxy in rotation, or nil when no proxies are
// configured.
func (r *IdentityRotator) NextProxy() *url.URL {
	if len(r.proxies) == 0 {
		return nil
	}
	idx := (r.proxyCursor.Add(1) - 1) % uint64(len(r.proxies))
	return r.proxies[idx]
}

// NextUserAgent returns the next user-agent string in rotation.
func (r *IdentityRotator) NextUserAgent() string {
	if len(r.agents) == 0 {
		return config.DefaultUserAgent
	}
	idx := (r.agentCursor.Add(1) - 1) % uint64(len(r.agents))
	return r.agents[idx]
}
