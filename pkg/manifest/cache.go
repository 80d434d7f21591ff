package manifest

import (
	"context"
	"net/url"
	"time"

	"github.com/ExpertVagabond/kino/pkg/cache"
)

// CachingFetcher wraps a Fetcher with a short-lived cache keyed by the
// manifest URL, so a session that re-polls a live playlist or re-loads
// the same VOD title within the TTL window skips the network round
// trip entirely instead of re-fetching and re-parsing identical bytes.
type CachingFetcher struct {
	inner Fetcher
	cache cache.Cache
	ttl   time.Duration
}

// NewCachingFetcher wraps inner with c, caching fetched bodies for ttl
// (0 defers to c's own configured default TTL).
func NewCachingFetcher(inner Fetcher, c cache.Cache, ttl time.Duration) *CachingFetcher {
	return &CachingFetcher{inner: inner, cache: c, ttl: ttl}
}

var _ Fetcher = (*CachingFetcher)(nil)

func (f *CachingFetcher) cacheKey(docURL *url.URL) string {
	return "manifest:" + docURL.String()
}

// FetchText returns the cached body for docURL when present and
// unexpired, otherwise fetches through inner and populates the cache.
func (f *CachingFetcher) FetchText(ctx context.Context, docURL *url.URL) (string, error) {
	key := f.cacheKey(docURL)

	if cached, err := f.cache.Get(ctx, key); err == nil {
		if body, ok := cached.(string); ok {
			return body, nil
		}
	}

	body, err := f.inner.FetchText(ctx, docURL)
	if err != nil {
		return "", err
	}

	_ = f.cache.Set(ctx, key, body, f.ttl)
	return body, nil
}
