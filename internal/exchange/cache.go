package exchange

import (
	"context"
	"strings"
	"sync"
)

// MarketMeta captures per-symbol precision metadata loaded from a venue.
type MarketMeta struct {
	Symbol         string
	BasePrecision  int32
	QuotePrecision int32
}

// MetadataLoader fetches market metadata for a venue.
type MetadataLoader func(ctx context.Context) (map[string]MarketMeta, error)

// MetadataCache shares loaded market metadata between accounts trading on the
// same venue. It is an explicit dependency injected into each adapter instead
// of a process-global map, so the coupling between accounts stays visible.
type MetadataCache struct {
	mu      sync.Mutex
	entries map[string]map[string]MarketMeta
}

// NewMetadataCache constructs an empty metadata cache.
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{entries: make(map[string]map[string]MarketMeta)}
}

// Load returns the cached metadata for the venue, invoking loader on first use.
// Concurrent loads for the same venue are serialized; only one loader runs.
func (c *MetadataCache) Load(ctx context.Context, venue string, loader MetadataLoader) (map[string]MarketMeta, error) {
	key := normalizeVenue(venue)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.entries[key]; ok {
		return cached, nil
	}
	loaded, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.entries[key] = loaded
	return loaded, nil
}

// Invalidate drops the cached metadata for the venue.
func (c *MetadataCache) Invalidate(venue string) {
	key := normalizeVenue(venue)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func normalizeVenue(venue string) string {
	return strings.ToLower(strings.TrimSpace(venue))
}
