// Package marketcache implements the engine's bounded symbol->snapshot
// market data cache (C3): oldest-insert eviction, no background refresh,
// and copy-out semantics so callers can never mutate a cached snapshot.
package marketcache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// defaultMaxSize mirrors the spec's default max_cache_size when the
// caller passes zero.
const defaultMaxSize = 500

// entry pairs a cached snapshot with its insertion order, used to find
// the oldest entry to evict when the cache is full.
type entry struct {
	data  types.MarketData
	order uint64
}

// Cache is a symbol-keyed, size-bounded store of the latest MarketData
// snapshot per symbol. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	maxSize int
	seq     uint64
	byKey   map[string]entry

	logger *zap.Logger
}

// New builds a Cache bounded to maxSize entries (defaultMaxSize if <= 0).
func New(logger *zap.Logger, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Cache{
		maxSize: maxSize,
		byKey:   make(map[string]entry),
		logger:  logger.Named("marketcache"),
	}
}

// Put inserts or updates the snapshot for data.Symbol. If the cache is
// full and the symbol is new, the oldest-inserted entry is evicted.
func (c *Cache) Put(data types.MarketData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byKey[data.Symbol]; !exists && len(c.byKey) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.seq++
	c.byKey[data.Symbol] = entry{data: data, order: c.seq}
}

// PutAll inserts a batch, in iteration order, under a single lock.
func (c *Cache) PutAll(snapshots []types.MarketData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, data := range snapshots {
		if _, exists := c.byKey[data.Symbol]; !exists && len(c.byKey) >= c.maxSize {
			c.evictOldestLocked()
		}
		c.seq++
		c.byKey[data.Symbol] = entry{data: data, order: c.seq}
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestOrder uint64
	first := true
	for k, e := range c.byKey {
		if first || e.order < oldestOrder {
			oldestKey = k
			oldestOrder = e.order
			first = false
		}
	}
	if !first {
		delete(c.byKey, oldestKey)
		c.logger.Debug("evicted oldest cache entry", zap.String("symbol", oldestKey))
	}
}

// Get returns a copy of the cached snapshot for symbol, if present.
func (c *Cache) Get(symbol string) (types.MarketData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byKey[symbol]
	if !ok {
		return types.MarketData{}, false
	}
	return copySnapshot(e.data), true
}

// Snapshot returns copies of every cached entry.
func (c *Cache) Snapshot() map[string]types.MarketData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]types.MarketData, len(c.byKey))
	for k, e := range c.byKey {
		out[k] = copySnapshot(e.data)
	}
	return out
}

// Len returns the current number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// Delete removes symbol from the cache, if present.
func (c *Cache) Delete(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, symbol)
}

// copySnapshot deep-copies the slice fields of a MarketData so handed-out
// snapshots cannot alias the cache's internal storage.
func copySnapshot(d types.MarketData) types.MarketData {
	out := d
	if d.Candles5m != nil {
		out.Candles5m = make([]types.Candle, len(d.Candles5m))
		copy(out.Candles5m, d.Candles5m)
	}
	return out
}
