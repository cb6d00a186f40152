package marketcache

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

func md(symbol string) types.MarketData {
	return types.MarketData{
		Symbol: symbol,
		Price:  decimal.NewFromInt(100),
		Candles5m: []types.Candle{
			{TimestampMs: 1, Close: decimal.NewFromInt(100)},
		},
	}
}

func TestCache_PutAndGet(t *testing.T) {
	c := New(zap.NewNop(), 10)
	c.Put(md("BTCUSDT"))

	got, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", got.Symbol)
}

func TestCache_GetMissing(t *testing.T) {
	c := New(zap.NewNop(), 10)
	_, ok := c.Get("NOPE")
	assert.False(t, ok)
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c := New(zap.NewNop(), 2)
	c.Put(md("A"))
	c.Put(md("B"))
	c.Put(md("C")) // should evict A

	_, ok := c.Get("A")
	assert.False(t, ok)
	_, ok = c.Get("B")
	assert.True(t, ok)
	_, ok = c.Get("C")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_UpdateExistingDoesNotEvict(t *testing.T) {
	c := New(zap.NewNop(), 2)
	c.Put(md("A"))
	c.Put(md("B"))
	updated := md("A")
	updated.Price = decimal.NewFromInt(200)
	c.Put(updated)

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("A")
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(200)))
}

func TestCache_SnapshotIsACopy(t *testing.T) {
	c := New(zap.NewNop(), 10)
	c.Put(md("BTCUSDT"))

	snap := c.Snapshot()
	snap["BTCUSDT"].Candles5m[0].Close = decimal.NewFromInt(999)

	got, _ := c.Get("BTCUSDT")
	assert.True(t, got.Candles5m[0].Close.Equal(decimal.NewFromInt(100)))
}

func TestCache_DeleteRemovesEntry(t *testing.T) {
	c := New(zap.NewNop(), 10)
	c.Put(md("BTCUSDT"))
	c.Delete("BTCUSDT")
	_, ok := c.Get("BTCUSDT")
	assert.False(t, ok)
}
