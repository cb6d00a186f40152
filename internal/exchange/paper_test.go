package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

func TestPaperClient_FetchMarketsReturnsUniverse(t *testing.T) {
	c := NewPaperClient(zap.NewNop(), []string{"BTCUSDT", "ETHUSDT"}, decimal.NewFromInt(10_000), 100)
	got, err := c.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, got)
}

func TestPaperClient_FetchOHLCVReturnsLimitCandles(t *testing.T) {
	c := NewPaperClient(zap.NewNop(), []string{"BTCUSDT"}, decimal.NewFromInt(10_000), 100)
	candles, err := c.FetchOHLCV(context.Background(), "BTCUSDT", 5, 50)
	require.NoError(t, err)
	assert.Len(t, candles, 50)
	for i := 1; i < len(candles); i++ {
		assert.Greater(t, candles[i].TimestampMs, candles[i-1].TimestampMs)
	}
}

func TestPaperClient_CreateOrderFillsAndDebitsBalance(t *testing.T) {
	c := NewPaperClient(zap.NewNop(), []string{"BTCUSDT"}, decimal.NewFromInt(10_000), 100)

	order, err := c.CreateOrder(context.Background(), "BTCUSDT", types.SideLong, types.OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero, CreateOrderParams{})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(1)))

	bal, err := c.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal["USDT"].LessThan(decimal.NewFromInt(10_000)))
}

func TestPaperClient_UnknownSymbolErrors(t *testing.T) {
	c := NewPaperClient(zap.NewNop(), []string{"BTCUSDT"}, decimal.NewFromInt(10_000), 100)
	_, err := c.FetchTicker(context.Background(), "NOPE")
	assert.Error(t, err)
}

func TestPaperClient_CancelOrderAlwaysSucceeds(t *testing.T) {
	c := NewPaperClient(zap.NewNop(), []string{"BTCUSDT"}, decimal.NewFromInt(10_000), 100)
	ok, err := c.CancelOrder(context.Background(), "x", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)
}
