package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/internal/errs"
	"github.com/atlas-desktop/breakout-engine/internal/exchange"
	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

type fakeClient struct {
	last      decimal.Decimal
	depthUSD  decimal.Decimal
	fillErr   error
	failAfter int
	calls     int
}

func (f *fakeClient) FetchMarkets(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeClient) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: symbol, Last: f.last}, nil
}
func (f *fakeClient) FetchOHLCV(ctx context.Context, symbol string, timeframeMinutes, limit int) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (exchange.OrderBook, error) {
	return exchange.OrderBook{
		Symbol: symbol,
		Asks:   []exchange.PriceLevel{{Price: f.last, Size: f.depthUSD.Div(f.last)}},
		Bids:   []exchange.PriceLevel{{Price: f.last, Size: f.depthUSD.Div(f.last)}},
	}, nil
}
func (f *fakeClient) FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	return nil, nil
}
func (f *fakeClient) CreateOrder(ctx context.Context, symbol string, side types.Side, orderType types.OrderType, qty, price decimal.Decimal, params exchange.CreateOrderParams) (types.Order, error) {
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return types.Order{}, errors.New("simulated rejection")
	}
	if f.fillErr != nil {
		return types.Order{}, f.fillErr
	}
	fillPrice := price
	if fillPrice.IsZero() {
		fillPrice = f.last
	}
	return types.Order{Status: types.OrderStatusFilled, FilledQty: qty, AvgFillPrice: fillPrice}, nil
}
func (f *fakeClient) CancelOrder(ctx context.Context, exchangeID, symbol string) (bool, error) {
	return true, nil
}

func baseConfig() Config {
	return Config{
		EnableTWAP:            true,
		EnableIceberg:         true,
		TWAPMinSlices:         4,
		TWAPMaxSlices:         12,
		TWAPIntervalSec:       0.01,
		TWAPNotionalThreshold: decimal.NewFromInt(25_000),
		IcebergMinNotional:    decimal.NewFromInt(10_000),
		MaxDepthFraction:      0.2,
		LimitOffsetBps:        5,
		DeadmanTimeout:        2 * time.Second,
		TakerFeeBps:           4,
		MakerFeeBps:           2,
	}
}

func TestExecute_SmallOrderSkipsSlicing(t *testing.T) {
	client := &fakeClient{last: decimal.NewFromInt(100), depthUSD: decimal.NewFromInt(1_000_000)}
	mgr := New(zap.NewNop(), baseConfig(), client, nil)
	order, err := mgr.Execute(context.Background(), Request{Symbol: "BTCUSDT", Side: types.SideLong, Intent: types.IntentEntry, Quantity: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, client.calls)
}

func TestExecute_LargeOrderSlicesAcrossTWAP(t *testing.T) {
	client := &fakeClient{last: decimal.NewFromInt(100), depthUSD: decimal.NewFromInt(1_000_000)}
	mgr := New(zap.NewNop(), baseConfig(), client, nil)
	// 100,000 / 100 = 1000 qty -> notional 100,000, above the 25,000 threshold
	order, err := mgr.Execute(context.Background(), Request{Symbol: "BTCUSDT", Side: types.SideLong, Intent: types.IntentEntry, Quantity: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromInt(1000)))
	assert.Greater(t, client.calls, 1)
	assert.True(t, order.FeesUSD.IsPositive())
}

func TestExecute_PartialFillOnSliceErrors(t *testing.T) {
	client := &fakeClient{last: decimal.NewFromInt(100), depthUSD: decimal.NewFromInt(1_000_000), failAfter: 1}
	handler := errs.NewHandler(zap.NewNop(), 0, 0, 0, nil)
	mgr := New(zap.NewNop(), baseConfig(), client, handler)
	order, err := mgr.Execute(context.Background(), Request{Symbol: "BTCUSDT", Side: types.SideLong, Intent: types.IntentEntry, Quantity: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPartial, order.Status)
	assert.True(t, order.FilledQty.LessThan(decimal.NewFromInt(1000)))
	assert.True(t, order.FilledQty.IsPositive())
}

func TestExecute_FullRejectionReturnsZeroFill(t *testing.T) {
	client := &fakeClient{last: decimal.NewFromInt(100), fillErr: errors.New("broker rejected")}
	mgr := New(zap.NewNop(), baseConfig(), client, nil)
	order, err := mgr.Execute(context.Background(), Request{Symbol: "BTCUSDT", Side: types.SideLong, Intent: types.IntentEntry, Quantity: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusRejected, order.Status)
	assert.True(t, order.FilledQty.IsZero())
}

func TestExecute_DeadmanTimerCancelsOutstandingSlices(t *testing.T) {
	client := &fakeClient{last: decimal.NewFromInt(100), depthUSD: decimal.NewFromInt(1_000_000)}
	cfg := baseConfig()
	cfg.TWAPIntervalSec = 1 // slow enough that the 50ms deadman below expires mid-plan
	cfg.DeadmanTimeout = 50 * time.Millisecond
	mgr := New(zap.NewNop(), cfg, client, nil)
	order, err := mgr.Execute(context.Background(), Request{Symbol: "BTCUSDT", Side: types.SideLong, Intent: types.IntentEntry, Quantity: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	assert.True(t, order.FilledQty.LessThan(decimal.NewFromInt(1000)))
	assert.True(t, order.FilledQty.IsPositive())
}

func TestSplitQuantity_SumsToOriginal(t *testing.T) {
	sizes := splitQuantity(decimal.NewFromFloat(1000), 7)
	require.Len(t, sizes, 7)
	sum := decimal.Zero
	for _, s := range sizes {
		sum = sum.Add(s)
	}
	assert.True(t, sum.Equal(decimal.NewFromFloat(1000)))
}
