// Package exchange defines the external exchange collaborator contracts
// consumed by the engine (§6) and a paper-trading simulator that
// satisfies them without touching a real venue. Live implementations are
// expected to wrap a REST/WebSocket SDK behind the same interfaces.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// OrderBook is a top-N levels order book snapshot.
type OrderBook struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// PriceLevel is one price/size rung of an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Ticker is a condensed last-price quote.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
}

// CreateOrderParams carries the optional fields create_order accepts.
type CreateOrderParams struct {
	ReduceOnly bool
	ClientID   string
}

// Client is the exchange collaborator contract the engine consumes.
// Implementations must make every method safe to call concurrently.
type Client interface {
	FetchMarkets(ctx context.Context) ([]string, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOHLCV(ctx context.Context, symbol string, timeframeMinutes int, limit int) ([]types.Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	CreateOrder(ctx context.Context, symbol string, side types.Side, orderType types.OrderType, qty, price decimal.Decimal, params CreateOrderParams) (types.Order, error)
	CancelOrder(ctx context.Context, exchangeID, symbol string) (bool, error)
}

// TradeStreamer optionally streams trades per symbol (§6 "Optional
// WebSocket streams"). Absence of this capability must never abort a
// scanning cycle; callers log and continue on subscription failure.
type TradeStreamer interface {
	SubscribeTrades(ctx context.Context, symbol string) (<-chan Trade, error)
	SubscribeBookDeltas(ctx context.Context, symbol string) (<-chan BookDelta, error)
}

// Trade is a single executed trade tick from a streaming subscription.
type Trade struct {
	Symbol    string
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Side      types.Side
	TimestampMs int64
}

// BookDelta is an incremental order-book update from a streaming
// subscription.
type BookDelta struct {
	Symbol      string
	Bids        []PriceLevel
	Asks        []PriceLevel
	TimestampMs int64
}

// TradesPerMinuteTracker is the optional "trades aggregator" collaborator
// (§4.5.3) that reports a 60s trades-per-minute figure for a symbol.
type TradesPerMinuteTracker interface {
	TradesPerMinute(symbol string) (float64, bool)
}

// DensityDetector is the optional density-zone collaborator (§4.5.3,
// §4.8) reporting consumption of a density zone and the zones themselves.
type DensityDetector interface {
	EatenRatio(symbol string, side types.Side) (float64, bool)
	Zones(symbol string) []types.DensityZone
}

// ActivityTracker is the optional activity-drop collaborator (§4.5.3).
type ActivityTracker interface {
	IsDropping(symbol string) bool
}
