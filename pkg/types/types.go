// Package types provides the shared data model for the breakout trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the directional bias of a signal or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Strategy identifies which signal generator produced a signal.
type Strategy string

const (
	StrategyMomentum Strategy = "momentum"
	StrategyRetest   Strategy = "retest"
)

// SignalStatus tracks a signal through the Signal Manager's bookkeeping.
type SignalStatus string

const (
	SignalStatusActive   SignalStatus = "active"
	SignalStatusExecuted SignalStatus = "executed"
	SignalStatusFailed   SignalStatus = "failed"
	SignalStatusExpired  SignalStatus = "expired"
	SignalStatusRemoved  SignalStatus = "removed"
)

// LevelKind distinguishes support from resistance.
type LevelKind string

const (
	LevelSupport    LevelKind = "support"
	LevelResistance LevelKind = "resistance"
)

// OrderType matches the execution layer's order kinds.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks an order's lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderIntent records why an order was placed.
type OrderIntent string

const (
	IntentEntry  OrderIntent = "entry"
	IntentTP     OrderIntent = "tp"
	IntentSL     OrderIntent = "sl"
	IntentReduce OrderIntent = "reduce"
)

// PositionStatus is the coarse open/closed state of a Position.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Candle is a single OHLCV bar on a fixed timeframe.
type Candle struct {
	TimestampMs int64           `json:"tsMs"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
}

// Range returns high - low.
func (c Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// Body returns the absolute distance between open and close.
func (c Candle) Body() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

// BodyRatio returns Body/Range, or zero when the range is zero.
func (c Candle) BodyRatio() decimal.Decimal {
	r := c.Range()
	if r.IsZero() {
		return decimal.Zero
	}
	return c.Body().Div(r)
}

// L2Depth is a condensed order-book depth snapshot at two distance bands.
type L2Depth struct {
	BidUSDAt03Pct decimal.Decimal `json:"bidUsdAt03Pct"`
	AskUSDAt03Pct decimal.Decimal `json:"askUsdAt03Pct"`
	BidUSDAt05Pct decimal.Decimal `json:"bidUsdAt05Pct"`
	AskUSDAt05Pct decimal.Decimal `json:"askUsdAt05Pct"`
	SpreadBps     decimal.Decimal `json:"spreadBps"`
	Imbalance     float64         `json:"imbalance"` // in [-1, 1]
}

// MarketData is the normalized per-symbol snapshot the scanner operates on.
type MarketData struct {
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	Volume24hUSD     decimal.Decimal `json:"volume24hUsd"`
	OpenInterestUSD  decimal.Decimal `json:"openInterestUsd"`
	OIChange24hPct   float64         `json:"oiChange24hPct"`
	TradesPerMinute  float64         `json:"tradesPerMinute"`
	ATR5m            decimal.Decimal `json:"atr5m"`
	ATR15m           decimal.Decimal `json:"atr15m"`
	BBWidthPct       float64         `json:"bbWidthPct"`
	BTCCorrelation   float64         `json:"btcCorrelation"`
	L2Depth          L2Depth         `json:"l2Depth"`
	Candles5m        []Candle        `json:"candles5m"`
	TimestampMs      int64           `json:"tsMs"`
}

// Valid checks the MarketData invariants from the spec's data model.
func (m MarketData) Valid(levelLookback int) bool {
	if m.ATR5m.LessThanOrEqual(decimal.Zero) || m.ATR15m.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if len(m.Candles5m) < levelLookback {
		return false
	}
	for i := 1; i < len(m.Candles5m); i++ {
		if m.Candles5m[i].TimestampMs <= m.Candles5m[i-1].TimestampMs {
			return false
		}
	}
	return true
}

// Level is a support/resistance level constructed from swing touches.
type Level struct {
	Price        decimal.Decimal `json:"price"`
	Kind         LevelKind       `json:"kind"`
	TouchCount   int             `json:"touchCount"`
	Strength     float64         `json:"strength"` // in [0, 1]
	FirstTouchMs int64           `json:"firstTouchMs"`
	LastTouchMs  int64           `json:"lastTouchMs"`
	BaseHeight   decimal.Decimal `json:"baseHeight"`
}

// ScanResult is one ranked candidate emitted by the Scanning Manager.
type ScanResult struct {
	Symbol          string             `json:"symbol"`
	Score           float64            `json:"score"` // in [0, 1]
	Rank            int                `json:"rank"`
	FilterResults   map[string]bool    `json:"filterResults"`
	ScoreComponents map[string]float64 `json:"scoreComponents"`
	Levels          []Level            `json:"levels"`
	MarketData      MarketData         `json:"marketData"`
	TimestampMs     int64              `json:"tsMs"`
	CorrelationID   string             `json:"correlationId"`
}

// TakeProfitLevel is one rung of a position's take-profit ladder.
type TakeProfitLevel struct {
	Price           decimal.Decimal `json:"price"`
	SizePct         float64         `json:"sizePct"`
	RewardMultiple  float64         `json:"rewardMultiple"`
	WasAdjusted     bool            `json:"wasAdjusted"`
	AdjustReason    string          `json:"adjustReason,omitempty"`
}

// Signal is a candidate entry produced by the Signal Manager.
type Signal struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Side          Side              `json:"side"`
	Strategy      Strategy          `json:"strategy"`
	Entry         decimal.Decimal   `json:"entry"`
	StopLoss      decimal.Decimal   `json:"stopLoss"`
	TakeProfits   []TakeProfitLevel `json:"takeProfits"`
	Confidence    float64           `json:"confidence"` // in [0, 1]
	Reason        string            `json:"reason"`
	CreatedAt     time.Time         `json:"createdAt"`
	Status        SignalStatus      `json:"status"`
	CorrelationID string            `json:"correlationId"`
	Meta          SignalMeta        `json:"meta"`
}

// SignalMeta carries the market-data snapshot a signal was generated from
// plus whatever the Risk gate has precomputed for it.
type SignalMeta struct {
	MarketData  MarketData   `json:"marketData"`
	SizedBy     *PositionSize `json:"sizedBy,omitempty"`
}

// Valid checks the monotone entry/stop/TP ladder invariant.
func (s Signal) Valid() bool {
	if len(s.TakeProfits) == 0 {
		if s.Side == SideLong {
			return s.StopLoss.LessThan(s.Entry)
		}
		return s.StopLoss.GreaterThan(s.Entry)
	}
	if s.Side == SideLong {
		if !(s.StopLoss.LessThan(s.Entry) && s.Entry.LessThan(s.TakeProfits[0].Price)) {
			return false
		}
		for i := 1; i < len(s.TakeProfits); i++ {
			if !s.TakeProfits[i].Price.GreaterThan(s.TakeProfits[i-1].Price) {
				return false
			}
		}
		return true
	}
	if !(s.StopLoss.GreaterThan(s.Entry) && s.Entry.GreaterThan(s.TakeProfits[0].Price)) {
		return false
	}
	for i := 1; i < len(s.TakeProfits); i++ {
		if !s.TakeProfits[i].Price.LessThan(s.TakeProfits[i-1].Price) {
			return false
		}
	}
	return true
}

// PositionSize is the output of the Risk/Sizing Gate for one signal.
type PositionSize struct {
	Quantity     decimal.Decimal `json:"quantity"`
	NotionalUSD  decimal.Decimal `json:"notionalUsd"`
	RiskUSD      decimal.Decimal `json:"riskUsd"`
	RiskR        decimal.Decimal `json:"riskR"`
	StopDistance decimal.Decimal `json:"stopDistance"`
	IsValid      bool            `json:"isValid"`
	Reason       string          `json:"reason,omitempty"`
}

// Order is a (possibly child) exchange order.
type Order struct {
	ID             string          `json:"id"`
	ExchangeID     string          `json:"exchangeId,omitempty"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Qty            decimal.Decimal `json:"qty"`
	Price          decimal.Decimal `json:"price,omitempty"`
	Type           OrderType       `json:"type"`
	Status         OrderStatus     `json:"status"`
	FilledQty      decimal.Decimal `json:"filledQty"`
	AvgFillPrice   decimal.Decimal `json:"avgFillPrice,omitempty"`
	FeesUSD        decimal.Decimal `json:"feesUsd"`
	Intent         OrderIntent     `json:"intent"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// PositionMeta carries derived/auxiliary position bookkeeping.
type PositionMeta struct {
	InitialQty        decimal.Decimal `json:"initialQty"`
	StopDistance       decimal.Decimal `json:"stopDistance"`
	RealizedPnLUSD     decimal.Decimal `json:"realizedPnlUsd"`
	TPLevelsHit        []int           `json:"tpLevelsHit"`
	RemainingSizePct   float64         `json:"remainingSizePct"`
	ExitReason         string          `json:"exitReason,omitempty"`
	EntryOrder         *Order          `json:"entryOrder,omitempty"`
	ExitOrder          *Order          `json:"exitOrder,omitempty"`
}

// PositionTimestamps records the opened/closed/stop-update history.
type PositionTimestamps struct {
	OpenedAt    time.Time   `json:"openedAt"`
	ClosedAt    *time.Time  `json:"closedAt,omitempty"`
	StopUpdates []time.Time `json:"stopUpdates"`
}

// Position is a live (or recently closed) trade.
type Position struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Side       Side               `json:"side"`
	Strategy   Strategy           `json:"strategy"`
	Qty        decimal.Decimal    `json:"qty"`
	Entry      decimal.Decimal    `json:"entry"`
	StopLoss   decimal.Decimal    `json:"stopLoss"`
	NextTP     decimal.Decimal    `json:"nextTp"`
	Status     PositionStatus     `json:"status"`
	PnLUSD     decimal.Decimal    `json:"pnlUsd"`
	PnLR       decimal.Decimal    `json:"pnlR"`
	FeesUSD    decimal.Decimal    `json:"feesUsd"`
	Timestamps PositionTimestamps `json:"timestamps"`
	Meta       PositionMeta       `json:"meta"`
}

// Invariant: a closed position always has zero quantity.
func (p Position) Invariant() bool {
	if p.Status == PositionStatusClosed {
		return p.Qty.IsZero()
	}
	return true
}

// DensityZone is a price band of abnormally concentrated volume.
type DensityZone struct {
	PriceStart decimal.Decimal `json:"priceStart"`
	PriceEnd   decimal.Decimal `json:"priceEnd"`
	Volume     decimal.Decimal `json:"volume"`
	Strength   float64         `json:"strength"`
}

// Contains reports whether price falls within [PriceStart, PriceEnd].
func (z DensityZone) Contains(price decimal.Decimal) bool {
	lo, hi := z.PriceStart, z.PriceEnd
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	return !price.LessThan(lo) && !price.GreaterThan(hi)
}

// SRLevel is a lightweight support/resistance reference used by the
// take-profit optimizer to avoid placing TPs on top of structure.
type SRLevel struct {
	Price             decimal.Decimal `json:"price"`
	Touches           int             `json:"touches"`
	LastTouchBarsAgo  int             `json:"lastTouchBarsAgo"`
	Strength          float64         `json:"strength"`
}
