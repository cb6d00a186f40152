package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// PaperClient is an in-memory Client implementation used when the engine
// runs with trading_mode=paper (§6 "fetch_balance ... paper mode returns a
// configured simulated balance"). It never touches a network and fills
// every order immediately at the requested (or last-known) price.
type PaperClient struct {
	mu sync.Mutex

	logger    *zap.Logger
	limiter   *rate.Limiter
	universe  []string
	prices    map[string]decimal.Decimal
	balances  map[string]decimal.Decimal
	rng       *rand.Rand
}

// NewPaperClient builds a PaperClient seeded with universe and a starting
// quote-asset balance. requestsPerSecond bounds the simulated REST rate
// limit the same way a live client would be bounded (grounded on
// golang.org/x/time/rate usage for exchange REST clients in the pack).
func NewPaperClient(logger *zap.Logger, universe []string, startingBalance decimal.Decimal, requestsPerSecond float64) *PaperClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 20
	}
	prices := make(map[string]decimal.Decimal, len(universe))
	for _, sym := range universe {
		prices[sym] = decimal.NewFromInt(100)
	}
	return &PaperClient{
		logger:   logger.Named("exchange.paper"),
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)),
		universe: universe,
		prices:   prices,
		balances: map[string]decimal.Decimal{"USDT": startingBalance},
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (p *PaperClient) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// FetchMarkets returns the configured paper universe.
func (p *PaperClient) FetchMarkets(ctx context.Context) ([]string, error) {
	if err := p.wait(ctx); err != nil {
		return nil, fmt.Errorf("exchange.paper: fetch markets: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.universe))
	copy(out, p.universe)
	return out, nil
}

// FetchTicker returns the last simulated price for symbol.
func (p *PaperClient) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	if err := p.wait(ctx); err != nil {
		return Ticker{}, fmt.Errorf("exchange.paper: fetch ticker %s: %w", symbol, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return Ticker{}, fmt.Errorf("exchange.paper: unknown symbol %s", symbol)
	}
	return Ticker{Symbol: symbol, Last: price}, nil
}

// FetchOHLCV synthesizes a deterministic random-walk candle series around
// the symbol's current simulated price.
func (p *PaperClient) FetchOHLCV(ctx context.Context, symbol string, timeframeMinutes int, limit int) ([]types.Candle, error) {
	if err := p.wait(ctx); err != nil {
		return nil, fmt.Errorf("exchange.paper: fetch ohlcv %s: %w", symbol, err)
	}
	p.mu.Lock()
	base, ok := p.prices[symbol]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("exchange.paper: unknown symbol %s", symbol)
	}

	candles := make([]types.Candle, limit)
	price := base
	now := time.Now().Add(-time.Duration(limit*timeframeMinutes) * time.Minute)
	for i := 0; i < limit; i++ {
		open := price
		delta := decimal.NewFromFloat((p.rng.Float64() - 0.5) * 0.01).Mul(open)
		close := open.Add(delta)
		high := decimal.Max(open, close).Add(decimal.NewFromFloat(0.001).Mul(open))
		low := decimal.Min(open, close).Sub(decimal.NewFromFloat(0.001).Mul(open))
		candles[i] = types.Candle{
			TimestampMs: now.Add(time.Duration(i*timeframeMinutes) * time.Minute).UnixMilli(),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       close,
			Volume:      decimal.NewFromFloat(1000 + p.rng.Float64()*500),
		}
		price = close
	}

	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
	return candles, nil
}

// FetchOrderBook synthesizes a symmetric book around the current price.
func (p *PaperClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	if err := p.wait(ctx); err != nil {
		return OrderBook{}, fmt.Errorf("exchange.paper: fetch order book %s: %w", symbol, err)
	}
	p.mu.Lock()
	price, ok := p.prices[symbol]
	p.mu.Unlock()
	if !ok {
		return OrderBook{}, fmt.Errorf("exchange.paper: unknown symbol %s", symbol)
	}

	book := OrderBook{Symbol: symbol}
	step := price.Mul(decimal.NewFromFloat(0.0005))
	for i := 1; i <= depth; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, PriceLevel{Price: price.Sub(offset), Size: decimal.NewFromFloat(10.0 / float64(i))})
		book.Asks = append(book.Asks, PriceLevel{Price: price.Add(offset), Size: decimal.NewFromFloat(10.0 / float64(i))})
	}
	return book, nil
}

// FetchBalance returns the simulated balance map.
func (p *PaperClient) FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := p.wait(ctx); err != nil {
		return nil, fmt.Errorf("exchange.paper: fetch balance: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

// CreateOrder fills immediately at the requested price, or the current
// simulated price for market orders, and debits/credits the USDT balance.
func (p *PaperClient) CreateOrder(ctx context.Context, symbol string, side types.Side, orderType types.OrderType, qty, price decimal.Decimal, params CreateOrderParams) (types.Order, error) {
	if err := p.wait(ctx); err != nil {
		return types.Order{}, fmt.Errorf("exchange.paper: create order %s: %w", symbol, err)
	}

	p.mu.Lock()
	fillPrice := price
	if orderType == types.OrderTypeMarket || fillPrice.IsZero() {
		fillPrice = p.prices[symbol]
	}
	notional := qty.Mul(fillPrice)
	if side == types.SideLong {
		p.balances["USDT"] = p.balances["USDT"].Sub(notional)
	} else {
		p.balances["USDT"] = p.balances["USDT"].Add(notional)
	}
	p.mu.Unlock()

	now := time.Now()
	order := types.Order{
		ID:           uuid.NewString(),
		ExchangeID:   uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		Qty:          qty,
		Price:        price,
		Type:         orderType,
		Status:       types.OrderStatusFilled,
		FilledQty:    qty,
		AvgFillPrice: fillPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.logger.Debug("paper order filled",
		zap.String("symbol", symbol), zap.String("side", string(side)), zap.String("qty", qty.String()))
	return order, nil
}

// CancelOrder is a no-op success: paper orders fill synchronously and so
// are never left outstanding to cancel.
func (p *PaperClient) CancelOrder(ctx context.Context, exchangeID, symbol string) (bool, error) {
	return true, nil
}
