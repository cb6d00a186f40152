// Package execution implements the Execution Manager (C7): slices an
// entry/exit into TWAP/iceberg child orders, enforces a deadman timer,
// and aggregates the fills into a single Order (§4.7).
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/internal/errs"
	"github.com/atlas-desktop/breakout-engine/internal/exchange"
	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// Config mirrors config.ExecutionConfig, decoupled from the preset
// package.
type Config struct {
	EnableTWAP            bool
	EnableIceberg         bool
	TWAPMinSlices         int
	TWAPMaxSlices         int
	TWAPIntervalSec       float64
	TWAPNotionalThreshold decimal.Decimal
	IcebergMinNotional    decimal.Decimal
	MaxDepthFraction      float64
	LimitOffsetBps        float64
	DeadmanTimeout        time.Duration
	TakerFeeBps           float64
	MakerFeeBps           float64
}

// Request describes one execution call (§4.7).
type Request struct {
	Symbol     string
	Side       types.Side
	Intent     types.OrderIntent
	Quantity   decimal.Decimal
	ReduceOnly bool
}

// Manager is the Execution Manager (C7).
type Manager struct {
	cfg     Config
	client  exchange.Client
	handler *errs.Handler
	logger  *zap.Logger
}

// New builds a Manager.
func New(logger *zap.Logger, cfg Config, client exchange.Client, handler *errs.Handler) *Manager {
	if cfg.TWAPMinSlices <= 0 {
		cfg.TWAPMinSlices = 4
	}
	if cfg.TWAPMaxSlices <= 0 {
		cfg.TWAPMaxSlices = 12
	}
	if cfg.TWAPIntervalSec <= 0 {
		cfg.TWAPIntervalSec = 2.5
	}
	if cfg.DeadmanTimeout <= 0 {
		cfg.DeadmanTimeout = 8 * time.Second
	}
	return &Manager{cfg: cfg, client: client, handler: handler, logger: logger.Named("execution")}
}

// sliceResult tracks one child order's outcome.
type sliceResult struct {
	filledQty decimal.Decimal
	fillPrice decimal.Decimal
	feesUSD   decimal.Decimal
	err       error
}

// Execute runs the slicing policy for req and returns the aggregate
// Order (§4.7 "Result").
func (m *Manager) Execute(ctx context.Context, req Request) (types.Order, error) {
	ticker, err := m.client.FetchTicker(ctx, req.Symbol)
	if err != nil {
		return types.Order{}, fmt.Errorf("execution: fetch ticker: %w", err)
	}
	mid := ticker.Last

	notional := req.Quantity.Mul(mid)
	plan := m.buildSlicePlan(ctx, req, notional, mid)

	deadlineCtx, cancel := context.WithTimeout(ctx, m.cfg.DeadmanTimeout)
	defer cancel()

	order := types.Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Qty:       req.Quantity,
		Type:      types.OrderTypeMarket,
		Intent:    req.Intent,
		CreatedAt: time.Now(),
		Metadata:  map[string]any{"slice_count": len(plan.sizes)},
	}
	if plan.useLimit {
		order.Type = types.OrderTypeLimit
	}

	var filledQty, notionalFilled, fees decimal.Decimal
	sliceIndex := 0

sliceLoop:
	for sliceIndex < len(plan.sizes) {
		select {
		case <-deadlineCtx.Done():
			m.logger.Warn("deadman timer expired, cancelling outstanding slices",
				zap.String("symbol", req.Symbol), zap.Int("completed", sliceIndex), zap.Int("planned", len(plan.sizes)))
			break sliceLoop
		default:
		}

		size := plan.sizes[sliceIndex]
		res := m.executeSlice(deadlineCtx, req, size, mid, plan.useLimit)
		if res.err != nil {
			m.logger.Warn("slice failed", zap.String("symbol", req.Symbol), zap.Int("slice", sliceIndex), zap.Error(res.err))
			if m.handler != nil {
				m.handler.Handle(deadlineCtx, res.err, "execution", "slice", 0, map[string]any{"symbol": req.Symbol})
			}
		} else {
			filledQty = filledQty.Add(res.filledQty)
			notionalFilled = notionalFilled.Add(res.filledQty.Mul(res.fillPrice))
			fees = fees.Add(res.feesUSD)
		}

		sliceIndex++
		if sliceIndex < len(plan.sizes) && plan.intervalSec > 0 {
			select {
			case <-time.After(time.Duration(plan.intervalSec * float64(time.Second))):
			case <-deadlineCtx.Done():
				break sliceLoop
			}
		}
	}

	order.FilledQty = filledQty
	order.FeesUSD = fees
	if filledQty.IsPositive() {
		order.AvgFillPrice = notionalFilled.Div(filledQty)
		order.Status = types.OrderStatusFilled
		if filledQty.LessThan(req.Quantity) {
			order.Status = types.OrderStatusPartial
		}
	} else {
		order.Status = types.OrderStatusRejected
	}
	order.UpdatedAt = time.Now()
	order.Metadata["slices_completed"] = sliceIndex

	return order, nil
}

type slicePlan struct {
	sizes       []decimal.Decimal
	useLimit    bool
	intervalSec float64
}

// buildSlicePlan implements §4.7's slicing policy.
func (m *Manager) buildSlicePlan(ctx context.Context, req Request, notional, mid decimal.Decimal) slicePlan {
	if !m.cfg.EnableTWAP || notional.LessThanOrEqual(m.cfg.TWAPNotionalThreshold) {
		return slicePlan{sizes: []decimal.Decimal{req.Quantity}}
	}

	n := m.cfg.TWAPMinSlices
	if book, err := m.client.FetchOrderBook(ctx, req.Symbol, 20); err == nil {
		depth := bookDepthAtOffset(book, req.Side, m.cfg.LimitOffsetBps)
		if depth.IsPositive() && m.cfg.MaxDepthFraction > 0 {
			maxSliceNotional := depth.Mul(decimal.NewFromFloat(m.cfg.MaxDepthFraction))
			if maxSliceNotional.IsPositive() {
				needed := notional.Div(maxSliceNotional)
				neededInt, _ := needed.Float64()
				if int(neededInt)+1 > n {
					n = int(neededInt) + 1
				}
			}
		}
	}
	if n < m.cfg.TWAPMinSlices {
		n = m.cfg.TWAPMinSlices
	}
	if n > m.cfg.TWAPMaxSlices {
		n = m.cfg.TWAPMaxSlices
	}

	sizes := splitQuantity(req.Quantity, n)
	useLimit := m.cfg.EnableIceberg && notional.GreaterThan(m.cfg.IcebergMinNotional)
	return slicePlan{sizes: sizes, useLimit: useLimit, intervalSec: m.cfg.TWAPIntervalSec}
}

func bookDepthAtOffset(book exchange.OrderBook, side types.Side, offsetBps float64) decimal.Decimal {
	levels := book.Asks
	if side == types.SideShort {
		levels = book.Bids
	}
	sum := decimal.Zero
	for _, lvl := range levels {
		sum = sum.Add(lvl.Price.Mul(lvl.Size))
	}
	_ = offsetBps // depth is already limited to the fetched book window
	return sum
}

// splitQuantity divides qty into n roughly-equal positive slices.
func splitQuantity(qty decimal.Decimal, n int) []decimal.Decimal {
	if n <= 1 {
		return []decimal.Decimal{qty}
	}
	per := qty.Div(decimal.NewFromInt(int64(n)))
	sizes := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		sizes[i] = per
		allocated = allocated.Add(per)
	}
	sizes[n-1] = qty.Sub(allocated)
	return sizes
}

func (m *Manager) executeSlice(ctx context.Context, req Request, size, mid decimal.Decimal, useLimit bool) sliceResult {
	orderType := types.OrderTypeMarket
	price := decimal.Zero
	feeBps := m.cfg.TakerFeeBps

	if useLimit {
		orderType = types.OrderTypeLimit
		offset := mid.Mul(decimal.NewFromFloat(m.cfg.LimitOffsetBps)).Div(decimal.NewFromInt(10000))
		if req.Side == types.SideLong {
			price = mid.Sub(offset)
		} else {
			price = mid.Add(offset)
		}
		feeBps = m.cfg.MakerFeeBps
	}

	child, err := m.client.CreateOrder(ctx, req.Symbol, req.Side, orderType, size, price, exchange.CreateOrderParams{ReduceOnly: req.ReduceOnly})
	if err != nil {
		return sliceResult{err: err}
	}
	if child.FilledQty.IsZero() {
		return sliceResult{}
	}

	fillPrice := child.AvgFillPrice
	if fillPrice.IsZero() {
		fillPrice = mid
	}
	notional := child.FilledQty.Mul(fillPrice)
	fees := notional.Mul(decimal.NewFromFloat(feeBps)).Div(decimal.NewFromInt(10000))

	return sliceResult{filledQty: child.FilledQty, fillPrice: fillPrice, feesUSD: fees}
}
