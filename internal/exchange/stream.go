package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/breakout-engine/pkg/types"
)

// WSStreamer is an optional TradeStreamer backed by a real exchange
// WebSocket endpoint. Subscription failures are returned to the caller,
// which (per §4.4 step 5) logs and continues rather than aborting the
// scanning cycle.
type WSStreamer struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewWSStreamer builds a streamer dialing endpoint (a ws:// or wss:// base
// URL); each subscription appends its own per-symbol channel path.
func NewWSStreamer(logger *zap.Logger, endpoint string) *WSStreamer {
	return &WSStreamer{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		logger:   logger.Named("exchange.ws"),
	}
}

type wireTick struct {
	Symbol    string  `json:"symbol"`
	Price     string  `json:"price"`
	Qty       string  `json:"qty"`
	Side      string  `json:"side"`
	TimestampMs int64 `json:"ts_ms"`
}

// SubscribeTrades dials a per-symbol trade stream and decodes messages
// into Trade values on the returned channel. The channel is closed when
// the connection drops or ctx is cancelled.
func (s *WSStreamer) SubscribeTrades(ctx context.Context, symbol string) (<-chan Trade, error) {
	url := fmt.Sprintf("%s/trades/%s", s.endpoint, symbol)
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange.ws: subscribe trades %s: %w", symbol, err)
	}

	out := make(chan Trade, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				s.logger.Debug("trade stream closed", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			var tick wireTick
			if err := json.Unmarshal(msg, &tick); err != nil {
				s.logger.Warn("malformed trade tick", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			price, _ := decimal.NewFromString(tick.Price)
			qty, _ := decimal.NewFromString(tick.Qty)
			side := types.SideLong
			if tick.Side == string(types.SideShort) {
				side = types.SideShort
			}
			select {
			case out <- Trade{Symbol: symbol, Price: price, Qty: qty, Side: side, TimestampMs: tick.TimestampMs}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type wireBookDelta struct {
	Symbol      string          `json:"symbol"`
	Bids        [][2]string     `json:"bids"`
	Asks        [][2]string     `json:"asks"`
	TimestampMs int64           `json:"ts_ms"`
}

// SubscribeBookDeltas dials a per-symbol order-book delta stream.
func (s *WSStreamer) SubscribeBookDeltas(ctx context.Context, symbol string) (<-chan BookDelta, error) {
	url := fmt.Sprintf("%s/book/%s", s.endpoint, symbol)
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange.ws: subscribe book deltas %s: %w", symbol, err)
	}

	out := make(chan BookDelta, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				s.logger.Debug("book delta stream closed", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			var wire wireBookDelta
			if err := json.Unmarshal(msg, &wire); err != nil {
				s.logger.Warn("malformed book delta", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			delta := BookDelta{Symbol: symbol, TimestampMs: wire.TimestampMs}
			for _, lvl := range wire.Bids {
				price, _ := decimal.NewFromString(lvl[0])
				size, _ := decimal.NewFromString(lvl[1])
				delta.Bids = append(delta.Bids, PriceLevel{Price: price, Size: size})
			}
			for _, lvl := range wire.Asks {
				price, _ := decimal.NewFromString(lvl[0])
				size, _ := decimal.NewFromString(lvl[1])
				delta.Asks = append(delta.Asks, PriceLevel{Price: price, Size: size})
			}
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
