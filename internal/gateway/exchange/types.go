package exchange

import (
	"time"

	"autohelm/internal/core"
)

// Ticker is the current price information for one symbol.
type Ticker struct {
	Symbol    string
	Last      float64 // last traded price
	Bid       float64
	Ask       float64
	UpdatedAt time.Time
}

// Balance is the per-currency account balance.
type Balance struct {
	Free  float64 // available for trading
	Total float64 // free plus locked
}

// OrderRequest asks the venue for a single order. Amount is the base
// asset quantity; only market orders are used by the control core.
type OrderRequest struct {
	Symbol   string
	Side     core.Side
	Amount   float64
	Type     string // "market"
	ClientID string // idempotency tag, propagated to the venue where supported
}

// Order is the executed result returned by the venue.
type Order struct {
	ID         string
	ClientID   string
	Symbol     string
	Side       core.Side
	Price      float64 // average fill price
	Amount     float64 // executed base quantity
	QuoteSpent float64 // quote currency consumed or received
	Fee        float64 // fee in quote currency, 0 when the venue does not report it
	CreatedAt  time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// MarketSnapshot is what the scorer sees for one symbol in one cycle.
// Candles is oldest-first and may be empty when the gateway cannot
// serve history.
type MarketSnapshot struct {
	Symbol    string
	LastPrice float64
	Candles   []Candle
	FetchedAt time.Time
}
