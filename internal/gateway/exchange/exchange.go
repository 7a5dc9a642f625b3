// Package exchange defines the gateway abstraction the controller
// trades through, keeping paper and live venues interchangeable.
package exchange

import "context"

// Gateway is the market access contract consumed by the controller.
// CreateOrder may return (nil, nil) when the venue produced no order;
// callers must treat that as "nothing executed".
type Gateway interface {
	Name() string

	FetchTicker(ctx context.Context, symbol string) (Ticker, error)

	FetchBalance(ctx context.Context) (map[string]Balance, error)

	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)

	TestConnection(ctx context.Context) error
}

// CandleProvider is implemented by gateways that can serve recent
// candles. The controller uses it to enrich market snapshots; scoring
// degrades to ticker-only when it is absent.
type CandleProvider interface {
	FetchCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}
