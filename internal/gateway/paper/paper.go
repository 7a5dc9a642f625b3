// Package paper provides an in-memory simulated exchange. Orders fill
// at the latest known price and never touch a real venue; it backs the
// default paper trading mode and the integration-style tests.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
)

// Gateway simulates a spot venue with one quote currency. The base
// balance may go negative: the simulated venue allows short selling so
// SELL-side positions behave like their live counterparts.
type Gateway struct {
	quote   string
	feeRate float64

	mu           sync.Mutex
	prices       map[string]float64
	quoteBalance float64
	base         map[string]float64 // base asset holdings per symbol
	rng          *rand.Rand
}

// New seeds the simulated account with capital in the quote currency.
func New(quote string, capital, feeRate float64) *Gateway {
	return &Gateway{
		quote:        strings.ToUpper(strings.TrimSpace(quote)),
		feeRate:      feeRate,
		prices:       make(map[string]float64),
		quoteBalance: capital,
		base:         make(map[string]float64),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Gateway) Name() string { return "paper" }

// SetPrice pins the current price of a symbol. Subsequent orders fill
// at exactly this price until the next ticker fetch drifts it.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	g.prices[normalize(symbol)] = price
	g.mu.Unlock()
}

// FetchTicker returns the current simulated price, applying a small
// random-walk step so paper cycles see moving markets.
func (g *Gateway) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return exchange.Ticker{}, err
	}
	sym := normalize(symbol)
	g.mu.Lock()
	price := g.priceLocked(sym)
	// Bounded drift of up to ±0.15% per fetch.
	price *= 1 + (g.rng.Float64()-0.5)*0.003
	g.prices[sym] = price
	g.mu.Unlock()

	spread := price * 0.0005
	return exchange.Ticker{
		Symbol:    sym,
		Last:      price,
		Bid:       price - spread,
		Ask:       price + spread,
		UpdatedAt: time.Now(),
	}, nil
}

// FetchCandles synthesizes a walk that ends at the current price.
func (g *Gateway) FetchCandles(ctx context.Context, symbol string, limit int) ([]exchange.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	sym := normalize(symbol)
	g.mu.Lock()
	last := g.priceLocked(sym)
	closes := make([]float64, limit)
	closes[limit-1] = last
	for i := limit - 2; i >= 0; i-- {
		closes[i] = closes[i+1] * (1 + (g.rng.Float64()-0.5)*0.004)
	}
	g.mu.Unlock()

	now := time.Now().Truncate(time.Minute)
	out := make([]exchange.Candle, limit)
	for i, c := range closes {
		out[i] = exchange.Candle{
			OpenTime: now.Add(-time.Duration(limit-i) * time.Minute),
			Open:     c,
			High:     c * 1.001,
			Low:      c * 0.999,
			Close:    c,
			Volume:   1,
		}
	}
	return out, nil
}

// FetchBalance reports the quote balance plus base holdings.
func (g *Gateway) FetchBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[string]exchange.Balance{
		g.quote: {Free: g.quoteBalance, Total: g.quoteBalance},
	}
	for sym, qty := range g.base {
		if qty == 0 {
			continue
		}
		out[sym] = exchange.Balance{Free: qty, Total: qty}
	}
	return out, nil
}

// CreateOrder fills a market order at the pinned price.
func (g *Gateway) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("order amount must be > 0")
	}
	if req.Side != core.SideBuy && req.Side != core.SideSell {
		return nil, fmt.Errorf("unsupported order side %q", req.Side)
	}
	sym := normalize(req.Symbol)

	g.mu.Lock()
	defer g.mu.Unlock()
	price := g.priceLocked(sym)
	notional := req.Amount * price
	fee := notional * g.feeRate

	if req.Side == core.SideBuy {
		if g.quoteBalance < notional+fee {
			return nil, fmt.Errorf("insufficient %s balance: have %.2f, need %.2f",
				g.quote, g.quoteBalance, notional+fee)
		}
		g.quoteBalance -= notional + fee
		g.base[sym] += req.Amount
	} else {
		g.quoteBalance += notional - fee
		g.base[sym] -= req.Amount
	}

	return &exchange.Order{
		ID:         uuid.New().String(),
		ClientID:   req.ClientID,
		Symbol:     sym,
		Side:       req.Side,
		Price:      price,
		Amount:     req.Amount,
		QuoteSpent: notional,
		Fee:        fee,
		CreatedAt:  time.Now(),
	}, nil
}

func (g *Gateway) TestConnection(ctx context.Context) error {
	return ctx.Err()
}

// priceLocked bootstraps unknown symbols with a deterministic base
// price so fresh paper runs have somewhere to start.
func (g *Gateway) priceLocked(sym string) float64 {
	if p, ok := g.prices[sym]; ok && p > 0 {
		return p
	}
	h := fnv.New32a()
	h.Write([]byte(sym))
	p := 50 + float64(h.Sum32()%9000)/10
	g.prices[sym] = p
	return p
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
