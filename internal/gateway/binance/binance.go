// Package binance implements the live exchange gateway on Binance spot.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
	"autohelm/internal/pkg/trading"
)

const (
	testnetBaseURL = "https://testnet.binance.vision"
	candleInterval = "5m"
)

// Gateway talks to Binance spot through the official REST API.
type Gateway struct {
	client *binance.Client
	quote  string

	stepMu sync.Mutex
	steps  map[string]float64 // lot step per symbol, fetched once
}

// New builds a spot gateway. API credentials may be empty for paper-style
// read-only use, but CreateOrder will then fail at the venue.
func New(apiKey, apiSecret, quote string, testnet bool) *Gateway {
	client := binance.NewClient(apiKey, apiSecret)
	if testnet {
		client.BaseURL = testnetBaseURL
	}
	return &Gateway{
		client: client,
		quote:  strings.ToUpper(strings.TrimSpace(quote)),
		steps:  make(map[string]float64),
	}
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	sym := cleanSymbol(symbol)
	prices, err := g.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, fmt.Errorf("fetch ticker %s: %w", sym, err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return exchange.Ticker{}, fmt.Errorf("fetch ticker %s: empty response", sym)
	}
	tk := exchange.Ticker{
		Symbol:    sym,
		Last:      parseFloat(prices[0].Price),
		UpdatedAt: time.Now(),
	}
	// Book data is best effort; the last price alone is enough to trade.
	if books, err := g.client.NewListBookTickersService().Symbol(sym).Do(ctx); err == nil && len(books) > 0 && books[0] != nil {
		tk.Bid = parseFloat(books[0].BidPrice)
		tk.Ask = parseFloat(books[0].AskPrice)
	}
	if tk.Last <= 0 {
		return exchange.Ticker{}, fmt.Errorf("fetch ticker %s: non-positive price", sym)
	}
	return tk, nil
}

func (g *Gateway) FetchBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	out := make(map[string]exchange.Balance, len(account.Balances))
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out[strings.ToUpper(b.Asset)] = exchange.Balance{
			Free:  free,
			Total: free + locked,
		}
	}
	return out, nil
}

func (g *Gateway) FetchCandles(ctx context.Context, symbol string, limit int) ([]exchange.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	sym := cleanSymbol(symbol)
	kls, err := g.client.NewKlinesService().
		Symbol(sym).
		Interval(candleInterval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", sym, err)
	}
	out := make([]exchange.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, exchange.Candle{
			OpenTime: time.UnixMilli(kl.OpenTime),
			Open:     parseFloat(kl.Open),
			High:     parseFloat(kl.High),
			Low:      parseFloat(kl.Low),
			Close:    parseFloat(kl.Close),
			Volume:   parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	sym := cleanSymbol(req.Symbol)
	step, err := g.lotStep(ctx, sym)
	if err != nil {
		return nil, err
	}
	qty := trading.RoundToStep(req.Amount, step)
	if qty <= 0 {
		return nil, fmt.Errorf("order for %s too small after lot rounding (requested %v, step %v)",
			sym, req.Amount, step)
	}

	var side binance.SideType
	switch req.Side {
	case core.SideBuy:
		side = binance.SideTypeBuy
	case core.SideSell:
		side = binance.SideTypeSell
	default:
		return nil, fmt.Errorf("unsupported order side %q", req.Side)
	}

	svc := g.client.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(trading.FormatAmount(qty))
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create order %s %s: %w", req.Side, sym, err)
	}
	if res == nil {
		return nil, nil
	}

	executed := parseFloat(res.ExecutedQuantity)
	quoteSpent := parseFloat(res.CummulativeQuoteQuantity)
	price := 0.0
	if executed > 0 {
		price = quoteSpent / executed
	}
	fee := 0.0
	for _, fill := range res.Fills {
		if fill == nil {
			continue
		}
		if price == 0 {
			price = parseFloat(fill.Price)
		}
		// Commissions in other assets (e.g. BNB) are not converted.
		if strings.EqualFold(fill.CommissionAsset, g.quote) {
			fee += parseFloat(fill.Commission)
		}
	}

	return &exchange.Order{
		ID:         strconv.FormatInt(res.OrderID, 10),
		ClientID:   res.ClientOrderID,
		Symbol:     sym,
		Side:       req.Side,
		Price:      price,
		Amount:     executed,
		QuoteSpent: quoteSpent,
		Fee:        fee,
		CreatedAt:  time.UnixMilli(res.TransactTime),
	}, nil
}

// TestConnection pings the venue; with credentials configured it also
// verifies the account is reachable.
func (g *Gateway) TestConnection(ctx context.Context) error {
	if err := g.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	if g.client.APIKey == "" {
		return nil
	}
	if _, err := g.client.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("binance account check: %w", err)
	}
	return nil
}

func (g *Gateway) lotStep(ctx context.Context, sym string) (float64, error) {
	g.stepMu.Lock()
	if step, ok := g.steps[sym]; ok {
		g.stepMu.Unlock()
		return step, nil
	}
	g.stepMu.Unlock()

	info, err := g.client.NewExchangeInfoService().Symbols(sym).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("exchange info %s: %w", sym, err)
	}
	step := 0.0
	for _, si := range info.Symbols {
		if !strings.EqualFold(si.Symbol, sym) {
			continue
		}
		if f := si.LotSizeFilter(); f != nil {
			step = parseFloat(f.StepSize)
		}
		break
	}

	g.stepMu.Lock()
	g.steps[sym] = step
	g.stepMu.Unlock()
	return step, nil
}

func cleanSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(s, "/", "")
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
