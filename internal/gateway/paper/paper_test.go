package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
)

func TestBuyThenSellRoundTrip(t *testing.T) {
	g := New("USDT", 10000, 0)
	g.SetPrice("BTCUSDT", 100)
	ctx := context.Background()

	buy, err := g.CreateOrder(ctx, exchange.OrderRequest{
		Symbol: "btcusdt", Side: core.SideBuy, Amount: 2, Type: "market",
	})
	require.NoError(t, err)
	require.NotNil(t, buy)
	assert.Equal(t, 100.0, buy.Price)
	assert.Equal(t, 2.0, buy.Amount)
	assert.NotEmpty(t, buy.ID)

	bal, err := g.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9800.0, bal["USDT"].Free, 1e-9)
	assert.InDelta(t, 2.0, bal["BTCUSDT"].Free, 1e-9)

	g.SetPrice("BTCUSDT", 110)
	sell, err := g.CreateOrder(ctx, exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideSell, Amount: 2, Type: "market",
	})
	require.NoError(t, err)
	assert.Equal(t, 110.0, sell.Price)

	bal, err = g.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10020.0, bal["USDT"].Free, 1e-9)
	_, held := bal["BTCUSDT"]
	assert.False(t, held)
}

func TestFeesReduceQuoteBalance(t *testing.T) {
	g := New("USDT", 1000, 0.001)
	g.SetPrice("ETHUSDT", 200)

	order, err := g.CreateOrder(context.Background(), exchange.OrderRequest{
		Symbol: "ETHUSDT", Side: core.SideBuy, Amount: 1, Type: "market",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, order.Fee, 1e-9)

	bal, err := g.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000-200-0.2, bal["USDT"].Free, 1e-9)
}

func TestBuyRejectedWhenUnderfunded(t *testing.T) {
	g := New("USDT", 50, 0)
	g.SetPrice("BTCUSDT", 100)

	_, err := g.CreateOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideBuy, Amount: 1, Type: "market",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient")
}

func TestShortSellAllowed(t *testing.T) {
	g := New("USDT", 1000, 0)
	g.SetPrice("BTCUSDT", 100)

	_, err := g.CreateOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideSell, Amount: 1, Type: "market",
	})
	require.NoError(t, err)

	bal, err := g.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1100.0, bal["USDT"].Free, 1e-9)
	assert.InDelta(t, -1.0, bal["BTCUSDT"].Free, 1e-9)
}

func TestTickerDriftStaysBounded(t *testing.T) {
	g := New("USDT", 1000, 0)
	g.SetPrice("BTCUSDT", 100)

	prev := 100.0
	for i := 0; i < 50; i++ {
		tk, err := g.FetchTicker(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.InDelta(t, prev, tk.Last, prev*0.0016)
		assert.Less(t, tk.Bid, tk.Ask)
		prev = tk.Last
	}
}

func TestCandlesEndAtCurrentPrice(t *testing.T) {
	g := New("USDT", 1000, 0)
	g.SetPrice("BTCUSDT", 250)

	candles, err := g.FetchCandles(context.Background(), "BTCUSDT", 30)
	require.NoError(t, err)
	require.Len(t, candles, 30)
	assert.Equal(t, 250.0, candles[len(candles)-1].Close)
	for _, c := range candles {
		assert.Greater(t, c.Close, 0.0)
	}
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
}

func TestUnknownSymbolGetsBootstrapPrice(t *testing.T) {
	g := New("USDT", 1000, 0)
	tk, err := g.FetchTicker(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Greater(t, tk.Last, 0.0)
}
