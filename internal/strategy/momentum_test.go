package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohelm/internal/config"
	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
)

func trendCandles(start, step float64, n int) []exchange.Candle {
	out := make([]exchange.Candle, n)
	price := start
	for i := range out {
		out[i] = exchange.Candle{
			OpenTime: time.Unix(int64(i)*300, 0),
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price,
			Volume:   1000,
		}
		price += step
	}
	return out
}

func snapshotFor(symbol string, candles []exchange.Candle) exchange.MarketSnapshot {
	last := 0.0
	if len(candles) > 0 {
		last = candles[len(candles)-1].Close
	}
	return exchange.MarketSnapshot{
		Symbol:    symbol,
		LastPrice: last,
		Candles:   candles,
		FetchedAt: time.Now(),
	}
}

func TestMomentumBuysUptrend(t *testing.T) {
	m := NewMomentum(config.StrategyConfig{})
	snap := snapshotFor("BTCUSDT", trendCandles(100, 1, 60))

	rec, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, core.ActionBuy, rec.Action)
	assert.GreaterOrEqual(t, rec.Confidence, 0.6)
	assert.LessOrEqual(t, rec.Confidence, 1.0)
	require.Greater(t, rec.StopLoss, 0.0)
	require.Greater(t, rec.TakeProfit, 0.0)
	assert.Less(t, rec.StopLoss, snap.LastPrice)
	assert.Greater(t, rec.TakeProfit, snap.LastPrice)

	// Default ATR multiples put reward at twice the risk.
	rr := (rec.TakeProfit - snap.LastPrice) / (snap.LastPrice - rec.StopLoss)
	assert.InDelta(t, 2.0, rr, 0.01)
	assert.Contains(t, rec.Reason, "bullish")
}

func TestMomentumSellsDowntrend(t *testing.T) {
	m := NewMomentum(config.StrategyConfig{})
	snap := snapshotFor("ETHUSDT", trendCandles(159, -1, 60))

	rec, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, core.ActionSell, rec.Action)
	assert.GreaterOrEqual(t, rec.Confidence, 0.6)
	// Short exits mirror: stop above price, target below.
	assert.Greater(t, rec.StopLoss, snap.LastPrice)
	assert.Less(t, rec.TakeProfit, snap.LastPrice)
	assert.Greater(t, rec.TakeProfit, 0.0)
}

func TestMomentumWaitsOnFlatMarket(t *testing.T) {
	m := NewMomentum(config.StrategyConfig{})
	snap := snapshotFor("BNBUSDT", trendCandles(100, 0, 60))

	rec, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, core.ActionWait, rec.Action)
	assert.Equal(t, 0.0, rec.Confidence)
	assert.Zero(t, rec.StopLoss)
	assert.Zero(t, rec.TakeProfit)
}

func TestMomentumWaitsOnShortHistory(t *testing.T) {
	m := NewMomentum(config.StrategyConfig{})
	snap := snapshotFor("SOLUSDT", trendCandles(100, 1, 10))

	rec, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, core.ActionWait, rec.Action)
	assert.Contains(t, rec.Reason, "insufficient history")
}

func TestMomentumFallsBackToLastClose(t *testing.T) {
	m := NewMomentum(config.StrategyConfig{})
	snap := snapshotFor("BTCUSDT", trendCandles(100, 1, 60))
	snap.LastPrice = 0 // ticker missing, candles still present

	rec, err := m.Analyze(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, core.ActionBuy, rec.Action)
}

type stubScorer struct {
	id string
}

func (s stubScorer) ID() string { return s.id }

func (s stubScorer) Analyze(context.Context, exchange.MarketSnapshot) (Recommendation, error) {
	return Recommendation{Action: core.ActionWait}, nil
}

func TestRegistryFallback(t *testing.T) {
	def := NewMomentum(config.StrategyConfig{})
	reg := NewRegistry(def)

	assert.Same(t, def, reg.For(""))
	assert.Same(t, def, reg.For("no-such-strategy"))

	alt := stubScorer{id: "Reversal"}
	reg.Register(alt)
	assert.Equal(t, alt, reg.For("reversal"))
	assert.Equal(t, alt, reg.For(" REVERSAL "))
	assert.Equal(t, []string{"momentum", "reversal"}, reg.IDs())
}
