package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohelm/internal/config"
	"autohelm/internal/core"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositions:       3,
		MaxDailyTrades:     10,
		MaxDailyLossPct:    0.05,
		MaxPositionSizePct: 0.2,
		RiskPerTradePct:    0.02,
		MinRiskReward:      2.0,
		MinConfidence:      0.6,
	}
}

func baseSignal() core.TradeSignal {
	return core.TradeSignal{
		Symbol:     "BTCUSDT",
		Action:     core.ActionBuy,
		Confidence: 0.8,
		Price:      100,
	}
}

func openSet(symbols ...string) map[string]*core.Position {
	out := make(map[string]*core.Position, len(symbols))
	for _, s := range symbols {
		out[s] = &core.Position{Symbol: s, Status: core.StatusOpen}
	}
	return out
}

func TestCheckAccepts(t *testing.T) {
	g := New(testConfig())
	dec := g.Check(baseSignal(), nil, 10000)
	assert.True(t, dec.Accepted)
	assert.Empty(t, dec.Reason)
	assert.Greater(t, dec.Size, 0.0)
}

func TestCheckMaxPositions(t *testing.T) {
	g := New(testConfig())
	dec := g.Check(baseSignal(), openSet("ETHUSDT", "SOLUSDT", "BNBUSDT"), 10000)
	assert.False(t, dec.Accepted)
	assert.Equal(t, ReasonMaxPositions, dec.Reason)
}

func TestCheckDailyTradeLimit(t *testing.T) {
	g := New(testConfig())
	for i := 0; i < 10; i++ {
		g.RecordEntry()
	}
	dec := g.Check(baseSignal(), nil, 10000)
	assert.False(t, dec.Accepted)
	assert.Equal(t, ReasonDailyTradeLimit, dec.Reason)
}

func TestCheckDailyLossLimit(t *testing.T) {
	g := New(testConfig())
	g.RecordClose(-500) // 5% of a 10k balance
	dec := g.Check(baseSignal(), nil, 10000)
	assert.False(t, dec.Accepted)
	assert.Equal(t, ReasonDailyLossLimit, dec.Reason)

	// A smaller drawdown passes.
	g2 := New(testConfig())
	g2.RecordClose(-499)
	assert.True(t, g2.Check(baseSignal(), nil, 10000).Accepted)
}

func TestCheckRiskReward(t *testing.T) {
	g := New(testConfig())

	sl, tp := 98.0, 103.0 // reward/risk = 1.5
	sig := baseSignal()
	sig.StopLoss = &sl
	sig.TakeProfit = &tp
	dec := g.Check(sig, nil, 10000)
	assert.False(t, dec.Accepted)
	assert.Equal(t, ReasonRiskReward, dec.Reason)

	tp2 := 104.0 // reward/risk = 2.0, boundary passes
	sig.TakeProfit = &tp2
	assert.True(t, g.Check(sig, nil, 10000).Accepted)
}

func TestCheckSkipsRiskRewardWhenLevelIncomplete(t *testing.T) {
	g := New(testConfig())
	sl := 99.9 // terrible ratio if take profit were set
	sig := baseSignal()
	sig.StopLoss = &sl
	assert.True(t, g.Check(sig, nil, 10000).Accepted, "rule applies only when both levels are present")
}

func TestCheckSymbolAlreadyHeld(t *testing.T) {
	g := New(testConfig())
	dec := g.Check(baseSignal(), openSet("BTCUSDT"), 10000)
	assert.False(t, dec.Accepted)
	assert.Equal(t, ReasonSymbolHeld, dec.Reason)
}

func TestCheckConfidenceFloor(t *testing.T) {
	g := New(testConfig())
	sig := baseSignal()
	sig.Confidence = 0.55
	dec := g.Check(sig, nil, 10000)
	assert.False(t, dec.Accepted)
	assert.Equal(t, ReasonLowConfidence, dec.Reason)

	sig.Confidence = 0.6
	assert.True(t, g.Check(sig, nil, 10000).Accepted, "threshold itself is accepted")
}

func TestCheckOrderShortCircuits(t *testing.T) {
	// Both the held-symbol and confidence rules would reject; the earlier
	// capacity rule must win.
	g := New(testConfig())
	sig := baseSignal()
	sig.Confidence = 0.1
	dec := g.Check(sig, openSet("BTCUSDT", "ETHUSDT", "SOLUSDT"), 10000)
	assert.Equal(t, ReasonMaxPositions, dec.Reason)
}

func TestPositionSize(t *testing.T) {
	g := New(testConfig())

	// factor = 0.5 + 0.5*0.8 = 0.9 -> 10000*0.02*0.9 = 180
	assert.InDelta(t, 180, g.PositionSize(10000, 0.8), 1e-9)
	// full confidence -> 200
	assert.InDelta(t, 200, g.PositionSize(10000, 1.0), 1e-9)
	assert.Zero(t, g.PositionSize(0, 0.8))
	assert.Zero(t, g.PositionSize(-50, 0.8))
}

func TestPositionSizeClampedByMax(t *testing.T) {
	cfg := testConfig()
	cfg.RiskPerTradePct = 0.5 // would be 4500 at conf 0.8
	cfg.MaxPositionSizePct = 0.2
	g := New(cfg)
	assert.InDelta(t, 2000, g.PositionSize(10000, 0.8), 1e-9)
}

func TestPositionSizeHalvedOnPoorWinRate(t *testing.T) {
	g := New(testConfig())
	g.RecordClose(100)
	g.RecordClose(-50)
	g.RecordClose(-50)
	g.RecordClose(-50) // win rate 25%
	assert.InDelta(t, 90, g.PositionSize(10000, 0.8), 1e-9)
}

func TestDailyStatsResetOncePerUTCDay(t *testing.T) {
	g := New(testConfig())
	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	g.Now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		g.RecordEntry()
	}
	assert.True(t, g.DailyLimitsExhausted(10000))
	assert.Equal(t, ReasonDailyTradeLimit, g.Check(baseSignal(), nil, 10000).Reason)

	// Cross midnight: limits clear, counters restart from zero.
	now = time.Date(2025, 6, 2, 0, 0, 5, 0, time.UTC)
	assert.False(t, g.DailyLimitsExhausted(10000))
	assert.True(t, g.Check(baseSignal(), nil, 10000).Accepted)
	require.Zero(t, g.Stats().Trades)

	// Same day later on: no second reset.
	g.RecordEntry()
	now = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, g.Stats().Trades)
}

func TestSeedFromHistory(t *testing.T) {
	g := New(testConfig())
	g.SeedFromHistory(4, []core.Position{
		{Profit: 50},
		{Profit: -20},
	})
	st := g.Stats()
	assert.Equal(t, 4, st.Trades)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.InDelta(t, 30, st.RealizedPnL, 1e-9)
}
