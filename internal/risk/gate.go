// Package risk enforces the trading limits a candidate signal must pass
// before the execution pipeline will touch the exchange.
package risk

import (
	"math"
	"strings"
	"time"

	"autohelm/internal/config"
	"autohelm/internal/core"
)

// Rejection reasons, surfaced verbatim in per-pair cycle results.
const (
	ReasonMaxPositions    = "max positions reached"
	ReasonDailyTradeLimit = "daily trade limit reached"
	ReasonDailyLossLimit  = "daily loss limit breached"
	ReasonRiskReward      = "risk/reward below minimum"
	ReasonSymbolHeld      = "position already open for symbol"
	ReasonLowConfidence   = "confidence below minimum"
)

// Decision is the outcome of one gate check. Size is the quote-currency
// stake to commit, set only on acceptance.
type Decision struct {
	Accepted bool
	Reason   string
	Size     float64
}

// Gate owns the day-bounded risk stats and applies the admission rules.
// It is written to only from the controller loop, so it carries no lock.
type Gate struct {
	cfg   config.RiskConfig
	stats core.DailyRiskStats

	// Now is the clock; replaceable in tests to cross day boundaries.
	Now func() time.Time
}

func New(cfg config.RiskConfig) *Gate {
	return &Gate{cfg: cfg, Now: time.Now}
}

// Check evaluates the admission rules in a fixed order and stops at the
// first failure. The order matters: capacity and day limits come before
// any per-signal inspection.
func (g *Gate) Check(sig core.TradeSignal, open map[string]*core.Position, balance float64) Decision {
	g.rollDay()

	if len(open) >= g.cfg.MaxPositions {
		return Decision{Reason: ReasonMaxPositions}
	}
	if g.stats.Trades >= g.cfg.MaxDailyTrades {
		return Decision{Reason: ReasonDailyTradeLimit}
	}
	if balance > 0 && g.stats.RealizedPnL/balance <= -g.cfg.MaxDailyLossPct {
		return Decision{Reason: ReasonDailyLossLimit}
	}
	if sig.StopLoss != nil && sig.TakeProfit != nil {
		rr := rewardRisk(sig.Price, *sig.StopLoss, *sig.TakeProfit)
		if !(rr >= g.cfg.MinRiskReward) {
			return Decision{Reason: ReasonRiskReward}
		}
	}
	if _, held := open[strings.ToUpper(strings.TrimSpace(sig.Symbol))]; held {
		return Decision{Reason: ReasonSymbolHeld}
	}
	if sig.Confidence < g.cfg.MinConfidence {
		return Decision{Reason: ReasonLowConfidence}
	}

	return Decision{Accepted: true, Size: g.PositionSize(balance, sig.Confidence)}
}

// PositionSize computes the quote stake for an accepted signal:
// balance*risk_per_trade_pct scaled by a confidence factor in [0.5,1.0],
// halved when the trailing win rate is under 30%, and clamped to
// balance*max_position_size_pct.
func (g *Gate) PositionSize(balance, confidence float64) float64 {
	g.rollDay()
	if balance <= 0 {
		return 0
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	factor := 0.5 + 0.5*confidence
	if g.stats.WinRate() < 0.30 {
		factor /= 2
	}
	size := balance * g.cfg.RiskPerTradePct * factor
	if limit := balance * g.cfg.MaxPositionSizePct; size > limit {
		size = limit
	}
	if size < 0 {
		size = 0
	}
	return size
}

// DailyLimitsExhausted reports whether the loop should idle out the rest
// of the trading day instead of scoring pairs.
func (g *Gate) DailyLimitsExhausted(balance float64) bool {
	g.rollDay()
	if g.stats.Trades >= g.cfg.MaxDailyTrades {
		return true
	}
	return balance > 0 && g.stats.RealizedPnL/balance <= -g.cfg.MaxDailyLossPct
}

// RecordEntry books one opened trade against today's limits.
func (g *Gate) RecordEntry() {
	g.rollDay()
	g.stats.RecordEntry()
}

// RecordClose books the realized pnl of one closed trade.
func (g *Gate) RecordClose(pnl float64) {
	g.rollDay()
	g.stats.RecordClose(pnl)
}

// SeedFromHistory rebuilds today's stats from persisted rows so daily
// limits survive a process restart. entries is the count of positions
// opened today; closed holds the positions closed today.
func (g *Gate) SeedFromHistory(entries int, closed []core.Position) {
	g.rollDay()
	g.stats.Trades = entries
	g.stats.Wins = 0
	g.stats.Losses = 0
	g.stats.RealizedPnL = 0
	for _, p := range closed {
		g.stats.RecordClose(p.Profit)
	}
}

// Stats returns a copy of today's stats.
func (g *Gate) Stats() core.DailyRiskStats {
	g.rollDay()
	return g.stats
}

func (g *Gate) rollDay() {
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	g.stats.ResetIfNewDay(now)
}

// rewardRisk is |take_profit-price| / |price-stop_loss|. A zero-risk
// denominator yields +Inf, which passes any finite minimum; a fully
// degenerate signal yields NaN, which fails it.
func rewardRisk(price, stopLoss, takeProfit float64) float64 {
	return math.Abs(takeProfit-price) / math.Abs(price-stopLoss)
}
