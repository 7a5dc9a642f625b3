package strategy

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"autohelm/internal/config"
	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
)

// MomentumID is the registry id of the built-in scorer.
const MomentumID = "momentum"

// Evidence weights, identical for both directions. A clean trend with
// price above the fast average and positive momentum scores 0.70; the
// RSI extreme term can push either side toward 1.0.
const (
	weightTrend    = 0.35
	weightLocation = 0.20
	weightMomentum = 0.15
	weightExtreme  = 0.30
	weightBias     = 0.10

	minScore    = 0.5 // dominant side below this stays out
	scoreMargin = 0.2 // dominant side must lead the other by this much
)

// Momentum is the built-in trend scorer: an EMA pair for direction,
// RSI for exhaustion, ROC for momentum, ATR for exit distances.
type Momentum struct {
	rsiPeriod  int
	fastEMA    int
	slowEMA    int
	atrPeriod  int
	rocPeriod  int
	overbought float64
	oversold   float64
	stopATR    float64
	takeATR    float64
}

func NewMomentum(cfg config.StrategyConfig) *Momentum {
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.FastEMA <= 0 {
		cfg.FastEMA = 9
	}
	if cfg.SlowEMA <= cfg.FastEMA {
		cfg.SlowEMA = cfg.FastEMA + 12
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.ROCPeriod <= 0 {
		cfg.ROCPeriod = 9
	}
	if cfg.Overbought <= 0 || cfg.Overbought > 100 {
		cfg.Overbought = 70
	}
	if cfg.Oversold <= 0 || cfg.Oversold >= cfg.Overbought {
		cfg.Oversold = 30
	}
	if cfg.StopATR <= 0 {
		cfg.StopATR = 1.5
	}
	if cfg.TakeATR <= 0 {
		cfg.TakeATR = 3.0
	}
	return &Momentum{
		rsiPeriod:  cfg.RSIPeriod,
		fastEMA:    cfg.FastEMA,
		slowEMA:    cfg.SlowEMA,
		atrPeriod:  cfg.ATRPeriod,
		rocPeriod:  cfg.ROCPeriod,
		overbought: cfg.Overbought,
		oversold:   cfg.Oversold,
		stopATR:    cfg.StopATR,
		takeATR:    cfg.TakeATR,
	}
}

func (m *Momentum) ID() string { return MomentumID }

func (m *Momentum) Analyze(_ context.Context, snap exchange.MarketSnapshot) (Recommendation, error) {
	need := m.warmup()
	if len(snap.Candles) < need {
		return Recommendation{
			Action: core.ActionWait,
			Reason: fmt.Sprintf("insufficient history: %d candles, need %d", len(snap.Candles), need),
		}, nil
	}

	n := len(snap.Candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range snap.Candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	fast := lastUsable(talib.Ema(closes, m.fastEMA), 0)
	slow := lastUsable(talib.Ema(closes, m.slowEMA), 0)
	if fast <= 0 || slow <= 0 {
		return Recommendation{}, fmt.Errorf("momentum: ema series empty for %s", snap.Symbol)
	}
	rsi := lastUsable(talib.Rsi(closes, m.rsiPeriod), 50)
	roc := lastUsable(talib.Roc(closes, m.rocPeriod), 0)
	atr := lastUsable(talib.Atr(highs, lows, closes, m.atrPeriod), 0)

	price := snap.LastPrice
	if price <= 0 {
		price = closes[n-1]
	}

	var bull, bear float64
	if fast > slow {
		bull += weightTrend
	} else if fast < slow {
		bear += weightTrend
	}
	if price > fast {
		bull += weightLocation
	} else if price < fast {
		bear += weightLocation
	}
	if roc > 0 {
		bull += weightMomentum
	} else if roc < 0 {
		bear += weightMomentum
	}
	switch {
	case rsi <= m.oversold:
		bull += weightExtreme
	case rsi >= m.overbought:
		bear += weightExtreme
	case rsi > 55:
		bull += weightBias
	case rsi < 45:
		bear += weightBias
	}

	detail := fmt.Sprintf("rsi=%.1f ema%d=%.4f ema%d=%.4f roc=%.2f atr=%.4f",
		rsi, m.fastEMA, fast, m.slowEMA, slow, roc, atr)

	switch {
	case bull >= minScore && bull-bear >= scoreMargin:
		stop, take := m.levels(core.SideBuy, price, atr)
		return Recommendation{
			Action:     core.ActionBuy,
			Confidence: clamp01(bull),
			StopLoss:   stop,
			TakeProfit: take,
			Reason:     "bullish: " + detail,
		}, nil
	case bear >= minScore && bear-bull >= scoreMargin:
		stop, take := m.levels(core.SideSell, price, atr)
		return Recommendation{
			Action:     core.ActionSell,
			Confidence: clamp01(bear),
			StopLoss:   stop,
			TakeProfit: take,
			Reason:     "bearish: " + detail,
		}, nil
	}

	conf := bull
	if bear > conf {
		conf = bear
	}
	return Recommendation{
		Action:     core.ActionWait,
		Confidence: clamp01(conf),
		Reason:     "mixed: " + detail,
	}, nil
}

// warmup is the minimum candle count before every indicator has at
// least one value past its seed window.
func (m *Momentum) warmup() int {
	need := m.slowEMA
	for _, p := range []int{m.rsiPeriod, m.atrPeriod, m.rocPeriod} {
		if p > need {
			need = p
		}
	}
	return need + 1
}

func (m *Momentum) levels(side core.Side, price, atr float64) (stop, take float64) {
	if atr <= 0 || price <= 0 {
		return 0, 0
	}
	if side == core.SideBuy {
		stop = price - atr*m.stopATR
		take = price + atr*m.takeATR
	} else {
		stop = price + atr*m.stopATR
		take = price - atr*m.takeATR
	}
	if stop <= 0 || take <= 0 {
		return 0, 0
	}
	return stop, take
}

// lastUsable walks back over talib's zero-padded warmup and any NaN/Inf
// and returns the newest real value, or fallback when none exists.
func lastUsable(series []float64, fallback float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if math.Abs(v) <= 1e-12 {
			continue
		}
		return v
	}
	return fallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
