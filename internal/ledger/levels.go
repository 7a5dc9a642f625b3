package ledger

import (
	"math"

	"github.com/shopspring/decimal"

	"autohelm/internal/core"
)

var decOne = decimal.NewFromInt(1)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// LevelsFor derives absolute stop/take-profit prices from percent
// distances. A BUY stops below entry and takes profit above; SELL is the
// mirror. Zero percentages leave the corresponding level unset.
func LevelsFor(side core.Side, entry, stopPct, takePct float64) (stopLoss, takeProfit float64) {
	if entry <= 0 {
		return 0, 0
	}
	base := decFromFloat(entry)
	if stopPct > 0 {
		pct := decFromFloat(stopPct)
		if side == core.SideSell {
			stopLoss = decToFloat(base.Mul(decOne.Add(pct)))
		} else {
			stopLoss = decToFloat(base.Mul(decOne.Sub(pct)))
		}
	}
	if takePct > 0 {
		pct := decFromFloat(takePct)
		if side == core.SideSell {
			takeProfit = decToFloat(base.Mul(decOne.Sub(pct)))
		} else {
			takeProfit = decToFloat(base.Mul(decOne.Add(pct)))
		}
	}
	return stopLoss, takeProfit
}

// stopLossHit reports whether price breached the stop level for the
// given side. An unset (zero) level never triggers.
func stopLossHit(side core.Side, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if side == core.SideSell {
		return decimalGTE(price, stop)
	}
	return decimalLTE(price, stop)
}

// takeProfitHit reports whether price reached the target level for the
// given side. An unset (zero) level never triggers.
func takeProfitHit(side core.Side, price, target float64) bool {
	if target <= 0 || price <= 0 {
		return false
	}
	if side == core.SideSell {
		return decimalLTE(price, target)
	}
	return decimalGTE(price, target)
}

// ProfitFor computes realized profit and its share of entry notional.
// BUY: (exit-entry)*qty - fees; SELL: (entry-exit)*qty - fees.
func ProfitFor(side core.Side, entry, exit, qty, fees float64) (profit, pct float64) {
	e := decFromFloat(entry)
	x := decFromFloat(exit)
	q := decFromFloat(qty)
	f := decFromFloat(fees)

	var gross decimal.Decimal
	if side == core.SideSell {
		gross = e.Sub(x).Mul(q)
	} else {
		gross = x.Sub(e).Mul(q)
	}
	net := gross.Sub(f)
	profit = decToFloat(net)

	notional := e.Mul(q)
	if !notional.IsZero() {
		pct = decToFloat(net.Div(notional))
	}
	return profit, pct
}
