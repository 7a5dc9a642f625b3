package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSideFor(t *testing.T) {
	side, ok := SideFor(ActionBuy)
	assert.True(t, ok)
	assert.Equal(t, SideBuy, side)

	side, ok = SideFor(ActionSell)
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)

	_, ok = SideFor(ActionWait)
	assert.False(t, ok)
}

func TestPositionHelpers(t *testing.T) {
	opened := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	p := &Position{EntryPrice: 100, Quantity: 0.5, OpenedAt: opened}
	assert.InDelta(t, 50.0, p.Notional(), 1e-9)
	assert.Equal(t, 3*time.Hour, p.Age(opened.Add(3*time.Hour)))

	var nilPos *Position
	assert.Equal(t, 0.0, nilPos.Notional())
	assert.Equal(t, time.Duration(0), nilPos.Age(opened))
}

func TestCycleReportTallies(t *testing.T) {
	var r CycleReport
	r.Add(PairResult{Symbol: "BTCUSDT", Outcome: PairExecuted})
	r.Add(PairResult{Symbol: "ETHUSDT", Outcome: PairSkipped, Reason: "confidence below minimum"})
	r.Add(PairResult{Symbol: "SOLUSDT", Outcome: PairFailed, Err: errors.New("ticker fetch failed")})

	assert.Len(t, r.Results, 3)
	assert.Equal(t, 1, r.Executed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Failed)
}

func TestErrorTaxonomyUnwrap(t *testing.T) {
	base := errors.New("dial tcp: refused")
	var connErr error = &ConnectivityError{Target: "exchange", Err: base}
	assert.ErrorIs(t, connErr, base)

	var ce *ConnectivityError
	assert.True(t, errors.As(connErr, &ce))
	assert.Equal(t, "exchange", ce.Target)

	var execErr error = &ExecutionError{Symbol: "BTCUSDT", Op: "open", Err: base}
	var ee *ExecutionError
	assert.True(t, errors.As(execErr, &ee))
	assert.Contains(t, execErr.Error(), "BTCUSDT")
}
