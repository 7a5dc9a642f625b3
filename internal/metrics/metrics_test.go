package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndLabels(t *testing.T) {
	IncSignal("BUY")
	IncSignal("BUY")
	IncSignal("WAIT")
	assert.Equal(t, 2.0, testutil.ToFloat64(signalsTotal.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(signalsTotal.WithLabelValues("WAIT")))

	IncTradeClosed("stop_loss", "BUY", -4.2)
	IncTradeClosed("take_profit", "SELL", 9.1)
	assert.Equal(t, 1.0, testutil.ToFloat64(tradesTotal.WithLabelValues("loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tradesTotal.WithLabelValues("win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exitReasonsTotal.WithLabelValues("stop_loss", "BUY")))
}

func TestLifecycleStateFlips(t *testing.T) {
	SetLifecycleState("RUNNING")
	assert.Equal(t, 1.0, testutil.ToFloat64(lifecycleState.WithLabelValues("RUNNING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(lifecycleState.WithLabelValues("STOPPED")))

	SetLifecycleState("STOPPED")
	assert.Equal(t, 0.0, testutil.ToFloat64(lifecycleState.WithLabelValues("RUNNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lifecycleState.WithLabelValues("STOPPED")))
}
