package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToStep(t *testing.T) {
	cases := []struct {
		name string
		qty  float64
		step float64
		want float64
	}{
		{"exact multiple", 0.3, 0.1, 0.3},
		{"floors remainder", 0.35, 0.1, 0.3},
		{"fine step", 1.23456, 0.001, 1.234},
		{"step larger than qty", 0.05, 0.1, 0},
		{"zero step passthrough", 0.123, 0, 0.123},
		{"zero qty", 0, 0.1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, RoundToStep(tc.qty, tc.step), 1e-12)
		})
	}
}

func TestCloseAmountNeverExceedsOpen(t *testing.T) {
	assert.InDelta(t, 0.5, CloseAmount(0.5, 0.1), 1e-12)
	assert.InDelta(t, 0.5, CloseAmount(0.55, 0.5), 1e-12)
	assert.Equal(t, 0.0, CloseAmount(0, 0.1))
}

func TestFormatAmountShortest(t *testing.T) {
	assert.Equal(t, "0.3", FormatAmount(RoundToStep(0.35, 0.1)))
	assert.Equal(t, "1.234", FormatAmount(RoundToStep(1.23456, 0.001)))
}
