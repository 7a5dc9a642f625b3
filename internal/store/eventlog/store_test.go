package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *EventStore {
	t.Helper()
	s, err := NewEventStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Event{
		Type:   TypeTradeOpen,
		Symbol: "btcusdt",
		Detail: map[string]any{"side": "BUY", "qty": 0.5},
	}))
	require.NoError(t, s.Append(ctx, Event{Type: TypeCycle, Detail: map[string]any{"cycle": 1}}))

	events, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, TypeCycle, events[0].Type, "newest first")
	assert.Equal(t, "BTCUSDT", events[1].Symbol)
	assert.Equal(t, "BUY", events[1].Detail["side"])

	trades, err := s.Recent(ctx, TypeTradeOpen, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, TypeTradeOpen, trades[0].Type)
}

func TestAppendRejectsUntyped(t *testing.T) {
	s := newTestLog(t)
	assert.Error(t, s.Append(context.Background(), Event{Symbol: "BTCUSDT"}))
}

func TestCountSince(t *testing.T) {
	s := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Event{Type: TypeError, CreatedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, s.Append(ctx, Event{Type: TypeError}))

	n, err := s.CountSince(ctx, TypeError, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestLog(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Error(t, s.Append(context.Background(), Event{Type: TypeCycle}))
}
