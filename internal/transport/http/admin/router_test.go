package adminhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohelm/internal/controller"
	"autohelm/internal/core"
	"autohelm/internal/store"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/supervisor"
)

type fakeControl struct {
	mu       sync.Mutex
	status   controller.Status
	startErr error
	stopErr  error
	syncRep  supervisor.Report
	syncErr  error
	closeErr error
	pairsErr error

	started  int
	stopped  int
	closed   []string
	gotPairs []core.TradingPairConfig
}

func (f *fakeControl) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeControl) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.stopErr
}

func (f *fakeControl) Sync(ctx context.Context) (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncRep, f.syncErr
}

func (f *fakeControl) Status(ctx context.Context) controller.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeControl) ClosePosition(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, symbol)
	return f.closeErr
}

func (f *fakeControl) UpdatePairs(ctx context.Context, pairs []core.TradingPairConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotPairs = pairs
	return f.pairsErr
}

// apiStore backs the read-only store routes. Only the methods those
// routes touch are implemented; the rest answer not-supported.
type apiStore struct {
	mu       sync.Mutex
	pairs    []core.TradingPairConfig
	signals  []core.TradeSignal
	closed   []core.Position
	gotLimit int
}

var errNotSupported = errors.New("not supported in this fake")

func (s *apiStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	return nil, errNotSupported
}
func (s *apiStore) Signals() store.SignalRepository     { return apiSignals{s} }
func (s *apiStore) Positions() store.PositionRepository { return apiPositions{s} }
func (s *apiStore) Pairs() store.PairRepository         { return apiPairs{s} }
func (s *apiStore) Runtime() store.RuntimeRepository    { return apiRuntime{} }
func (s *apiStore) Close() error                        { return nil }

type apiSignals struct{ s *apiStore }

func (r apiSignals) Insert(ctx context.Context, sig *core.TradeSignal) error { return errNotSupported }
func (r apiSignals) MarkExecuted(ctx context.Context, signalID, positionID int64) error {
	return errNotSupported
}
func (r apiSignals) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return 0, errNotSupported
}

func (r apiSignals) ListRecent(ctx context.Context, limit int) ([]core.TradeSignal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.gotLimit = limit
	return append([]core.TradeSignal(nil), r.s.signals...), nil
}

func (r apiSignals) ListBySymbol(ctx context.Context, symbol string, limit int) ([]core.TradeSignal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.gotLimit = limit
	out := make([]core.TradeSignal, 0, len(r.s.signals))
	for _, sig := range r.s.signals {
		if strings.EqualFold(sig.Symbol, symbol) {
			out = append(out, sig)
		}
	}
	return out, nil
}

type apiPositions struct{ s *apiStore }

func (r apiPositions) Save(ctx context.Context, pos *core.Position) error { return errNotSupported }
func (r apiPositions) FindByID(ctx context.Context, id int64) (*core.Position, error) {
	return nil, errNotSupported
}
func (r apiPositions) FindOpenBySymbol(ctx context.Context, symbol string) (*core.Position, error) {
	return nil, errNotSupported
}
func (r apiPositions) ListClosedSince(ctx context.Context, since time.Time) ([]core.Position, error) {
	return nil, errNotSupported
}

func (r apiPositions) ListByStatus(ctx context.Context, status core.PositionStatus, limit int) ([]core.Position, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if status != core.StatusClosed {
		return nil, nil
	}
	return append([]core.Position(nil), r.s.closed...), nil
}

type apiPairs struct{ s *apiStore }

func (r apiPairs) ReplaceAll(ctx context.Context, pairs []core.TradingPairConfig) error {
	return errNotSupported
}
func (r apiPairs) Upsert(ctx context.Context, pair core.TradingPairConfig) error {
	return errNotSupported
}
func (r apiPairs) ListActive(ctx context.Context) ([]core.TradingPairConfig, error) {
	return nil, errNotSupported
}

func (r apiPairs) List(ctx context.Context) ([]core.TradingPairConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]core.TradingPairConfig(nil), r.s.pairs...), nil
}

type apiRuntime struct{}

func (apiRuntime) Get(ctx context.Context) (core.BotRuntimeState, error) {
	return core.BotRuntimeState{ID: core.RuntimeStateID}, nil
}
func (apiRuntime) Save(ctx context.Context, st core.BotRuntimeState) error { return nil }

func newAPI(t *testing.T, ctl *fakeControl, st store.Store, events *eventlog.EventStore) http.Handler {
	t.Helper()
	router, err := NewRouter(RouterParams{Control: ctl, Store: st, Events: events})
	require.NoError(t, err)
	srv, err := NewServer(Config{Addr: ":0", Router: router})
	require.NoError(t, err)
	return srv.engine()
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			buf, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(buf)
		}
	}
	req := httptest.NewRequest(method, target, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "body: %s", w.Body.String())
}

func TestHealthz(t *testing.T) {
	h := newAPI(t, &fakeControl{}, nil, nil)

	w := do(t, h, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	ctl := &fakeControl{status: controller.Status{
		State:   controller.StateRunning,
		Mode:    "paper",
		PID:     4321,
		Pairs:   []string{"BTCUSDT", "ETHUSDT"},
		Cycles:  12,
		Balance: 10000,
		Daily:   core.DailyRiskStats{Day: "2026-08-25", Trades: 3},
	}}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodGet, "/api/v1/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "RUNNING", body["state"])
	assert.Equal(t, "paper", body["mode"])
	assert.Equal(t, float64(4321), body["pid"])
	assert.Equal(t, []any{"BTCUSDT", "ETHUSDT"}, body["pairs"])
	daily, ok := body["daily"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), daily["trades"])
}

func TestStartMapsLifecycleConflictTo409(t *testing.T) {
	ctl := &fakeControl{startErr: errors.New("cannot start while RUNNING")}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/start", nil)

	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Contains(t, body["error"], "RUNNING")
	assert.Equal(t, 1, ctl.started)
}

func TestStartMapsConnectivityTo502(t *testing.T) {
	ctl := &fakeControl{startErr: &core.ConnectivityError{
		Target: "gateway paper",
		Err:    errors.New("connection refused"),
	}}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/start", nil)

	require.Equal(t, http.StatusBadGateway, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Contains(t, body["error"], "gateway paper")
}

func TestStopReturnsFreshStatus(t *testing.T) {
	ctl := &fakeControl{status: controller.Status{State: controller.StateStopped, Mode: "paper"}}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/stop", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ctl.stopped)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "STOPPED", body["state"])
}

func TestSyncReportsDrift(t *testing.T) {
	ctl := &fakeControl{syncRep: supervisor.Report{
		Running:    true,
		Source:     supervisor.SourceOSProcess,
		Consistent: false,
		Corrections: []supervisor.Correction{
			{Target: supervisor.TargetStore, Running: true},
		},
	}}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/sync", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Consistent  bool     `json:"consistent"`
		Running     bool     `json:"running"`
		Source      string   `json:"source"`
		Corrections []string `json:"corrections"`
	}
	decode(t, w, &body)
	assert.False(t, body.Consistent)
	assert.True(t, body.Running)
	assert.Equal(t, string(supervisor.SourceOSProcess), body.Source)
	assert.Contains(t, body.Corrections, "store->running")
}

func TestSyncStoreFailureIs502(t *testing.T) {
	ctl := &fakeControl{syncErr: &core.ConnectivityError{Target: "store", Err: errors.New("locked")}}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/sync", nil)

	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestManualCloseNormalizesSymbol(t *testing.T) {
	ctl := &fakeControl{}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/positions/btcusdt/close", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"BTCUSDT"}, ctl.closed)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "BTCUSDT", body["symbol"])
	assert.Equal(t, true, body["closed"])
}

func TestManualCloseUnknownSymbolIs404(t *testing.T) {
	ctl := &fakeControl{closeErr: errors.New("no open position for ETHUSDT")}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/positions/ethusdt/close", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdatePairsValidation(t *testing.T) {
	ctl := &fakeControl{}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPut, "/api/v1/pairs", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/pairs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/pairs", updatePairsRequest{
		Pairs: []pairPayload{{Symbol: "   ", IsActive: true}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Nil(t, ctl.gotPairs)
}

func TestUpdatePairsForwardsToController(t *testing.T) {
	ctl := &fakeControl{}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPut, "/api/v1/pairs", updatePairsRequest{
		Pairs: []pairPayload{
			{Symbol: "ethusdt", IsActive: true, StrategyID: "momentum", StopLossPct: 0.03},
			{Symbol: "BTCUSDT", IsActive: false},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["active"])

	require.Len(t, ctl.gotPairs, 2)
	assert.Equal(t, "ethusdt", ctl.gotPairs[0].Symbol)
	assert.Equal(t, "momentum", ctl.gotPairs[0].StrategyID)
	assert.InDelta(t, 0.03, ctl.gotPairs[0].StopLossPct, 1e-12)
	assert.False(t, ctl.gotPairs[1].IsActive)
}

func TestUpdatePairsWhileStoppedIs409(t *testing.T) {
	ctl := &fakeControl{pairsErr: errors.New("cannot accept commands while STOPPED")}
	h := newAPI(t, ctl, nil, nil)

	w := do(t, h, http.MethodPut, "/api/v1/pairs", updatePairsRequest{
		Pairs: []pairPayload{{Symbol: "BTCUSDT", IsActive: true}},
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListPairsReadsStore(t *testing.T) {
	st := &apiStore{pairs: []core.TradingPairConfig{
		{Symbol: "BTCUSDT", IsActive: true, StrategyID: "momentum"},
		{Symbol: "ETHUSDT", IsActive: false},
	}}
	h := newAPI(t, &fakeControl{}, st, nil)

	w := do(t, h, http.MethodGet, "/api/v1/pairs", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Pairs []pairPayload `json:"pairs"`
		Count int           `json:"count"`
	}
	decode(t, w, &body)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Pairs, 2)
	assert.Equal(t, "BTCUSDT", body.Pairs[0].Symbol)
	assert.True(t, body.Pairs[0].IsActive)
	assert.Equal(t, "momentum", body.Pairs[0].StrategyID)
}

func TestStoreBackedRoutesAnswer503WithoutStore(t *testing.T) {
	h := newAPI(t, &fakeControl{}, nil, nil)

	for _, target := range []string{
		"/api/v1/pairs",
		"/api/v1/signals",
		"/api/v1/positions?status=closed",
		"/api/v1/events",
	} {
		w := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
	}
}

func TestListSignalsSymbolFilterAndLimitClamp(t *testing.T) {
	st := &apiStore{signals: []core.TradeSignal{
		{ID: 1, Symbol: "BTCUSDT", Action: core.ActionBuy, Confidence: 0.8},
		{ID: 2, Symbol: "ETHUSDT", Action: core.ActionWait},
		{ID: 3, Symbol: "BTCUSDT", Action: core.ActionWait},
	}}
	h := newAPI(t, &fakeControl{}, st, nil)

	w := do(t, h, http.MethodGet, "/api/v1/signals?symbol=btcusdt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Signals []signalPayload `json:"signals"`
		Count   int             `json:"count"`
	}
	decode(t, w, &body)
	assert.Equal(t, 2, body.Count)
	for _, sig := range body.Signals {
		assert.Equal(t, "BTCUSDT", sig.Symbol)
	}

	w = do(t, h, http.MethodGet, "/api/v1/signals?limit=99999", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxPageSize, st.gotLimit)

	w = do(t, h, http.MethodGet, "/api/v1/signals?limit=bogus", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, st.gotLimit)
}

func TestListPositionsLiveAndClosed(t *testing.T) {
	closedAt := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	exit := 98.0
	ctl := &fakeControl{status: controller.Status{
		State: controller.StateRunning,
		OpenPositions: []controller.OpenPosition{
			{Symbol: "BTCUSDT", Side: core.SideBuy, EntryPrice: 100, Quantity: 1.5, CurrentPrice: 103},
		},
	}}
	st := &apiStore{closed: []core.Position{{
		ID:          7,
		Symbol:      "BTCUSDT",
		Side:        core.SideBuy,
		EntryPrice:  100,
		Quantity:    2,
		Status:      core.StatusClosed,
		ExitPrice:   &exit,
		Profit:      -4.38,
		ClosedAt:    &closedAt,
		CloseReason: core.ReasonStopLoss,
	}}}
	h := newAPI(t, ctl, st, nil)

	w := do(t, h, http.MethodGet, "/api/v1/positions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var live struct {
		Positions []controller.OpenPosition `json:"positions"`
		Count     int                       `json:"count"`
	}
	decode(t, w, &live)
	require.Equal(t, 1, live.Count)
	assert.Equal(t, "BTCUSDT", live.Positions[0].Symbol)
	assert.InDelta(t, 103, live.Positions[0].CurrentPrice, 1e-12)

	w = do(t, h, http.MethodGet, "/api/v1/positions?status=closed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Positions []positionPayload `json:"positions"`
		Count     int               `json:"count"`
	}
	decode(t, w, &hist)
	require.Equal(t, 1, hist.Count)
	assert.Equal(t, core.ReasonStopLoss, hist.Positions[0].CloseReason)
	require.NotNil(t, hist.Positions[0].ExitPrice)
	assert.InDelta(t, 98, *hist.Positions[0].ExitPrice, 1e-12)
}

func TestEventsEndpointFiltersByType(t *testing.T) {
	events, err := eventlog.NewEventStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	ctx := context.Background()
	require.NoError(t, events.Append(ctx, eventlog.Event{
		Type:      eventlog.TypeLifecycle,
		Detail:    map[string]any{"event": "started"},
		CreatedAt: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, events.Append(ctx, eventlog.Event{
		Type:      eventlog.TypeError,
		Detail:    map[string]any{"stage": "cycle"},
		CreatedAt: time.Date(2026, 8, 25, 9, 1, 0, 0, time.UTC),
	}))

	h := newAPI(t, &fakeControl{}, nil, events)

	w := do(t, h, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []eventlog.Event `json:"events"`
		Count  int              `json:"count"`
	}
	decode(t, w, &body)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, eventlog.TypeError, body.Events[0].Type)

	w = do(t, h, http.MethodGet, "/api/v1/events?type="+eventlog.TypeLifecycle, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, eventlog.TypeLifecycle, body.Events[0].Type)
}

func TestMetricsExposed(t *testing.T) {
	h := newAPI(t, &fakeControl{}, nil, nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bot_cycles_total")
}

func TestStatusForMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.New("cannot start while RUNNING"), http.StatusConflict},
		{errors.New("cannot stop while STARTING"), http.StatusConflict},
		{errors.New("cannot accept commands while STOPPED"), http.StatusConflict},
		{errors.New("no open position for BTCUSDT"), http.StatusNotFound},
		{&core.ConnectivityError{Target: "store", Err: errors.New("locked")}, http.StatusBadGateway},
		{&core.ExecutionError{Symbol: "BTCUSDT", Op: "open", Err: errors.New("rejected")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
