// Package controller hosts the trading lifecycle: pre-flight checks,
// the cycle loop, administrative commands, and shutdown. One controller
// runs per process and the loop is the only writer of trading state;
// admin commands are forwarded into the loop instead of touching the
// ledger directly.
package controller

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"autohelm/internal/config"
	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
	"autohelm/internal/gateway/notifier"
	"autohelm/internal/ledger"
	"autohelm/internal/logger"
	"autohelm/internal/metrics"
	"autohelm/internal/pacing"
	"autohelm/internal/pkg/circuit"
	"autohelm/internal/risk"
	"autohelm/internal/store"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/strategy"
)

// State is the lifecycle state of the controller.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateError    State = "ERROR"
)

const (
	// snapshotCandles is how much candle history a market snapshot
	// carries; enough for the slowest indicator warmup with headroom.
	snapshotCandles = 120

	cmdBuffer       = 16
	defaultStopWait = 10 * time.Second

	breakerThreshold = 3
	breakerBase      = 30 * time.Second
	breakerMax       = 5 * time.Minute
)

type commandKind int

const (
	cmdClosePosition commandKind = iota
	cmdUpdatePairs
)

// command is an administrative request applied inside the loop thread.
type command struct {
	kind   commandKind
	symbol string
	pairs  []core.TradingPairConfig
	reply  chan error
}

// Params wires the controller's collaborators. Config, Store, Gateway,
// Gate, Ledger, and Scorers are required; the rest have defaults.
type Params struct {
	Config   *config.Config
	Store    store.Store
	Gateway  exchange.Gateway
	Gate     *risk.Gate
	Ledger   *ledger.Ledger
	Scorers  *strategy.Registry
	Delay    pacing.DelayPolicy
	Notifier notifier.TextNotifier
	Events   *eventlog.EventStore
}

// Controller drives the trading loop and owns its lifecycle.
type Controller struct {
	cfg     *config.Config
	store   store.Store
	gateway exchange.Gateway
	gate    *risk.Gate
	book    *ledger.Ledger
	scorers *strategy.Registry
	delay   pacing.DelayPolicy
	notify  notifier.TextNotifier
	events  *eventlog.EventStore
	breaker *circuit.Breaker
	log     *logger.NamedLogger

	mu         sync.Mutex
	state      State
	lastErr    error
	pairs      []core.TradingPairConfig
	balance    float64
	realized   float64
	daily      core.DailyRiskStats
	prices     map[string]float64
	startedAt  time.Time
	syncedAt   time.Time
	consistent bool

	cycles atomic.Int64
	trades atomic.Int64

	cmds     chan command
	quit     chan struct{}
	loopStop context.CancelFunc
	loopDone chan struct{}

	// StopWait bounds the graceful wind-down before the loop context
	// is cancelled outright.
	StopWait time.Duration

	// Now is the controller clock; replaceable in tests.
	Now func() time.Time
}

func New(p Params) (*Controller, error) {
	if p.Config == nil {
		return nil, &core.ConfigurationError{Field: "config", Msg: "required"}
	}
	if p.Store == nil || p.Gateway == nil {
		return nil, &core.ConfigurationError{Field: "wiring", Msg: "store and gateway are required"}
	}
	if p.Gate == nil || p.Ledger == nil || p.Scorers == nil {
		return nil, &core.ConfigurationError{Field: "wiring", Msg: "gate, ledger and scorers are required"}
	}
	delay := p.Delay
	if delay == nil {
		delay = pacing.FromConfig(p.Config.Pacing)
	}
	notify := p.Notifier
	if notify == nil {
		notify = notifier.Noop{}
	}
	c := &Controller{
		cfg:        p.Config,
		store:      p.Store,
		gateway:    p.Gateway,
		gate:       p.Gate,
		book:       p.Ledger,
		scorers:    p.Scorers,
		delay:      delay,
		notify:     notify,
		events:     p.Events,
		breaker:    circuit.New("controller", breakerThreshold, breakerBase, breakerMax),
		log:        logger.Named("controller"),
		state:      StateStopped,
		consistent: true,
		prices:     make(map[string]float64),
		Now:        time.Now,
	}
	metrics.SetLifecycleState(string(StateStopped))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cycles returns the cumulative cycle count.
func (c *Controller) Cycles() int64 {
	return c.cycles.Load()
}

// setStateLocked transitions the lifecycle state. Callers hold c.mu.
func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	metrics.SetLifecycleState(string(next))
	c.log.Infof("state %s -> %s", prev, next)
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) mode() string {
	if c.cfg.Trading.PaperMode() {
		return "paper"
	}
	return "live"
}

// appendEvent writes one audit row. The event log is best-effort and
// uses its own context so shutdown cancellation cannot drop the final
// lifecycle entries.
func (c *Controller) appendEvent(eventType, symbol string, detail map[string]any) {
	if c.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	evt := eventlog.Event{Type: eventType, Symbol: symbol, Detail: detail, CreatedAt: c.now()}
	if err := c.events.Append(ctx, evt); err != nil {
		c.log.Warnf("event log append failed: %v", err)
	}
}

func (c *Controller) activePairs() []core.TradingPairConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.TradingPairConfig, len(c.pairs))
	copy(out, c.pairs)
	return out
}

func (c *Controller) balanceValue() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

func (c *Controller) realizedValue() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realized
}

func (c *Controller) setDaily(stats core.DailyRiskStats) {
	c.mu.Lock()
	c.daily = stats
	c.mu.Unlock()
}

func (c *Controller) rememberPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

// OpenPosition is the status view of one open position with an
// indicative live profit based on the last seen price.
type OpenPosition struct {
	Symbol        string    `json:"symbol"`
	Side          core.Side `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      float64   `json:"quantity"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	CurrentPrice  float64   `json:"current_price,omitempty"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	UnrealizedPct float64   `json:"unrealized_pct"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Status is the administrative snapshot of the controller.
type Status struct {
	State         State               `json:"state"`
	Mode          string              `json:"mode"`
	PID           int                 `json:"pid"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	Pairs         []string            `json:"pairs"`
	OpenPositions []OpenPosition      `json:"open_positions"`
	Cycles        int64               `json:"cycles"`
	Trades        int64               `json:"trades"`
	RealizedPnL   float64             `json:"realized_pnl"`
	Balance       float64             `json:"balance"`
	Daily         core.DailyRiskStats `json:"daily"`
	Synced        bool                `json:"synced"`
	SyncedAt      *time.Time          `json:"synced_at,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
}

// Status assembles the admin view. Position profit uses the price seen
// during the latest cycle; symbols without a cached price get a
// best-effort ticker fetch.
func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	st := Status{
		State:       c.state,
		Mode:        c.mode(),
		PID:         os.Getpid(),
		Cycles:      c.cycles.Load(),
		Trades:      c.trades.Load(),
		RealizedPnL: c.realized,
		Balance:     c.balance,
		Daily:       c.daily,
		Synced:      c.consistent,
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		st.StartedAt = &t
	}
	if !c.syncedAt.IsZero() {
		t := c.syncedAt
		st.SyncedAt = &t
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	pairs := make([]string, 0, len(c.pairs))
	for _, p := range c.pairs {
		pairs = append(pairs, p.Symbol)
	}
	priceOf := make(map[string]float64, len(c.prices))
	for sym, price := range c.prices {
		priceOf[sym] = price
	}
	c.mu.Unlock()

	st.Pairs = pairs
	st.OpenPositions = make([]OpenPosition, 0, c.book.Count())
	for _, pos := range c.book.Snapshot() {
		view := OpenPosition{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			EntryPrice: pos.EntryPrice,
			Quantity:   pos.Quantity,
			StopLoss:   pos.StopLoss,
			TakeProfit: pos.TakeProfit,
			OpenedAt:   pos.OpenedAt,
		}
		price, ok := priceOf[pos.Symbol]
		if !ok && ctx != nil {
			if tick, err := c.gateway.FetchTicker(ctx, pos.Symbol); err == nil {
				price = tick.Last
			}
		}
		if price > 0 {
			view.CurrentPrice = price
			view.UnrealizedPnL, view.UnrealizedPct = ledger.ProfitFor(
				pos.Side, pos.EntryPrice, price, pos.Quantity, pos.Fees)
		}
		st.OpenPositions = append(st.OpenPositions, view)
	}
	return st
}
