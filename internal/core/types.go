// Package core holds the domain types shared by the controller, risk
// gate, ledger, and stores: signals, positions, pair configuration,
// runtime state, and the error taxonomy.
package core

import (
	"encoding/json"
	"time"
)

// Action is a scorer recommendation for a symbol.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionWait Action = "WAIT"
)

// Side is the direction of an executed position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFor maps an executable action to a position side.
// Only BUY and SELL are mappable; WAIT has no side.
func SideFor(a Action) (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	}
	return "", false
}

// PositionStatus is the lifecycle status of a position.
type PositionStatus string

const (
	StatusOpen      PositionStatus = "OPEN"
	StatusClosed    PositionStatus = "CLOSED"
	StatusCancelled PositionStatus = "CANCELLED"
)

// CloseReason records why a position left the OPEN state.
type CloseReason string

const (
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonMaxHold    CloseReason = "max_hold"
	ReasonManual     CloseReason = "manual"
	ReasonShutdown   CloseReason = "shutdown"
)

// TradeSignal is one scored recommendation. A signal row is written every
// cycle for every active pair and is never deleted; only Executed and
// PositionID change after creation.
type TradeSignal struct {
	ID         int64
	Symbol     string
	Action     Action
	Confidence float64 // scorer confidence in [0,1]
	Price      float64 // market price at scoring time
	StopLoss   *float64
	TakeProfit *float64
	StrategyID string
	Reason     string
	// Raw is the scorer output as produced, kept for audit.
	Raw        json.RawMessage
	CreatedAt  time.Time
	Executed   bool
	PositionID *int64
}

// Position is a holding created by an accepted, executed signal.
// At most one OPEN position exists per symbol.
type Position struct {
	ID         int64
	Symbol     string
	Side       Side
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	Status     PositionStatus
	OrderID    string // exchange order id of the opening order
	Fees       float64
	// Exit fields stay nil/zero while the position is OPEN.
	ExitPrice   *float64
	Profit      float64
	ProfitPct   float64 // against notional entry_price*quantity
	OpenedAt    time.Time
	ClosedAt    *time.Time
	CloseReason CloseReason
}

// Notional returns entry_price*quantity, the base for ProfitPct.
func (p *Position) Notional() float64 {
	if p == nil {
		return 0
	}
	return p.EntryPrice * p.Quantity
}

// Age reports how long the position has been open as of now.
func (p *Position) Age(now time.Time) time.Duration {
	if p == nil || p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt)
}

// TradingPairConfig is the operator-edited configuration of one symbol.
type TradingPairConfig struct {
	Symbol        string  `yaml:"symbol"`
	IsActive      bool    `yaml:"is_active"`
	StrategyID    string  `yaml:"strategy_id"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
}

// PairOutcome classifies what happened to one pair within one cycle.
type PairOutcome string

const (
	PairExecuted PairOutcome = "executed"
	PairSkipped  PairOutcome = "skipped"
	PairFailed   PairOutcome = "failed"
)

// PairResult is the typed per-pair cycle result. Failures are carried
// here instead of aborting the cycle so one symbol cannot halt others.
type PairResult struct {
	Symbol  string
	Outcome PairOutcome
	Reason  string // skip/rejection reason, empty on execution
	Err     error  // set only when Outcome is PairFailed
}

// CycleReport aggregates the pair results of one loop iteration.
type CycleReport struct {
	Cycle    int64
	Results  []PairResult
	Executed int
	Skipped  int
	Failed   int
}

// Add records one pair result and updates the tallies.
func (r *CycleReport) Add(res PairResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case PairExecuted:
		r.Executed++
	case PairSkipped:
		r.Skipped++
	case PairFailed:
		r.Failed++
	}
}
