package model

import (
	"gorm.io/datatypes"
)

// Timestamps are stored as unix milliseconds so rows sort and filter
// without driver-specific time handling.

type TradeSignalModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index:idx_signals_symbol_created"`
	Action        string         `gorm:"column:action"`
	Confidence    float64        `gorm:"column:confidence"`
	Price         float64        `gorm:"column:price"`
	StopLoss      *float64       `gorm:"column:stop_loss"`
	TakeProfit    *float64       `gorm:"column:take_profit"`
	StrategyID    string         `gorm:"column:strategy_id"`
	Reason        string         `gorm:"column:reason"`
	Raw           datatypes.JSON `gorm:"column:raw;type:TEXT"`
	Executed      int            `gorm:"column:executed"`
	PositionID    *int64         `gorm:"column:position_id"`
	CreatedAtUnix int64          `gorm:"column:created_at;index:idx_signals_symbol_created"`
}

func (TradeSignalModel) TableName() string { return "trade_signals" }

type PositionModel struct {
	ID            int64    `gorm:"column:id;primaryKey"`
	Symbol        string   `gorm:"column:symbol;index:idx_positions_symbol_status"`
	Side          string   `gorm:"column:side"`
	EntryPrice    float64  `gorm:"column:entry_price"`
	Quantity      float64  `gorm:"column:quantity"`
	StopLoss      float64  `gorm:"column:stop_loss"`
	TakeProfit    float64  `gorm:"column:take_profit"`
	Status        string   `gorm:"column:status;index:idx_positions_symbol_status"`
	OrderID       string   `gorm:"column:order_id"`
	Fees          float64  `gorm:"column:fees"`
	ExitPrice     *float64 `gorm:"column:exit_price"`
	Profit        float64  `gorm:"column:profit"`
	ProfitPct     float64  `gorm:"column:profit_pct"`
	CloseReason   string   `gorm:"column:close_reason"`
	OpenedAtUnix  int64    `gorm:"column:opened_at;index"`
	ClosedAtUnix  *int64   `gorm:"column:closed_at"`
	UpdatedAtUnix int64    `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

type PairConfigModel struct {
	Symbol        string  `gorm:"column:symbol;primaryKey"`
	IsActive      int     `gorm:"column:is_active"`
	StrategyID    string  `gorm:"column:strategy_id"`
	StopLossPct   float64 `gorm:"column:stop_loss_pct"`
	TakeProfitPct float64 `gorm:"column:take_profit_pct"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (PairConfigModel) TableName() string { return "trading_pairs" }

// RuntimeStateModel is a single-row table; ID is always 1.
type RuntimeStateModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	IsRunning     int     `gorm:"column:is_running"`
	PID           int     `gorm:"column:pid"`
	StartedAtUnix *int64  `gorm:"column:started_at"`
	StoppedAtUnix *int64  `gorm:"column:stopped_at"`
	TotalCycles   int64   `gorm:"column:total_cycles"`
	TotalTrades   int64   `gorm:"column:total_trades"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`
	LastError     string  `gorm:"column:last_error"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (RuntimeStateModel) TableName() string { return "bot_runtime_state" }
