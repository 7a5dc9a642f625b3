package adminhttp

import (
	"encoding/json"
	"time"

	"autohelm/internal/core"
)

// pairPayload is the wire form of one trading pair row.
type pairPayload struct {
	Symbol        string  `json:"symbol"`
	IsActive      bool    `json:"is_active"`
	StrategyID    string  `json:"strategy_id,omitempty"`
	StopLossPct   float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64 `json:"take_profit_pct,omitempty"`
}

type updatePairsRequest struct {
	Pairs []pairPayload `json:"pairs"`
}

func pairPayloadFrom(p core.TradingPairConfig) pairPayload {
	return pairPayload{
		Symbol:        p.Symbol,
		IsActive:      p.IsActive,
		StrategyID:    p.StrategyID,
		StopLossPct:   p.StopLossPct,
		TakeProfitPct: p.TakeProfitPct,
	}
}

func (p pairPayload) toConfig() core.TradingPairConfig {
	return core.TradingPairConfig{
		Symbol:        p.Symbol,
		IsActive:      p.IsActive,
		StrategyID:    p.StrategyID,
		StopLossPct:   p.StopLossPct,
		TakeProfitPct: p.TakeProfitPct,
	}
}

// signalPayload is the wire form of one persisted trade signal.
type signalPayload struct {
	ID         int64           `json:"id"`
	Symbol     string          `json:"symbol"`
	Action     core.Action     `json:"action"`
	Confidence float64         `json:"confidence"`
	Price      float64         `json:"price"`
	StopLoss   *float64        `json:"stop_loss,omitempty"`
	TakeProfit *float64        `json:"take_profit,omitempty"`
	StrategyID string          `json:"strategy_id"`
	Reason     string          `json:"reason,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Executed   bool            `json:"executed"`
	PositionID *int64          `json:"position_id,omitempty"`
}

func signalPayloadFrom(s core.TradeSignal) signalPayload {
	return signalPayload{
		ID:         s.ID,
		Symbol:     s.Symbol,
		Action:     s.Action,
		Confidence: s.Confidence,
		Price:      s.Price,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		StrategyID: s.StrategyID,
		Reason:     s.Reason,
		Raw:        s.Raw,
		CreatedAt:  s.CreatedAt,
		Executed:   s.Executed,
		PositionID: s.PositionID,
	}
}

// positionPayload is the wire form of one persisted position row. Open
// positions served live by the status endpoint carry mark-to-market
// fields instead; this shape is for store history reads.
type positionPayload struct {
	ID          int64               `json:"id"`
	Symbol      string              `json:"symbol"`
	Side        core.Side           `json:"side"`
	EntryPrice  float64             `json:"entry_price"`
	Quantity    float64             `json:"quantity"`
	StopLoss    float64             `json:"stop_loss,omitempty"`
	TakeProfit  float64             `json:"take_profit,omitempty"`
	Status      core.PositionStatus `json:"status"`
	OrderID     string              `json:"order_id,omitempty"`
	Fees        float64             `json:"fees"`
	ExitPrice   *float64            `json:"exit_price,omitempty"`
	Profit      float64             `json:"profit"`
	ProfitPct   float64             `json:"profit_pct"`
	OpenedAt    time.Time           `json:"opened_at"`
	ClosedAt    *time.Time          `json:"closed_at,omitempty"`
	CloseReason core.CloseReason    `json:"close_reason,omitempty"`
}

func positionPayloadFrom(p core.Position) positionPayload {
	return positionPayload{
		ID:          p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		Quantity:    p.Quantity,
		StopLoss:    p.StopLoss,
		TakeProfit:  p.TakeProfit,
		Status:      p.Status,
		OrderID:     p.OrderID,
		Fees:        p.Fees,
		ExitPrice:   p.ExitPrice,
		Profit:      p.Profit,
		ProfitPct:   p.ProfitPct,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
		CloseReason: p.CloseReason,
	}
}
