package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"autohelm/internal/core"
	"autohelm/internal/store/model"

	"gorm.io/gorm"
)

// positionRepository implements the PositionRepository interface.
type positionRepository struct {
	db *gorm.DB
}

// NewPositionRepo creates a new positionRepository.
func NewPositionRepo(db *gorm.DB) *positionRepository {
	return &positionRepository{db: db}
}

// Save inserts or updates a position and writes the generated ID back.
func (r *positionRepository) Save(ctx context.Context, pos *core.Position) error {
	if pos == nil {
		return errors.New("position cannot be nil")
	}
	m := newPositionModel(*pos)
	m.UpdatedAtUnix = time.Now().UnixMilli()
	if err := r.db.WithContext(ctx).Save(&m).Error; err != nil {
		return err
	}
	pos.ID = m.ID
	return nil
}

// FindByID finds a position by ID. Missing rows return (nil, nil).
func (r *positionRepository) FindByID(ctx context.Context, id int64) (*core.Position, error) {
	var m model.PositionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos := positionModelToCore(m)
	return &pos, nil
}

// FindOpenBySymbol returns the OPEN position of a symbol, or (nil, nil).
// At most one such row exists.
func (r *positionRepository) FindOpenBySymbol(ctx context.Context, symbol string) (*core.Position, error) {
	var m model.PositionModel
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND status = ?", strings.ToUpper(strings.TrimSpace(symbol)), string(core.StatusOpen)).
		Order("id DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos := positionModelToCore(m)
	return &pos, nil
}

// ListByStatus lists positions in one status, newest first.
func (r *positionRepository) ListByStatus(ctx context.Context, status core.PositionStatus, limit int) ([]core.Position, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var models []model.PositionModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("opened_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return positionModelsToCore(models), nil
}

// ListClosedSince lists positions closed at or after the given instant.
// Used to rebuild the daily realized pnl after a restart.
func (r *positionRepository) ListClosedSince(ctx context.Context, since time.Time) ([]core.Position, error) {
	var models []model.PositionModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND closed_at >= ?", string(core.StatusClosed), since.UnixMilli()).
		Order("closed_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return positionModelsToCore(models), nil
}

func newPositionModel(pos core.Position) model.PositionModel {
	m := model.PositionModel{
		ID:           pos.ID,
		Symbol:       strings.ToUpper(strings.TrimSpace(pos.Symbol)),
		Side:         string(pos.Side),
		EntryPrice:   pos.EntryPrice,
		Quantity:     pos.Quantity,
		StopLoss:     pos.StopLoss,
		TakeProfit:   pos.TakeProfit,
		Status:       string(pos.Status),
		OrderID:      pos.OrderID,
		Fees:         pos.Fees,
		ExitPrice:    pos.ExitPrice,
		Profit:       pos.Profit,
		ProfitPct:    pos.ProfitPct,
		CloseReason:  string(pos.CloseReason),
		OpenedAtUnix: pos.OpenedAt.UnixMilli(),
	}
	if pos.ClosedAt != nil && !pos.ClosedAt.IsZero() {
		ts := pos.ClosedAt.UnixMilli()
		m.ClosedAtUnix = &ts
	}
	return m
}

func positionModelToCore(m model.PositionModel) core.Position {
	pos := core.Position{
		ID:          m.ID,
		Symbol:      m.Symbol,
		Side:        core.Side(m.Side),
		EntryPrice:  m.EntryPrice,
		Quantity:    m.Quantity,
		StopLoss:    m.StopLoss,
		TakeProfit:  m.TakeProfit,
		Status:      core.PositionStatus(m.Status),
		OrderID:     m.OrderID,
		Fees:        m.Fees,
		ExitPrice:   m.ExitPrice,
		Profit:      m.Profit,
		ProfitPct:   m.ProfitPct,
		CloseReason: core.CloseReason(m.CloseReason),
		OpenedAt:    time.UnixMilli(m.OpenedAtUnix),
	}
	if m.ClosedAtUnix != nil && *m.ClosedAtUnix > 0 {
		ts := time.UnixMilli(*m.ClosedAtUnix)
		pos.ClosedAt = &ts
	}
	return pos
}

func positionModelsToCore(models []model.PositionModel) []core.Position {
	out := make([]core.Position, 0, len(models))
	for _, m := range models {
		out = append(out, positionModelToCore(m))
	}
	return out
}
