package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"autohelm/internal/core"
	"autohelm/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// signalRepository implements the SignalRepository interface.
type signalRepository struct {
	db *gorm.DB
}

// NewSignalRepo creates a new signalRepository.
func NewSignalRepo(db *gorm.DB) *signalRepository {
	return &signalRepository{db: db}
}

// Insert persists a new signal and writes the generated ID back.
func (r *signalRepository) Insert(ctx context.Context, sig *core.TradeSignal) error {
	if sig == nil {
		return errors.New("signal cannot be nil")
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	m := newSignalModel(*sig)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	sig.ID = m.ID
	return nil
}

// MarkExecuted links a signal to the position it opened.
func (r *signalRepository) MarkExecuted(ctx context.Context, signalID, positionID int64) error {
	res := r.db.WithContext(ctx).Model(&model.TradeSignalModel{}).
		Where("id = ?", signalID).
		Updates(map[string]interface{}{
			"executed":    1,
			"position_id": positionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListRecent lists the newest signals across all symbols.
func (r *signalRepository) ListRecent(ctx context.Context, limit int) ([]core.TradeSignal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []model.TradeSignalModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return signalModelsToCore(models), nil
}

// ListBySymbol lists the newest signals of one symbol.
func (r *signalRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]core.TradeSignal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []model.TradeSignalModel
	if err := r.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return signalModelsToCore(models), nil
}

// CountSince counts signals created at or after the given instant.
func (r *signalRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.TradeSignalModel{}).
		Where("created_at >= ?", since.UnixMilli()).
		Count(&total).Error
	return total, err
}

func newSignalModel(sig core.TradeSignal) model.TradeSignalModel {
	m := model.TradeSignalModel{
		ID:            sig.ID,
		Symbol:        strings.ToUpper(strings.TrimSpace(sig.Symbol)),
		Action:        string(sig.Action),
		Confidence:    sig.Confidence,
		Price:         sig.Price,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		StrategyID:    strings.TrimSpace(sig.StrategyID),
		Reason:        sig.Reason,
		PositionID:    sig.PositionID,
		CreatedAtUnix: sig.CreatedAt.UnixMilli(),
	}
	if len(sig.Raw) > 0 {
		m.Raw = datatypes.JSON(sig.Raw)
	}
	if sig.Executed {
		m.Executed = 1
	}
	return m
}

func signalModelToCore(m model.TradeSignalModel) core.TradeSignal {
	return core.TradeSignal{
		ID:         m.ID,
		Symbol:     m.Symbol,
		Action:     core.Action(m.Action),
		Confidence: m.Confidence,
		Price:      m.Price,
		StopLoss:   m.StopLoss,
		TakeProfit: m.TakeProfit,
		StrategyID: m.StrategyID,
		Reason:     m.Reason,
		Raw:        []byte(m.Raw),
		Executed:   m.Executed != 0,
		PositionID: m.PositionID,
		CreatedAt:  time.UnixMilli(m.CreatedAtUnix),
	}
}

func signalModelsToCore(models []model.TradeSignalModel) []core.TradeSignal {
	out := make([]core.TradeSignal, 0, len(models))
	for _, m := range models {
		out = append(out, signalModelToCore(m))
	}
	return out
}
