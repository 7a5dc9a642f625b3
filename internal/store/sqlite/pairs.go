package sqlite

import (
	"context"
	"strings"
	"time"

	"autohelm/internal/core"
	"autohelm/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pairRepository implements the PairRepository interface.
type pairRepository struct {
	db *gorm.DB
}

// NewPairRepo creates a new pairRepository.
func NewPairRepo(db *gorm.DB) *pairRepository {
	return &pairRepository{db: db}
}

// ReplaceAll swaps the whole pair set in one transaction. Symbols absent
// from the new set are deleted, not deactivated.
func (r *pairRepository) ReplaceAll(ctx context.Context, pairs []core.TradingPairConfig) error {
	now := time.Now().UnixMilli()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.PairConfigModel{}).Error; err != nil {
			return err
		}
		if len(pairs) == 0 {
			return nil
		}
		models := make([]model.PairConfigModel, 0, len(pairs))
		for _, p := range pairs {
			m := newPairModel(p)
			m.UpdatedAtUnix = now
			models = append(models, m)
		}
		return tx.Create(&models).Error
	})
}

// Upsert inserts or updates a single pair keyed by symbol.
func (r *pairRepository) Upsert(ctx context.Context, pair core.TradingPairConfig) error {
	m := newPairModel(pair)
	m.UpdatedAtUnix = time.Now().UnixMilli()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// List returns every configured pair ordered by symbol.
func (r *pairRepository) List(ctx context.Context) ([]core.TradingPairConfig, error) {
	var models []model.PairConfigModel
	if err := r.db.WithContext(ctx).Order("symbol ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return pairModelsToCore(models), nil
}

// ListActive returns only pairs flagged active.
func (r *pairRepository) ListActive(ctx context.Context) ([]core.TradingPairConfig, error) {
	var models []model.PairConfigModel
	if err := r.db.WithContext(ctx).
		Where("is_active = 1").
		Order("symbol ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return pairModelsToCore(models), nil
}

func newPairModel(p core.TradingPairConfig) model.PairConfigModel {
	m := model.PairConfigModel{
		Symbol:        strings.ToUpper(strings.TrimSpace(p.Symbol)),
		StrategyID:    strings.TrimSpace(p.StrategyID),
		StopLossPct:   p.StopLossPct,
		TakeProfitPct: p.TakeProfitPct,
	}
	if p.IsActive {
		m.IsActive = 1
	}
	return m
}

func pairModelsToCore(models []model.PairConfigModel) []core.TradingPairConfig {
	out := make([]core.TradingPairConfig, 0, len(models))
	for _, m := range models {
		out = append(out, core.TradingPairConfig{
			Symbol:        m.Symbol,
			IsActive:      m.IsActive != 0,
			StrategyID:    m.StrategyID,
			StopLossPct:   m.StopLossPct,
			TakeProfitPct: m.TakeProfitPct,
		})
	}
	return out
}
