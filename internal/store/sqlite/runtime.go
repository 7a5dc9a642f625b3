package sqlite

import (
	"context"
	"errors"
	"time"

	"autohelm/internal/core"
	"autohelm/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// runtimeRepository implements the RuntimeRepository interface.
type runtimeRepository struct {
	db *gorm.DB
}

// NewRuntimeRepo creates a new runtimeRepository.
func NewRuntimeRepo(db *gorm.DB) *runtimeRepository {
	return &runtimeRepository{db: db}
}

// Get loads the singleton row. A store that has never been written
// returns a zero-value state with the fixed ID, not an error.
func (r *runtimeRepository) Get(ctx context.Context) (core.BotRuntimeState, error) {
	var m model.RuntimeStateModel
	err := r.db.WithContext(ctx).Where("id = ?", core.RuntimeStateID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.BotRuntimeState{ID: core.RuntimeStateID}, nil
	}
	if err != nil {
		return core.BotRuntimeState{}, err
	}
	return runtimeModelToCore(m), nil
}

// Save upserts the singleton row.
func (r *runtimeRepository) Save(ctx context.Context, st core.BotRuntimeState) error {
	m := newRuntimeModel(st)
	m.ID = core.RuntimeStateID
	m.UpdatedAtUnix = time.Now().UnixMilli()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

func newRuntimeModel(st core.BotRuntimeState) model.RuntimeStateModel {
	m := model.RuntimeStateModel{
		ID:          st.ID,
		PID:         st.PID,
		TotalCycles: st.TotalCycles,
		TotalTrades: st.TotalTrades,
		RealizedPnL: st.RealizedPnL,
		LastError:   st.LastError,
	}
	if st.IsRunning {
		m.IsRunning = 1
	}
	if st.StartedAt != nil && !st.StartedAt.IsZero() {
		ts := st.StartedAt.UnixMilli()
		m.StartedAtUnix = &ts
	}
	if st.StoppedAt != nil && !st.StoppedAt.IsZero() {
		ts := st.StoppedAt.UnixMilli()
		m.StoppedAtUnix = &ts
	}
	return m
}

func runtimeModelToCore(m model.RuntimeStateModel) core.BotRuntimeState {
	st := core.BotRuntimeState{
		ID:          m.ID,
		IsRunning:   m.IsRunning != 0,
		PID:         m.PID,
		TotalCycles: m.TotalCycles,
		TotalTrades: m.TotalTrades,
		RealizedPnL: m.RealizedPnL,
		LastError:   m.LastError,
		UpdatedAt:   time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.StartedAtUnix != nil && *m.StartedAtUnix > 0 {
		ts := time.UnixMilli(*m.StartedAtUnix)
		st.StartedAt = &ts
	}
	if m.StoppedAtUnix != nil && *m.StoppedAtUnix > 0 {
		ts := time.UnixMilli(*m.StoppedAtUnix)
		st.StoppedAt = &ts
	}
	return st
}
