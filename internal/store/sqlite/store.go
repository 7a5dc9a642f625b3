package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autohelm/internal/store"
	"autohelm/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName "sqlite" selects the pure-Go modernc driver so CGO-free
	// builds work and the _pragma DSN parameters above are honored.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}

	return newSqliteStore(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.TradeSignalModel{},
		&model.PositionModel{},
		&model.PairConfigModel{},
		&model.RuntimeStateModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: allow a small amount of parallelism for concurrent
		// HTTP reads while keeping lock contention low.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

var _ store.Store = (*SqliteStore)(nil)

func (s *SqliteStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *SqliteStore) Signals() store.SignalRepository     { return NewSignalRepo(s.db) }
func (s *SqliteStore) Positions() store.PositionRepository { return NewPositionRepo(s.db) }
func (s *SqliteStore) Pairs() store.PairRepository         { return NewPairRepo(s.db) }
func (s *SqliteStore) Runtime() store.RuntimeRepository    { return NewRuntimeRepo(s.db) }

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) Signals() store.SignalRepository     { return NewSignalRepo(u.tx) }
func (u *gormUnitOfWork) Positions() store.PositionRepository { return NewPositionRepo(u.tx) }
func (u *gormUnitOfWork) Pairs() store.PairRepository         { return NewPairRepo(u.tx) }
func (u *gormUnitOfWork) Runtime() store.RuntimeRepository    { return NewRuntimeRepo(u.tx) }

func (u *gormUnitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}
