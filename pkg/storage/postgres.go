package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/uhyunpark/chartreplay/pkg/engine"
)

// TradeRecord is the relational row of a closed trade.
type TradeRecord struct {
	ID          string           `gorm:"primaryKey;size:64"`
	SessionID   string           `gorm:"index;size:64"`
	OrderID     string           `gorm:"size:64"`
	Symbol      string           `gorm:"index;size:32"`
	Side        string           `gorm:"size:8"`
	EntryPrice  decimal.Decimal  `gorm:"type:numeric"`
	ExitPrice   *decimal.Decimal `gorm:"type:numeric"`
	Quantity    decimal.Decimal  `gorm:"type:numeric"`
	PnL         *decimal.Decimal `gorm:"type:numeric"`
	Commission  decimal.Decimal  `gorm:"type:numeric"`
	Swap        decimal.Decimal  `gorm:"type:numeric"`
	StopLoss    *decimal.Decimal `gorm:"type:numeric"`
	TakeProfit  *decimal.Decimal `gorm:"type:numeric"`
	EntryTime   int64
	ExitTime    int64  `gorm:"index"`
	Status      string `gorm:"size:8"`
	CloseReason string `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CheckpointRecord keeps every checkpoint; the latest row per session wins.
type CheckpointRecord struct {
	ID             uint            `gorm:"primaryKey"`
	SessionID      string          `gorm:"index;size:64"`
	Symbol         string          `gorm:"size:32"`
	Resolution     string          `gorm:"size:8"`
	Balance        decimal.Decimal `gorm:"type:numeric"`
	LastCandleTime int64
	SavedAt        int64 `gorm:"index"`
}

func toTradeRecord(sessionID string, t engine.Trade) TradeRecord {
	return TradeRecord{
		ID:          t.ID,
		SessionID:   sessionID,
		OrderID:     t.OrderID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		Quantity:    t.Quantity,
		PnL:         t.PnL,
		Commission:  t.Commission,
		Swap:        t.Swap,
		StopLoss:    t.StopLoss,
		TakeProfit:  t.TakeProfit,
		EntryTime:   t.EntryTime,
		ExitTime:    t.ExitTime,
		Status:      string(t.Status),
		CloseReason: string(t.CloseReason),
	}
}

func (r TradeRecord) trade() engine.Trade {
	return engine.Trade{
		ID:          r.ID,
		OrderID:     r.OrderID,
		Symbol:      r.Symbol,
		Side:        engine.Side(r.Side),
		EntryPrice:  r.EntryPrice,
		ExitPrice:   r.ExitPrice,
		Quantity:    r.Quantity,
		PnL:         r.PnL,
		EntryTime:   r.EntryTime,
		ExitTime:    r.ExitTime,
		Status:      engine.TradeStatus(r.Status),
		StopLoss:    r.StopLoss,
		TakeProfit:  r.TakeProfit,
		Commission:  r.Commission,
		Swap:        r.Swap,
		CloseReason: engine.CloseReason(r.CloseReason),
	}
}

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to dsn and migrates the trade and checkpoint
// tables.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&TradeRecord{}, &CheckpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveTrade(ctx context.Context, sessionID string, t engine.Trade) error {
	rec := toTradeRecord(sessionID, t)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp engine.Checkpoint) error {
	rec := CheckpointRecord{
		SessionID:      cp.SessionID,
		Symbol:         cp.Symbol,
		Resolution:     cp.Resolution,
		Balance:        cp.Balance,
		LastCandleTime: cp.LastCandleTime,
		SavedAt:        cp.SavedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *PostgresStore) LastCheckpoint(ctx context.Context, sessionID string) (engine.Checkpoint, error) {
	var rec CheckpointRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("saved_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return engine.Checkpoint{}, err
	}
	return engine.Checkpoint{
		SessionID:      rec.SessionID,
		Symbol:         rec.Symbol,
		Resolution:     rec.Resolution,
		Balance:        rec.Balance,
		LastCandleTime: rec.LastCandleTime,
		SavedAt:        rec.SavedAt,
	}, nil
}

func (s *PostgresStore) Trades(sessionID string, limit int) ([]engine.Trade, error) {
	q := s.db.Where("session_id = ?", sessionID).Order("exit_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []TradeRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]engine.Trade, len(recs))
	for i, r := range recs {
		out[i] = r.trade()
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
