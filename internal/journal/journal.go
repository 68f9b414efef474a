// Package journal persists an append-only local record of trade
// executions and position actions in SQLite. The journal is an audit
// trail, never an input to trading decisions, so write failures are
// logged and swallowed by callers.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fxlink/internal/gateway/exchange"
)

type executionModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	OrderID    string  `gorm:"column:order_id;index"`
	AccountID  string  `gorm:"column:account_id;index"`
	Symbol     string  `gorm:"column:symbol;index"`
	Side       string  `gorm:"column:side"`
	Volume     float64 `gorm:"column:volume"`
	OpenPrice  float64 `gorm:"column:open_price"`
	ExecutedAt int64   `gorm:"column:executed_at;index"`
	CreatedAt  int64   `gorm:"column:created_at"`
}

func (executionModel) TableName() string { return "executions" }

type actionModel struct {
	ID         int64  `gorm:"column:id;primaryKey"`
	AccountID  string `gorm:"column:account_id;index"`
	PositionID string `gorm:"column:position_id;index"`
	Action     string `gorm:"column:action"`
	CreatedAt  int64  `gorm:"column:created_at;index"`
}

func (actionModel) TableName() string { return "position_actions" }

// Execution is one journaled trade submission.
type Execution struct {
	OrderID    string
	AccountID  string
	Symbol     string
	Side       string
	Volume     float64
	OpenPrice  float64
	ExecutedAt time.Time
}

// Action is one journaled close or modify.
type Action struct {
	AccountID  string
	PositionID string
	Action     string
	At         time.Time
}

// Store is the SQLite-backed journal.
type Store struct {
	db *gorm.DB
}

// NewStore opens (creating if needed) the journal database at path.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&executionModel{}, &actionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for HTTP reads, low lock contention
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordExecution appends one trade submission to the journal.
func (s *Store) RecordExecution(res exchange.ExecutionResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal: store not initialized")
	}
	model := executionModel{
		OrderID:    res.OrderID,
		AccountID:  res.AccountID,
		Symbol:     res.Symbol,
		Side:       string(res.Side),
		Volume:     res.Volume,
		OpenPrice:  res.OpenPrice,
		ExecutedAt: res.ExecutedAt.UnixMilli(),
		CreatedAt:  time.Now().UnixMilli(),
	}
	return s.db.Create(&model).Error
}

// RecordAction appends one close or modify to the journal.
func (s *Store) RecordAction(accountID, positionID, action string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal: store not initialized")
	}
	model := actionModel{
		AccountID:  accountID,
		PositionID: positionID,
		Action:     action,
		CreatedAt:  time.Now().UnixMilli(),
	}
	return s.db.Create(&model).Error
}

// RecentExecutions returns the newest journaled submissions.
func (s *Store) RecentExecutions(limit int) ([]Execution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal: store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []executionModel
	if err := s.db.
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Execution, 0, len(models))
	for _, m := range models {
		out = append(out, Execution{
			OrderID:    m.OrderID,
			AccountID:  m.AccountID,
			Symbol:     m.Symbol,
			Side:       m.Side,
			Volume:     m.Volume,
			OpenPrice:  m.OpenPrice,
			ExecutedAt: time.UnixMilli(m.ExecutedAt),
		})
	}
	return out, nil
}

// RecentActions returns the newest journaled closes and modifies.
func (s *Store) RecentActions(limit int) ([]Action, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal: store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []actionModel
	if err := s.db.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Action, 0, len(models))
	for _, m := range models {
		out = append(out, Action{
			AccountID:  m.AccountID,
			PositionID: m.PositionID,
			Action:     m.Action,
			At:         time.UnixMilli(m.CreatedAt),
		})
	}
	return out, nil
}
