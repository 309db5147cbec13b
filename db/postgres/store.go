// Package postgres backs the wheel and entry stores with PostgreSQL via gorm.
//
// CompleteAttempt is the load-bearing piece: a single guarded UPDATE whose
// WHERE clause re-checks the current attempt, so two racing resolvers can
// never both persist a winner for the same attempt.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vdjjd/faninteract/config"
	"github.com/vdjjd/faninteract/wheel"
)

// Store implements wheel.WheelStore and wheel.EntryStore on one gorm handle
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Compile-time checks
var (
	_ wheel.WheelStore = (*Store)(nil)
	_ wheel.EntryStore = (*Store)(nil)
)

// New connects to PostgreSQL and returns a store
func New(cfg config.PostgresConfig, logger zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an existing gorm handle (used by tests)
func NewWithDB(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "postgres").Logger(),
	}
}

// AutoMigrate creates/updates the wheels and entries tables
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&wheel.Wheel{}, &wheel.Entry{})
}

// Get loads a wheel by id
func (s *Store) Get(ctx context.Context, wheelID string) (*wheel.Wheel, error) {
	var w wheel.Wheel
	err := s.db.WithContext(ctx).First(&w, "id = ?", wheelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wheel.ErrWheelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wheel %s: %w", wheelID, err)
	}
	return &w, nil
}

// OpenAttempt stores the new attempt id and clears winner state in one UPDATE
func (s *Store) OpenAttempt(ctx context.Context, wheelID, attemptID string) error {
	result := s.db.WithContext(ctx).
		Model(&wheel.Wheel{}).
		Where("id = ?", wheelID).
		Updates(map[string]interface{}{
			"current_attempt_id": attemptID,
			"attempt_state":      wheel.StateSpinning,
			"attempt_owner":      nil,
			"winner_entry_id":    nil,
			"winner_slot":        nil,
			"resolved_at":        nil,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to open attempt for wheel %s: %w", wheelID, result.Error)
	}
	if result.RowsAffected == 0 {
		return wheel.ErrWheelNotFound
	}
	return nil
}

// CompleteAttempt performs the conditional winner write. The guard demands
// the attempt is still current and not yet owned; zero rows affected means
// the caller lost the race (or the attempt was superseded) and must re-read.
func (s *Store) CompleteAttempt(ctx context.Context, wheelID, attemptID, entryID string, slot int, resolvedAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&wheel.Wheel{}).
		Where("id = ? AND current_attempt_id = ? AND (attempt_owner IS NULL OR attempt_owner <> ?)",
			wheelID, attemptID, attemptID).
		Updates(map[string]interface{}{
			"attempt_owner":   attemptID,
			"attempt_state":   wheel.StateIdle,
			"winner_entry_id": entryID,
			"winner_slot":     slot,
			"resolved_at":     resolvedAt,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete attempt %s: %w", attemptID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CountByStatus counts a wheel's entries with the given status
func (s *Store) CountByStatus(ctx context.Context, wheelID string, status wheel.EntryStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&wheel.Entry{}).
		Where("wheel_id = ? AND status = ?", wheelID, status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// ByOffset fetches the single entry at the drawn offset in submission order
func (s *Store) ByOffset(ctx context.Context, wheelID string, status wheel.EntryStatus, offset int64) (*wheel.Entry, error) {
	var e wheel.Entry
	err := s.db.WithContext(ctx).
		Where("wheel_id = ? AND status = ?", wheelID, status).
		Order("created_at ASC, id ASC").
		Offset(int(offset)).
		Limit(1).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wheel.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entry at offset %d: %w", offset, err)
	}
	return &e, nil
}

// First fetches the first matching entry in submission order
func (s *Store) First(ctx context.Context, wheelID string, status wheel.EntryStatus) (*wheel.Entry, error) {
	return s.ByOffset(ctx, wheelID, status, 0)
}

// ByID loads an entry by id
func (s *Store) ByID(ctx context.Context, entryID string) (*wheel.Entry, error) {
	var e wheel.Entry
	err := s.db.WithContext(ctx).First(&e, "id = ?", entryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wheel.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", entryID, err)
	}
	return &e, nil
}
