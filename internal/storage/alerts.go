package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"logalert/internal/domain"
)

// maxReturnedLogs bounds the log sample handed back on detail reads.
const maxReturnedLogs = 10

// AlertStore persists alert evidence rows.
// Params: gorm handle and per-query timeout.
// Returns: alert persistence operations.
type AlertStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewAlertStore builds an alert store.
// Params: db handle and query timeout.
// Returns: alert store.
func NewAlertStore(db *gorm.DB, timeout time.Duration) *AlertStore {
	return &AlertStore{db: db, timeout: timeout}
}

// Create inserts one alert record.
// Params: ctx and alert to insert.
// Returns: insert error.
func (s *AlertStore) Create(ctx context.Context, alert *domain.Alert) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).Create(alert).Error
}

// GetByID loads one alert with the log sample trimmed for display.
// Params: ctx and alert id.
// Returns: alert with at most ten sample documents, or ErrNotFound.
func (s *AlertStore) GetByID(ctx context.Context, id uint) (*domain.Alert, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var alert domain.Alert
	err := s.db.WithContext(ctx).First(&alert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(alert.Logs) > maxReturnedLogs {
		alert.Logs = alert.Logs[:maxReturnedLogs]
	}
	return &alert, nil
}

// ListByRule returns recent alerts for one rule, newest first.
// Params: ctx, rule id, and result cap.
// Returns: alert page or query error.
func (s *AlertStore) ListByRule(ctx context.Context, ruleID uint, limit int) ([]domain.Alert, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	var alerts []domain.Alert
	err := s.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("created_at desc").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// CleanupOlderThan hard-deletes alerts created before the cutoff.
// Params: ctx and cutoff instant.
// Returns: number of deleted rows or delete error.
func (s *AlertStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result := s.db.WithContext(ctx).
		Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&domain.Alert{})
	return result.RowsAffected, result.Error
}
