package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"logalert/internal/domain"
)

// retentionKey is the system_configs row holding the cleanup policy.
const retentionKey = "alert_retention"

// RetentionStore reads and writes the alert retention policy.
// Params: gorm handle and per-query timeout.
// Returns: retention policy operations.
type RetentionStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewRetentionStore builds a retention store.
// Params: db handle and query timeout.
// Returns: retention store.
func NewRetentionStore(db *gorm.DB, timeout time.Duration) *RetentionStore {
	return &RetentionStore{db: db, timeout: timeout}
}

// Get loads the retention policy, returning defaults when no row exists.
// Params: ctx.
// Returns: policy (03:00 daily, 90 days, enabled) or query error.
func (s *RetentionStore) Get(ctx context.Context) (domain.RetentionConfig, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	cfg := domain.RetentionConfig{
		Enabled:             true,
		Hour:                3,
		Minute:              0,
		RetentionDays:       90,
		LastExecutionStatus: domain.RetentionStatusNever,
	}

	var row domain.SystemConfig
	err := s.db.WithContext(ctx).Where("key = ?", retentionKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := json.Unmarshal([]byte(row.Value), &cfg); err != nil {
		return cfg, fmt.Errorf("parse retention config: %w", err)
	}
	return cfg, nil
}

// UpdatePolicy writes schedule and window fields, preserving execution history.
// Params: ctx and new policy fields (Enabled/Hour/Minute/RetentionDays).
// Returns: saved policy or write error.
func (s *RetentionStore) UpdatePolicy(ctx context.Context, update domain.RetentionConfig) (domain.RetentionConfig, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return current, err
	}

	current.Enabled = update.Enabled
	current.Hour = update.Hour
	current.Minute = update.Minute
	current.RetentionDays = update.RetentionDays

	if err := s.save(ctx, current); err != nil {
		return current, err
	}
	return current, nil
}

// RecordExecution stamps the outcome of one cleanup sweep.
// Params: ctx, execution time, status constant, and human-readable result.
// Returns: write error.
func (s *RetentionStore) RecordExecution(ctx context.Context, at time.Time, status, result string) error {
	current, err := s.Get(ctx)
	if err != nil {
		return err
	}

	current.LastExecutionStatus = status
	current.LastExecutionTime = &at
	current.LastExecutionResult = result
	return s.save(ctx, current)
}

// save upserts the retention row keyed by retentionKey.
// Params: ctx and full policy value.
// Returns: write error.
func (s *RetentionStore) save(ctx context.Context, cfg domain.RetentionConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode retention config: %w", err)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := domain.SystemConfig{
		Key:         retentionKey,
		Value:       string(raw),
		Description: "alert retention cleanup policy",
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
}
