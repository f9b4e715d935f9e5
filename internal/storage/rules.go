package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"logalert/internal/domain"
)

// ErrNotFound reports a missing row for lookups by id.
var ErrNotFound = errors.New("record not found")

// RuleStore reads and mutates alerting rules.
// Params: gorm handle and per-query timeout.
// Returns: rule persistence operations.
type RuleStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewRuleStore builds a rule store.
// Params: db handle and query timeout.
// Returns: rule store.
func NewRuleStore(db *gorm.DB, timeout time.Duration) *RuleStore {
	return &RuleStore{db: db, timeout: timeout}
}

// Create inserts a rule.
// Params: ctx and rule to insert.
// Returns: insert error.
func (s *RuleStore) Create(ctx context.Context, rule *domain.Rule) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).Create(rule).Error
}

// GetByID loads one rule with its data source and channel.
// Params: ctx and rule id.
// Returns: rule or ErrNotFound.
func (s *RuleStore) GetByID(ctx context.Context, id uint) (*domain.Rule, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rule domain.Rule
	err := s.db.WithContext(ctx).
		Preload("DataSource").
		Preload("Channel").
		First(&rule, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// GetEnabled loads enabled rules in batches ordered by id.
// Params: ctx and batch size cap.
// Returns: enabled rules with preloaded relations.
func (s *RuleStore) GetEnabled(ctx context.Context, batchSize int) ([]domain.Rule, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	var (
		out    []domain.Rule
		lastID uint
	)
	for {
		batchCtx, cancel := withTimeout(ctx, s.timeout)
		var batch []domain.Rule
		err := s.db.WithContext(batchCtx).
			Preload("DataSource").
			Preload("Channel").
			Where("enabled = ?", true).
			Where("id > ?", lastID).
			Order("id asc").
			Limit(batchSize).
			Find(&batch).Error
		cancel()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < batchSize {
			return out, nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

// Update saves rule fields.
// Params: ctx and rule with id set.
// Returns: update error.
func (s *RuleStore) Update(ctx context.Context, rule *domain.Rule) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).Save(rule).Error
}

// Delete removes a rule and its alerts in one transaction.
// Params: ctx and rule id.
// Returns: delete error.
func (s *RuleStore) Delete(ctx context.Context, id uint) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("rule_id = ?", id).Delete(&domain.Alert{}).Error; err != nil {
			return fmt.Errorf("delete rule alerts: %w", err)
		}
		result := tx.Delete(&domain.Rule{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpdateLastRunTime stamps the gate timestamp before evaluation starts.
// Params: ctx, rule id, and tick start time.
// Returns: update error.
func (s *RuleStore) UpdateLastRunTime(ctx context.Context, id uint, at time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).
		Model(&domain.Rule{}).
		Where("id = ?", id).
		Update("last_run_time", at).Error
}

// IncrementRunCount adds one to the rule's execution counter atomically.
// Params: ctx and rule id.
// Returns: update error.
func (s *RuleStore) IncrementRunCount(ctx context.Context, id uint) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).
		Model(&domain.Rule{}).
		Where("id = ?", id).
		Update("run_count", gorm.Expr("run_count + ?", 1)).Error
}

// IncrementAlertCount adds one to the rule's sent-alert counter atomically.
// Params: ctx and rule id.
// Returns: update error.
func (s *RuleStore) IncrementAlertCount(ctx context.Context, id uint) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).
		Model(&domain.Rule{}).
		Where("id = ?", id).
		Update("alert_count", gorm.Expr("alert_count + ?", 1)).Error
}
