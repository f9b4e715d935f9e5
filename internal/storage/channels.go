package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"logalert/internal/domain"
)

// ChannelStore persists reusable webhook channels.
// Params: gorm handle and per-query timeout.
// Returns: channel persistence operations.
type ChannelStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewChannelStore builds a channel store.
// Params: db handle and query timeout.
// Returns: channel store.
func NewChannelStore(db *gorm.DB, timeout time.Duration) *ChannelStore {
	return &ChannelStore{db: db, timeout: timeout}
}

// Create inserts a channel.
// Params: ctx and channel to insert.
// Returns: insert error.
func (s *ChannelStore) Create(ctx context.Context, channel *domain.Channel) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.WithContext(ctx).Create(channel).Error
}

// GetByID loads one channel.
// Params: ctx and channel id.
// Returns: channel or ErrNotFound.
func (s *ChannelStore) GetByID(ctx context.Context, id uint) (*domain.Channel, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var channel domain.Channel
	err := s.db.WithContext(ctx).First(&channel, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetDefault loads the enabled default channel if one exists.
// Params: ctx.
// Returns: default channel, nil when none is marked, or query error.
func (s *ChannelStore) GetDefault(ctx context.Context) (*domain.Channel, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var channel domain.Channel
	err := s.db.WithContext(ctx).
		Where("is_default = ? AND enabled = ?", true, true).
		First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// RecordTest stamps a webhook test outcome on the channel row.
// Params: ctx, channel id, test time, and test error (nil means success).
// Returns: update error.
func (s *ChannelStore) RecordTest(ctx context.Context, id uint, at time.Time, testErr error) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	updates := map[string]any{
		"last_test_at": at,
		"test_status":  "ok",
		"test_error":   "",
	}
	if testErr != nil {
		updates["test_status"] = "failed"
		updates["test_error"] = testErr.Error()
	}
	return s.db.WithContext(ctx).
		Model(&domain.Channel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete soft-deletes a channel.
// Params: ctx and channel id.
// Returns: delete error or ErrNotFound.
func (s *ChannelStore) Delete(ctx context.Context, id uint) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result := s.db.WithContext(ctx).Delete(&domain.Channel{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
