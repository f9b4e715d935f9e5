package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"logalert/internal/domain"
	"logalert/internal/secrets"
)

// DataSourceStore persists search backend configurations.
// Params: gorm handle, per-query timeout, and optional at-rest cipher.
// Returns: data source persistence operations.
type DataSourceStore struct {
	db      *gorm.DB
	timeout time.Duration
	cipher  *secrets.Cipher
}

// NewDataSourceStore builds a data source store.
// Params: db handle, query timeout, and optional cipher (nil disables encryption).
// Returns: data source store.
func NewDataSourceStore(db *gorm.DB, timeout time.Duration, cipher *secrets.Cipher) *DataSourceStore {
	return &DataSourceStore{db: db, timeout: timeout, cipher: cipher}
}

// Create inserts a data source, encrypting its password when a key is set.
// Params: ctx and data source to insert.
// Returns: insert error.
func (s *DataSourceStore) Create(ctx context.Context, source *domain.DataSource) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.sealPassword(source); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(source).Error
}

// Update saves a data source, encrypting its password when a key is set.
// Params: ctx and data source with id set.
// Returns: update error.
func (s *DataSourceStore) Update(ctx context.Context, source *domain.DataSource) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.sealPassword(source); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(source).Error
}

// GetByID loads one data source with its password decrypted.
// Params: ctx and data source id.
// Returns: data source or ErrNotFound.
func (s *DataSourceStore) GetByID(ctx context.Context, id uint) (*domain.DataSource, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var source domain.DataSource
	err := s.db.WithContext(ctx).First(&source, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.openPassword(&source); err != nil {
		return nil, err
	}
	return &source, nil
}

// GetDefault loads the enabled default data source if one exists.
// Params: ctx.
// Returns: default source, nil when none is marked, or query error.
func (s *DataSourceStore) GetDefault(ctx context.Context) (*domain.DataSource, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var source domain.DataSource
	err := s.db.WithContext(ctx).
		Where("is_default = ? AND enabled = ?", true, true).
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.openPassword(&source); err != nil {
		return nil, err
	}
	return &source, nil
}

// RecordTest stamps a connectivity test outcome on the source row.
// Params: ctx, source id, test time, and test error (nil means success).
// Returns: update error.
func (s *DataSourceStore) RecordTest(ctx context.Context, id uint, at time.Time, testErr error) error {
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
		Model(&domain.DataSource{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete soft-deletes a data source.
// Params: ctx and source id.
// Returns: delete error or ErrNotFound.
func (s *DataSourceStore) Delete(ctx context.Context, id uint) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result := s.db.WithContext(ctx).Delete(&domain.DataSource{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DataSourceStore) sealPassword(source *domain.DataSource) error {
	if s.cipher == nil {
		return nil
	}
	sealed, err := s.cipher.MaybeEncrypt(source.Password)
	if err != nil {
		return fmt.Errorf("encrypt data source password: %w", err)
	}
	source.Password = sealed
	return nil
}

func (s *DataSourceStore) openPassword(source *domain.DataSource) error {
	if s.cipher == nil {
		return nil
	}
	plain, err := s.cipher.MaybeDecrypt(source.Password)
	if err != nil {
		return fmt.Errorf("decrypt data source password: %w", err)
	}
	source.Password = plain
	return nil
}
