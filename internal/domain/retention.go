package domain

import (
	"time"

	"gorm.io/gorm"
)

// Retention execution status values written by the cleanup worker.
const (
	RetentionStatusNever   = "never"
	RetentionStatusSuccess = "success"
	RetentionStatusFailed  = "failed"
)

// SystemConfig is one keyed JSON configuration row.
// Params: unique key and JSON value payload.
// Returns: persisted singleton configuration slot.
type SystemConfig struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Key         string `gorm:"not null;uniqueIndex" json:"key"`
	Value       string `gorm:"type:text" json:"value"`
	Description string `gorm:"type:text" json:"description,omitempty"`
}

// TableName fixes the system_configs table name.
// Params: none.
// Returns: static table name.
func (SystemConfig) TableName() string {
	return "system_configs"
}

// RetentionConfig controls the daily alert cleanup sweep.
// Params: local-time schedule, retention window, and last execution status.
// Returns: singleton retention policy stored as system config JSON.
type RetentionConfig struct {
	Enabled             bool       `json:"enabled"`
	Hour                int        `json:"hour"`
	Minute              int        `json:"minute"`
	RetentionDays       int        `json:"retention_days"`
	LastExecutionStatus string     `json:"last_execution_status,omitempty"`
	LastExecutionTime   *time.Time `json:"last_execution_time,omitempty"`
	LastExecutionResult string     `json:"last_execution_result,omitempty"`
}
