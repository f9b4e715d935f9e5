package domain

import (
	"time"

	"gorm.io/gorm"
)

// Channel is one reusable webhook notification target.
// Params: webhook URL and enabled flag.
// Returns: persisted notification channel configuration.
type Channel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string     `gorm:"not null;uniqueIndex" json:"name"`
	WebhookURL  string     `gorm:"not null;type:text" json:"webhook_url"`
	IsDefault   bool       `gorm:"default:false" json:"is_default"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `gorm:"default:true" json:"enabled"`
	LastTestAt  *time.Time `json:"last_test_at,omitempty"`
	TestStatus  string     `gorm:"default:unknown" json:"test_status"`
	TestError   string     `gorm:"type:text" json:"test_error,omitempty"`
}

// TableName fixes the notify_channels table name.
// Params: none.
// Returns: static table name.
func (Channel) TableName() string {
	return "notify_channels"
}
