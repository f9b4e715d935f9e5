package domain

import (
	"time"

	"gorm.io/gorm"
)

// DataSource is one Elasticsearch endpoint set usable by rules.
// Params: semicolon-separated URLs, credentials, and TLS policy.
// Returns: persisted search backend configuration.
type DataSource struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name          string     `gorm:"not null;uniqueIndex" json:"name"`
	URL           string     `gorm:"not null" json:"url"`
	Username      string     `json:"username,omitempty"`
	Password      string     `gorm:"type:text" json:"-"`
	UseSSL        bool       `gorm:"default:false" json:"use_ssl"`
	SkipVerify    bool       `gorm:"default:false" json:"skip_verify"`
	CACertificate string     `gorm:"type:text" json:"-"`
	IsDefault     bool       `gorm:"default:false" json:"is_default"`
	Description   string     `json:"description,omitempty"`
	Enabled       bool       `gorm:"default:true" json:"enabled"`
	LastTestAt    *time.Time `json:"last_test_at,omitempty"`
	TestStatus    string     `gorm:"default:unknown" json:"test_status"`
	TestError     string     `gorm:"type:text" json:"test_error,omitempty"`
}

// TableName fixes the data_sources table name.
// Params: none.
// Returns: static table name.
func (DataSource) TableName() string {
	return "data_sources"
}
