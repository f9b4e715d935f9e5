package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// AlertStatus is notification delivery state of one alert record.
// Params: sent/failed constants.
// Returns: persisted delivery outcome.
type AlertStatus string

const (
	// AlertStatusSent indicates the webhook accepted the notification.
	AlertStatusSent AlertStatus = "sent"
	// AlertStatusFailed indicates delivery failed after all retries.
	AlertStatusFailed AlertStatus = "failed"
)

// MaxStoredLogs caps the log sample persisted with one alert.
const MaxStoredLogs = 50

// LogData is the bounded sample of matched log documents stored as JSON text.
// Params: raw document maps including _index and _id.
// Returns: sql-serializable log sample.
type LogData []map[string]any

// Value serializes the log sample for database storage.
// Params: none.
// Returns: JSON bytes or marshal error.
func (ld LogData) Value() (driver.Value, error) {
	return json.Marshal(ld)
}

// Scan deserializes the log sample from database storage.
// Params: raw column value ([]byte or string).
// Returns: unmarshal error for malformed payloads.
func (ld *LogData) Scan(value any) error {
	if value == nil {
		*ld = nil
		return nil
	}

	var raw []byte
	switch typed := value.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return nil
	}

	if len(raw) == 0 || string(raw) == "null" {
		*ld = nil
		return nil
	}
	return json.Unmarshal(raw, ld)
}

// Alert is evidence of one rule tick that matched log documents.
// Params: parent rule, matched index, counts, sample, and delivery status.
// Returns: persisted alert record.
type Alert struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	RuleID    uint        `gorm:"not null;index" json:"rule_id"`
	Rule      Rule        `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"rule,omitempty"`
	IndexName string      `gorm:"not null" json:"index_name"`
	LogCount  int         `json:"log_count"`
	Logs      LogData     `gorm:"type:text" json:"logs"`
	TimeRange string      `json:"time_range"`
	Status    AlertStatus `gorm:"default:'sent'" json:"status"`
	ErrorMsg  string      `json:"error_msg,omitempty"`
}

// TableName fixes the alerts table name.
// Params: none.
// Returns: static table name.
func (Alert) TableName() string {
	return "alerts"
}

// FormatTimeRange renders the human time-range string stored on alerts.
// Params: window bounds in server local time.
// Returns: "YYYY-MM-DD HH:MM:SS ~ YYYY-MM-DD HH:MM:SS".
func FormatTimeRange(from, to time.Time) string {
	const layout = "2006-01-02 15:04:05"
	return from.Format(layout) + " ~ " + to.Format(layout)
}
