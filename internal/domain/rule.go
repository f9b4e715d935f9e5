package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Condition operators accepted at query-build time.
const (
	OpEqual          = "="
	OpEqualAlt       = "=="
	OpEquals         = "equals"
	OpNotEqual       = "!="
	OpNotEquals      = "not_equals"
	OpGreater        = ">"
	OpGreaterAlt     = "gt"
	OpGreaterEqual   = ">="
	OpGreaterEqualAlt = "gte"
	OpLess           = "<"
	OpLessAlt        = "lt"
	OpLessEqual      = "<="
	OpLessEqualAlt   = "lte"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpExists         = "exists"
)

// QueryCondition is one predicate of a rule query.
// Params: document field path, operator, typed value, and and/or logic.
// Returns: leaf clause input for the query builder.
type QueryCondition struct {
	Field    string `json:"field"`
	Type     string `json:"type,omitempty"`
	Value    any    `json:"value"`
	Operator string `json:"operator,omitempty"`
	Op       string `json:"op,omitempty"`
	Logic    string `json:"logic,omitempty"`
}

// EffectiveOperator resolves the operator accepting both spellings.
// Params: none.
// Returns: "operator" field when set, otherwise the legacy "op" field.
func (c QueryCondition) EffectiveOperator() string {
	if c.Operator != "" {
		return c.Operator
	}
	return c.Op
}

// EffectiveLogic resolves condition grouping logic.
// Params: none.
// Returns: "and" when set explicitly, otherwise the "or" default.
func (c QueryCondition) EffectiveLogic() string {
	if c.Logic == "and" {
		return "and"
	}
	return "or"
}

// QueryConditions is a rule's ordered condition list stored as JSON text.
// Params: condition slice.
// Returns: sql-serializable condition list.
type QueryConditions []QueryCondition

// Value serializes conditions for database storage.
// Params: none.
// Returns: JSON bytes or marshal error.
func (qc QueryConditions) Value() (driver.Value, error) {
	return json.Marshal(qc)
}

// Scan deserializes conditions from database storage.
// Params: raw column value ([]byte or string).
// Returns: unmarshal error for malformed payloads.
func (qc *QueryConditions) Scan(value any) error {
	if value == nil {
		*qc = nil
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
		*qc = nil
		return nil
	}
	return json.Unmarshal(raw, qc)
}

// Rule is one user-defined alerting rule.
// Params: index pattern, condition list, interval, and notification wiring.
// Returns: persisted evaluation unit with execution statistics.
type Rule struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name         string          `gorm:"not null;uniqueIndex" json:"name"`
	IndexPattern string          `gorm:"not null" json:"index_pattern"`
	Conditions   QueryConditions `gorm:"type:text" json:"conditions"`
	Enabled      bool            `gorm:"default:true" json:"enabled"`
	Interval     int             `gorm:"default:60" json:"interval"`
	DataSourceID *uint           `gorm:"index" json:"data_source_id,omitempty"`
	DataSource   *DataSource     `gorm:"foreignKey:DataSourceID" json:"data_source,omitempty"`
	WebhookURL   string          `gorm:"type:text" json:"webhook_url"`
	ChannelID    *uint           `gorm:"index" json:"channel_id,omitempty"`
	Channel      *Channel        `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
	Description  string          `json:"description,omitempty"`

	// Statistics, mutated by the evaluator only.
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	RunCount    int64      `gorm:"default:0" json:"run_count"`
	AlertCount  int64      `gorm:"default:0" json:"alert_count"`
}

// TableName fixes the rules table name.
// Params: none.
// Returns: static table name.
func (Rule) TableName() string {
	return "rules"
}

// EffectiveInterval returns the tick interval with the enforced minimum.
// Params: none.
// Returns: configured interval clamped to at least 10 seconds.
func (r Rule) EffectiveInterval() time.Duration {
	interval := time.Duration(r.Interval) * time.Second
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}
