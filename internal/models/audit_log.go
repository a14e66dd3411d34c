package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit severities, in ascending order of weight.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Audit categories.
const (
	CategoryAuthentication = "authentication"
	CategoryAuthorization  = "authorization"
	CategoryDataChange     = "data_change"
	CategorySecurity       = "security"
	CategorySystem         = "system"
)

// Common action types. Callers may log additional domain-specific actions;
// these cover the core's own operations.
const (
	ActionLogin            = "LOGIN"
	ActionLogout           = "LOGOUT"
	ActionRoleAssigned     = "ROLE_ASSIGNED"
	ActionRoleRemoved      = "ROLE_REMOVED"
	ActionInvitationSent   = "INVITATION_SENT"
	ActionInvitationUsed   = "INVITATION_ACCEPTED"
	ActionAuditExport      = "AUDIT_EXPORT"
	ActionRetentionCleanup = "AUDIT_RETENTION_CLEANUP"
)

// JSONMap stores structured snapshots (old/new values, metadata) as a JSON
// text column so SQLite and Postgres both handle it without a native type.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported JSONMap source type %T", value)
	}
}

// AuditLogEntry is an immutable record of a sensitive action. Entries are
// never updated, and only the retention cleanup job may delete them (and it
// never touches high or critical entries).
type AuditLogEntry struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UUID        string    `json:"uuid" gorm:"uniqueIndex"`
	UserID      *uint     `json:"user_id,omitempty" gorm:"index"` // nil for system actions
	ActionType  string    `json:"action_type" gorm:"index;not null"`
	EntityType  string    `json:"entity_type,omitempty" gorm:"index"`
	EntityID    *uint     `json:"entity_id,omitempty" gorm:"index"`
	Description string    `json:"description" gorm:"type:text"`
	OldValues   JSONMap   `json:"old_values,omitempty" gorm:"type:text"`
	NewValues   JSONMap   `json:"new_values,omitempty" gorm:"type:text"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	Severity    string    `json:"severity" gorm:"index;default:'low'"`
	Category    string    `json:"category" gorm:"index"`
	ProjectID   *uint     `json:"project_id,omitempty" gorm:"index"`
	Metadata    JSONMap   `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// BeforeCreate generates a UUID for new entries.
func (e *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == "" {
		e.UUID = uuid.New().String()
	}
	return nil
}
