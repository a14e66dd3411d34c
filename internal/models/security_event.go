package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Security event types emitted by the authentication guard.
const (
	EventFailedLogin    = "FAILED_LOGIN"
	EventAccountLocked  = "ACCOUNT_LOCKED"
	EventLockedAttempt  = "LOCKED_ACCOUNT_ATTEMPT"
	EventMFAFailed      = "MFA_FAILED"
	EventRateLimited    = "LOGIN_RATE_LIMITED"
	EventUnknownAccount = "UNKNOWN_ACCOUNT_LOGIN"
)

// SecurityEvent is an anomaly record produced by the authentication guard.
// Unlike audit entries these carry a workflow: an administrator reviews and
// resolves them, so the record is mutable in exactly that one way.
type SecurityEvent struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	UUID        string     `json:"uuid" gorm:"uniqueIndex"`
	EventType   string     `json:"event_type" gorm:"index;not null"`
	Severity    string     `json:"severity" gorm:"index;default:'low'"`
	Description string     `json:"description" gorm:"type:text"`
	IPAddress   string     `json:"ip_address" gorm:"index"`
	UserAgent   string     `json:"user_agent"`
	UserID      *uint      `json:"user_id,omitempty" gorm:"index"`
	Metadata    JSONMap    `json:"metadata,omitempty" gorm:"type:text"`
	Resolved    bool       `json:"resolved" gorm:"default:false;index"`
	ResolvedBy  *uint      `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
}

// BeforeCreate generates a UUID for new events.
func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == "" {
		e.UUID = uuid.New().String()
	}
	return nil
}
