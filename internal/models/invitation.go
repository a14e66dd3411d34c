package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Invitation statuses.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

// Invitation is a time-boxed offer of a project role, delivered by email and
// redeemed by token. At most one pending invitation may exist per
// (project, email) pair; the token is single-use.
type Invitation struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	UUID       string     `json:"uuid" gorm:"uniqueIndex"`
	ProjectID  uint       `json:"project_id" gorm:"index;not null"`
	InvitedBy  uint       `json:"invited_by"`
	Email      string     `json:"email" gorm:"index;not null"`
	RoleID     uint       `json:"role_id" gorm:"not null"`
	Token      string     `json:"-" gorm:"uniqueIndex;not null"`
	Message    string     `json:"message"`
	Status     string     `json:"status" gorm:"default:'pending';index"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedBy *uint      `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BeforeCreate generates a UUID for new invitations.
func (i *Invitation) BeforeCreate(tx *gorm.DB) error {
	if i.UUID == "" {
		i.UUID = uuid.New().String()
	}
	return nil
}

// Lapsed reports whether the invitation's validity window has passed.
func (i *Invitation) Lapsed(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}
