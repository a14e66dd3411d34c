package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleAssignment links a user to a role, optionally scoped to a project.
// A nil ProjectID is a global grant. Assignments are soft-deactivated on
// revocation, never hard-deleted, so the grant history stays queryable.
type RoleAssignment struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	UUID       string     `json:"uuid" gorm:"uniqueIndex"`
	UserID     uint       `json:"user_id" gorm:"index;not null"`
	RoleID     uint       `json:"role_id" gorm:"index;not null"`
	Role       Role       `json:"role,omitempty"`
	ProjectID  *uint      `json:"project_id,omitempty" gorm:"index"`
	AssignedBy uint       `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active" gorm:"default:true"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BeforeCreate generates a UUID and stamps AssignedAt for new assignments.
func (a *RoleAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	return nil
}

// Expired reports whether the assignment has lapsed. The resolver must treat
// an expired assignment as inactive even when IsActive was never flipped.
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// SameScope compares project scopes with explicit nil handling. Scope equality
// is decided here, in Go, rather than through SQL NULL comparison semantics.
func (a *RoleAssignment) SameScope(projectID *uint) bool {
	if a.ProjectID == nil && projectID == nil {
		return true
	}
	if a.ProjectID == nil || projectID == nil {
		return false
	}
	return *a.ProjectID == *projectID
}
