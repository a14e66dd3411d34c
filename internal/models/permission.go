package models

import (
	"time"
)

// Permission is a single named capability (e.g. "edit_task"). The catalog is
// seeded at install time and only ever grows; permissions are never deleted.
type Permission struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null"`
	DisplayName string    `json:"display_name"`
	Category    string    `json:"category" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role groups permissions under a stable name. Priority is a display-only
// ordering used to pick a user's primary role for the dashboard; it must never
// be consulted for an authorization decision.
type Role struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"uniqueIndex;not null"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description"`
	Priority    int          `json:"priority"`
	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions;"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Builtin role names, highest display priority first.
const (
	RoleSuperAdmin   = "super_admin"
	RoleProjectAdmin = "project_admin"
	RoleQAEngineer   = "qa_engineer"
	RoleDesigner     = "designer"
	RoleDeveloper    = "developer"
	RoleClient       = "client"
	RoleGuest        = "guest"
)

// RolePermission is the join table for the many-to-many relationship.
// Auto-created by GORM but defined here for clarity.
type RolePermission struct {
	RoleID       uint `gorm:"primaryKey"`
	PermissionID uint `gorm:"primaryKey"`
}
