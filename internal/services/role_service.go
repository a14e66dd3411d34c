package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/models"
)

var (
	ErrRoleNotFound        = errors.New("role not found")
	ErrDuplicateAssignment = errors.New("active assignment already exists")
	ErrAssignmentNotFound  = errors.New("assignment not found")
)

// RoleService owns the role-assignment lifecycle. Every mutation invalidates
// the resolver cache for the affected user and writes an audit entry.
type RoleService struct {
	db    *gorm.DB
	perms *PermissionService
	audit *AuditService
}

// NewRoleService returns a RoleService using the provided DB, resolver and
// audit trail.
func NewRoleService(db *gorm.DB, perms *PermissionService, audit *AuditService) *RoleService {
	return &RoleService{db: db, perms: perms, audit: audit}
}

// exactScope matches one project scope with explicit nil handling, rather
// than trusting SQL NULL equality with bound parameters.
func exactScope(q *gorm.DB, projectID *uint) *gorm.DB {
	if projectID == nil {
		return q.Where("project_id IS NULL")
	}
	return q.Where("project_id = ?", *projectID)
}

// assignTx inserts an assignment inside the given transaction after the
// duplicate-active check. Callers invalidate the cache after commit.
func (s *RoleService) assignTx(tx *gorm.DB, userID, roleID uint, projectID *uint, assignedBy uint, expiresAt *time.Time) (*models.RoleAssignment, error) {
	var role models.Role
	if err := tx.First(&role, roleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}

	var count int64
	q := exactScope(tx.Model(&models.RoleAssignment{}).
		Where("user_id = ? AND role_id = ? AND is_active = ?", userID, roleID, true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()), projectID)
	if err := q.Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateAssignment
	}

	assignment := &models.RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		ProjectID:  projectID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}
	if err := tx.Create(assignment).Error; err != nil {
		return nil, err
	}
	assignment.Role = role
	return assignment, nil
}

// AssignRole grants a role to a user, globally when projectID is nil.
// Rejects with ErrDuplicateAssignment when an active, non-expired assignment
// already exists for the same (user, role, scope) tuple.
func (s *RoleService) AssignRole(userID, roleID uint, projectID *uint, assignedBy uint, expiresAt *time.Time) (*models.RoleAssignment, error) {
	assignment, err := s.assignTx(s.db, userID, roleID, projectID, assignedBy, expiresAt)
	if err != nil {
		return nil, err
	}

	s.perms.InvalidateUser(userID)

	actor := assignedBy
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &actor,
		ActionType:  models.ActionRoleAssigned,
		EntityType:  "role_assignment",
		EntityID:    &assignment.ID,
		Description: fmt.Sprintf("assigned role %q to user %d", assignment.Role.Name, userID),
		NewValues: models.JSONMap{
			"user_id": userID,
			"role":    assignment.Role.Name,
		},
		Severity:  models.SeverityMedium,
		Category:  models.CategoryAuthorization,
		ProjectID: projectID,
	})
	return assignment, nil
}

// RemoveRole soft-deactivates the matching active assignment(s). The rows
// stay behind for history; only the flag flips.
func (s *RoleService) RemoveRole(userID, roleID uint, projectID *uint, removedBy uint) error {
	res := exactScope(s.db.Model(&models.RoleAssignment{}).
		Where("user_id = ? AND role_id = ? AND is_active = ?", userID, roleID, true), projectID).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAssignmentNotFound
	}

	s.perms.InvalidateUser(userID)

	actor := removedBy
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &actor,
		ActionType:  models.ActionRoleRemoved,
		EntityType:  "role_assignment",
		Description: fmt.Sprintf("removed role %d from user %d", roleID, userID),
		OldValues: models.JSONMap{
			"user_id": userID,
			"role_id": roleID,
		},
		Severity:  models.SeverityMedium,
		Category:  models.CategoryAuthorization,
		ProjectID: projectID,
	})
	return nil
}

// ListAssignments returns a user's assignments, active first, newest first.
func (s *RoleService) ListAssignments(userID uint) ([]models.RoleAssignment, error) {
	var assignments []models.RoleAssignment
	err := s.db.Preload("Role").
		Where("user_id = ?", userID).
		Order("is_active DESC, assigned_at DESC").
		Find(&assignments).Error
	return assignments, err
}

// ListProjectMembers returns the active assignments scoped to a project.
func (s *RoleService) ListProjectMembers(projectID uint) ([]models.RoleAssignment, error) {
	var assignments []models.RoleAssignment
	err := s.db.Preload("Role").
		Where("project_id = ? AND is_active = ?", projectID, true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Order("assigned_at ASC").
		Find(&assignments).Error
	return assignments, err
}

// DeactivateExpired flips the active flag on lapsed assignments and clears
// the cache for every affected user. The resolver already excludes expired
// rows, so this sweep only keeps the stored flag honest.
func (s *RoleService) DeactivateExpired() (int64, error) {
	var userIDs []uint
	err := s.db.Model(&models.RoleAssignment{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, time.Now()).
		Distinct().
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return 0, err
	}
	if len(userIDs) == 0 {
		return 0, nil
	}

	res := s.db.Model(&models.RoleAssignment{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, time.Now()).
		Update("is_active", false)
	if res.Error != nil {
		return 0, res.Error
	}

	for _, uid := range userIDs {
		s.perms.InvalidateUser(uid)
	}
	logger.WithComponent("roles").WithField("count", res.RowsAffected).Info("deactivated expired assignments")
	return res.RowsAffected, nil
}
