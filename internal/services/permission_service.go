package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/metrics"
	"github.com/trellis-pm/trellis/backend/internal/models"
)

// PermissionService is the single authorization gate. Every caller asks it
// "may user U do A on project P"; no call site builds its own query. Store
// failures deny (fail closed) and surface as operational errors only.
type PermissionService struct {
	db    *gorm.DB
	cache *ResolutionCache
}

// NewPermissionService returns a resolver backed by db. A nil cache disables
// memoization without changing any result.
func NewPermissionService(db *gorm.DB, cache *ResolutionCache) *PermissionService {
	return &PermissionService{db: db, cache: cache}
}

// activeAssignments narrows to assignments that currently grant anything:
// active flag set and not past expiry, even when the flag is stale.
func (s *PermissionService) activeAssignments(userID uint, now time.Time) *gorm.DB {
	return s.db.Model(&models.RoleAssignment{}).
		Where("role_assignments.user_id = ? AND role_assignments.is_active = ?", userID, true).
		Where("role_assignments.expires_at IS NULL OR role_assignments.expires_at > ?", now)
}

// scoped applies the scope-containment rule: a global grant satisfies any
// project-scoped check, but a project-scoped grant never satisfies a global
// (unscoped) check, and never a check for a different project.
func scoped(q *gorm.DB, projectID *uint) *gorm.DB {
	if projectID == nil {
		return q.Where("role_assignments.project_id IS NULL")
	}
	return q.Where("role_assignments.project_id IS NULL OR role_assignments.project_id = ?", *projectID)
}

// HasPermission reports whether the user holds the named permission, via any
// active, non-expired role assignment visible in the given scope.
func (s *PermissionService) HasPermission(userID uint, permission string, projectID *uint) bool {
	if cached, ok := s.cache.GetDecision(userID, permission, projectID); ok {
		if cached {
			metrics.IncPermissionAllowed()
		} else {
			metrics.IncPermissionDenied()
		}
		return cached
	}

	var count int64
	q := scoped(s.activeAssignments(userID, time.Now()), projectID).
		Joins("JOIN role_permissions ON role_permissions.role_id = role_assignments.role_id").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Where("permissions.name = ?", permission)
	if err := q.Count(&count).Error; err != nil {
		// Fail closed: an unavailable store denies, it never allows.
		logger.WithComponent("permissions").WithError(err).
			WithField("user_id", userID).Error("permission check failed, denying")
		metrics.IncPermissionDenied()
		return false
	}

	allowed := count > 0
	s.cache.PutDecision(userID, permission, projectID, allowed)
	if allowed {
		metrics.IncPermissionAllowed()
	} else {
		metrics.IncPermissionDenied()
	}
	return allowed
}

// HasAnyPermission reports whether the user holds at least one of the named
// permissions in the given scope.
func (s *PermissionService) HasAnyPermission(userID uint, permissions []string, projectID *uint) bool {
	for _, p := range permissions {
		if s.HasPermission(userID, p, projectID) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the user holds every named permission in
// the given scope.
func (s *PermissionService) HasAllPermissions(userID uint, permissions []string, projectID *uint) bool {
	for _, p := range permissions {
		if !s.HasPermission(userID, p, projectID) {
			return false
		}
	}
	return true
}

// GetUserPermissions returns the deduplicated permission names the user holds
// in the given scope, for display.
func (s *PermissionService) GetUserPermissions(userID uint, projectID *uint) ([]string, error) {
	if cached, ok := s.cache.GetSet(userID, projectID); ok {
		return cached, nil
	}

	var names []string
	q := scoped(s.activeAssignments(userID, time.Now()), projectID).
		Joins("JOIN role_permissions ON role_permissions.role_id = role_assignments.role_id").
		Joins("JOIN permissions ON permissions.id = role_permissions.permission_id").
		Distinct().
		Order("permissions.name")
	if err := q.Pluck("permissions.name", &names).Error; err != nil {
		return nil, err
	}
	s.cache.PutSet(userID, projectID, names)
	return names, nil
}

// GetUserRoles returns the deduplicated roles the user currently holds in the
// given scope.
func (s *PermissionService) GetUserRoles(userID uint, projectID *uint) ([]models.Role, error) {
	var roles []models.Role
	q := scoped(s.activeAssignments(userID, time.Now()), projectID).
		Joins("JOIN roles ON roles.id = role_assignments.role_id").
		Select("roles.*").
		Distinct()
	if err := q.Scan(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// GetPrimaryRole picks the user's highest-priority active role across all
// scopes, defaulting to the guest sentinel when the user has none. This
// selection only drives default dashboard content; it is never an
// authorization decision.
func (s *PermissionService) GetPrimaryRole(userID uint) (*models.Role, error) {
	var role models.Role
	err := s.activeAssignments(userID, time.Now()).
		Joins("JOIN roles ON roles.id = role_assignments.role_id").
		Select("roles.*").
		Order("roles.priority DESC").
		Limit(1).
		Scan(&role).Error
	if err != nil {
		return nil, err
	}
	if role.ID == 0 {
		var guest models.Role
		if err := s.db.Where("name = ?", models.RoleGuest).First(&guest).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				// Catalog not seeded yet; synthesize the sentinel.
				return &models.Role{Name: models.RoleGuest, DisplayName: "Guest", Priority: 10}, nil
			}
			return nil, err
		}
		return &guest, nil
	}
	return &role, nil
}

// InvalidateUser clears the user's cached resolutions. Exposed for the
// assignment workflow and the expiry sweep.
func (s *PermissionService) InvalidateUser(userID uint) {
	s.cache.InvalidateUser(userID)
}
