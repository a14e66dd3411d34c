package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/api/middleware"
	"github.com/trellis-pm/trellis/backend/internal/models"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

type RoleHandler struct {
	db          *gorm.DB
	roleService *services.RoleService
	permService *services.PermissionService
}

func NewRoleHandler(db *gorm.DB, roleService *services.RoleService, permService *services.PermissionService) *RoleHandler {
	return &RoleHandler{db: db, roleService: roleService, permService: permService}
}

// canManage checks the manage-members permission in the target scope. A nil
// projectID (global assignment) requires the global manage-users permission.
func (h *RoleHandler) canManage(userID uint, projectID *uint) bool {
	if projectID == nil {
		return h.permService.HasPermission(userID, models.PermManageUsers, nil)
	}
	return h.permService.HasPermission(userID, models.PermManageMembers, projectID)
}

func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := services.ListRoles(h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list roles"})
		return
	}
	c.JSON(http.StatusOK, roles)
}

func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := services.ListPermissions(h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list permissions"})
		return
	}
	c.JSON(http.StatusOK, perms)
}

type AssignRoleRequest struct {
	UserID    uint       `json:"user_id" binding:"required"`
	RoleID    uint       `json:"role_id" binding:"required"`
	ProjectID *uint      `json:"project_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *RoleHandler) AssignRole(c *gin.Context) {
	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if !h.canManage(actorID, req.ProjectID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	assignment, err := h.roleService.AssignRole(req.UserID, req.RoleID, req.ProjectID, actorID, req.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateAssignment):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrRoleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign role"})
		}
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

type RemoveRoleRequest struct {
	UserID    uint  `json:"user_id" binding:"required"`
	RoleID    uint  `json:"role_id" binding:"required"`
	ProjectID *uint `json:"project_id"`
}

func (h *RoleHandler) RemoveRole(c *gin.Context) {
	var req RemoveRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if !h.canManage(actorID, req.ProjectID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	if err := h.roleService.RemoveRole(req.UserID, req.RoleID, req.ProjectID, actorID); err != nil {
		if errors.Is(err, services.ErrAssignmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove role"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "role removed"})
}

func (h *RoleHandler) ListProjectMembers(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	pid := uint(projectID)

	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if !h.permService.HasPermission(actorID, models.PermViewProject, &pid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	members, err := h.roleService.ListProjectMembers(pid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list members"})
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *RoleHandler) ListUserAssignments(c *gin.Context) {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	// Users may view their own grants; anyone else needs manage_users.
	if uint(targetID) != actorID && !h.permService.HasPermission(actorID, models.PermManageUsers, nil) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	assignments, err := h.roleService.ListAssignments(uint(targetID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assignments"})
		return
	}
	c.JSON(http.StatusOK, assignments)
}
