package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/trellis-pm/trellis/backend/internal/api/middleware"
	"github.com/trellis-pm/trellis/backend/internal/models"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

type InvitationHandler struct {
	invitationService *services.InvitationService
	permService       *services.PermissionService
}

func NewInvitationHandler(invitationService *services.InvitationService, permService *services.PermissionService) *InvitationHandler {
	return &InvitationHandler{invitationService: invitationService, permService: permService}
}

type SendInvitationRequest struct {
	ProjectID      uint   `json:"project_id" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	RoleID         uint   `json:"role_id" binding:"required"`
	Message        string `json:"message"`
	ExpirationDays int    `json:"expiration_days"`
}

func (h *InvitationHandler) Send(c *gin.Context) {
	var req SendInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if !h.permService.HasPermission(actorID, models.PermManageMembers, &req.ProjectID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	invitation, err := h.invitationService.SendInvitation(
		req.ProjectID, req.Email, req.RoleID, actorID, req.Message, req.ExpirationDays)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyMember), errors.Is(err, services.ErrInvitationPending):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrProjectNotFound), errors.Is(err, services.ErrRoleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send invitation"})
		}
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

type AcceptInvitationRequest struct {
	Token string `json:"token" binding:"required"`
}

// Accept redeems an invitation token. Unauthenticated holders of a valid
// token get an auth-required response with just enough metadata to drive a
// post-login redirect.
func (h *InvitationHandler) Accept(c *gin.Context) {
	var req AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var userID *uint
	if id, ok := middleware.CurrentUserID(c); ok {
		userID = &id
	}

	result, err := h.invitationService.AcceptInvitation(req.Token, userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvitationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAlreadyProcessed),
			errors.Is(err, services.ErrDuplicateAssignment):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrInvitationExpired):
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrEmailMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept invitation"})
		}
		return
	}

	if result.AuthRequired {
		c.JSON(http.StatusUnauthorized, gin.H{
			"auth_required": true,
			"invitation":    result.Preview,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *InvitationHandler) Cancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invitation id"})
		return
	}

	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	invitation, err := h.invitationService.GetInvitation(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrInvitationNotFound.Error()})
		return
	}
	if !h.permService.HasPermission(actorID, models.PermManageMembers, &invitation.ProjectID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	if err := h.invitationService.CancelInvitation(uint(id), actorID); err != nil {
		switch {
		case errors.Is(err, services.ErrInvitationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAlreadyProcessed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel invitation"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invitation cancelled"})
}

func (h *InvitationHandler) Resend(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invitation id"})
		return
	}

	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	invitation, err := h.invitationService.GetInvitation(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrInvitationNotFound.Error()})
		return
	}
	if !h.permService.HasPermission(actorID, models.PermManageMembers, &invitation.ProjectID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	if err := h.invitationService.ResendInvitation(uint(id), 0); err != nil {
		switch {
		case errors.Is(err, services.ErrInvitationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAlreadyProcessed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resend invitation"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invitation resent"})
}

func (h *InvitationHandler) ListPending(c *gin.Context) {
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
	if !h.permService.HasPermission(actorID, models.PermManageMembers, &pid) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	invitations, err := h.invitationService.ListPending(pid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invitations"})
		return
	}
	c.JSON(http.StatusOK, invitations)
}
