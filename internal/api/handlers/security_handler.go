package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/trellis-pm/trellis/backend/internal/api/middleware"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

type SecurityHandler struct {
	securityService *services.SecurityService
}

func NewSecurityHandler(securityService *services.SecurityService) *SecurityHandler {
	return &SecurityHandler{securityService: securityService}
}

func (h *SecurityHandler) ListEvents(c *gin.Context) {
	filters := services.SecurityEventFilters{
		EventType:  c.Query("event_type"),
		Severity:   c.Query("severity"),
		UserID:     parseUintQuery(c, "user_id"),
		Unresolved: c.Query("unresolved") == "true",
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.securityService.ListEvents(filters, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list security events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *SecurityHandler) ResolveEvent(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	eventID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := h.securityService.ResolveEvent(uint(eventID), userID); err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve event"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "event resolved"})
}
