package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trellis-pm/trellis/backend/internal/api/middleware"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func parseUintQuery(c *gin.Context, name string) *uint {
	if raw := c.Query(name); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			u := uint(v)
			return &u
		}
	}
	return nil
}

func parseTimeQuery(c *gin.Context, name string) *time.Time {
	if raw := c.Query(name); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return &t
		}
	}
	return nil
}

func filtersFromQuery(c *gin.Context) services.AuditFilters {
	return services.AuditFilters{
		TargetUserID: parseUintQuery(c, "user_id"),
		ActionType:   c.Query("action_type"),
		EntityType:   c.Query("entity_type"),
		EntityID:     parseUintQuery(c, "entity_id"),
		Category:     c.Query("category"),
		Severity:     c.Query("severity"),
		ProjectID:    parseUintQuery(c, "project_id"),
		From:         parseTimeQuery(c, "from"),
		To:           parseTimeQuery(c, "to"),
	}
}

func (h *AuditHandler) Query(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	result, err := h.auditService.Query(userID, filtersFromQuery(c), page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrAuditAccessDenied) {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit log"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AuditHandler) ByEntity(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	entityType := c.Param("type")
	entityID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.auditService.GetByEntity(userID, entityType, uint(entityID), limit)
	if err != nil {
		if errors.Is(err, services.ErrAuditAccessDenied) {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *AuditHandler) ByUser(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	targetID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.auditService.GetByUser(userID, uint(targetID), limit)
	if err != nil {
		if errors.Is(err, services.ErrAuditAccessDenied) {
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *AuditHandler) Statistics(c *gin.Context) {
	windowDays, _ := strconv.Atoi(c.DefaultQuery("window_days", "30"))
	stats, err := h.auditService.Statistics(parseUintQuery(c, "project_id"), windowDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AuditHandler) Export(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	format := c.DefaultQuery("format", "csv")
	data, err := h.auditService.Export(userID, format, filtersFromQuery(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAuditAccessDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		case errors.Is(err, services.ErrBadExportFormat):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		}
		return
	}

	contentType := "text/csv"
	filename := "audit-export.csv"
	if format == "json" {
		contentType = "application/json"
		filename = "audit-export.json"
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, data)
}
