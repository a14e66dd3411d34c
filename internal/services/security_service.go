package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/models"
)

var ErrEventNotFound = errors.New("security event not found")

// Alerter fans a short security alert out to operator channels. Satisfied by
// ShoutrrrAlerter; a nil Alerter disables alerting.
type Alerter interface {
	Alert(title, message string)
}

// SecurityService records and manages security events. Events carry a review
// workflow (resolve/acknowledge) unlike audit entries, which are immutable.
type SecurityService struct {
	db      *gorm.DB
	audit   *AuditService
	alerter Alerter
}

// NewSecurityService returns a SecurityService using the provided DB.
func NewSecurityService(db *gorm.DB, audit *AuditService, alerter Alerter) *SecurityService {
	return &SecurityService{db: db, audit: audit, alerter: alerter}
}

// RecordEvent persists a security event. High and critical events also alert
// operator channels; alert delivery is best-effort and never blocks the
// caller.
func (s *SecurityService) RecordEvent(event *models.SecurityEvent) error {
	if event == nil {
		return nil
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := s.db.Create(event).Error; err != nil {
		return err
	}

	if s.alerter != nil && (event.Severity == models.SeverityHigh || event.Severity == models.SeverityCritical) {
		s.alerter.Alert(
			fmt.Sprintf("Security event: %s", event.EventType),
			fmt.Sprintf("%s (severity %s, ip %s)", event.Description, event.Severity, event.IPAddress),
		)
	}
	return nil
}

// SecurityEventFilters narrows event listings.
type SecurityEventFilters struct {
	EventType  string
	Severity   string
	UserID     *uint
	Unresolved bool
}

// ListEvents returns recent security events, newest first.
func (s *SecurityService) ListEvents(filters SecurityEventFilters, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.Order("created_at DESC").Limit(limit)
	if filters.EventType != "" {
		q = q.Where("event_type = ?", filters.EventType)
	}
	if filters.Severity != "" {
		q = q.Where("severity = ?", filters.Severity)
	}
	if filters.UserID != nil {
		q = q.Where("user_id = ?", *filters.UserID)
	}
	if filters.Unresolved {
		q = q.Where("resolved = ?", false)
	}

	var events []models.SecurityEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ResolveEvent marks an event reviewed by an administrator. This is the one
// permitted mutation of a security event, and it is itself audited.
func (s *SecurityService) ResolveEvent(eventID, resolvedBy uint) error {
	var event models.SecurityEvent
	if err := s.db.First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEventNotFound
		}
		return err
	}
	if event.Resolved {
		return nil
	}

	now := time.Now()
	err := s.db.Model(&event).Updates(map[string]interface{}{
		"resolved":    true,
		"resolved_by": resolvedBy,
		"resolved_at": now,
	}).Error
	if err != nil {
		return err
	}

	actor := resolvedBy
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &actor,
		ActionType:  "SECURITY_EVENT_RESOLVED",
		EntityType:  "security_event",
		EntityID:    &event.ID,
		Description: fmt.Sprintf("resolved security event %q", event.EventType),
		Severity:    models.SeverityLow,
		Category:    models.CategorySecurity,
	})
	return nil
}

// RecentFailureCount returns how many failed-login events an IP produced in
// the window, for dashboard threat summaries.
func (s *SecurityService) RecentFailureCount(ipAddress string, window time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&models.SecurityEvent{}).
		Where("ip_address = ? AND event_type = ? AND created_at >= ?",
			ipAddress, models.EventFailedLogin, time.Now().Add(-window)).
		Count(&count).Error
	return count, err
}

// logAlertFailure is shared by alerter implementations.
func logAlertFailure(err error, url string) {
	logger.WithComponent("alerts").WithError(err).WithField("url", url).
		Warn("failed to deliver security alert")
}
