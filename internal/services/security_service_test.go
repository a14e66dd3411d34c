package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-pm/trellis/backend/internal/models"
)

// recordingAlerter captures alert calls for assertions.
type recordingAlerter struct {
	alerts []string
}

func (r *recordingAlerter) Alert(title, message string) {
	r.alerts = append(r.alerts, title)
}

func TestRecordEvent(t *testing.T) {
	db := setupTestDB(t)
	_, audit, _ := newServiceStack(t, db)
	alerter := &recordingAlerter{}
	security := NewSecurityService(db, audit, alerter)

	uid := uint(5)
	require.NoError(t, security.RecordEvent(&models.SecurityEvent{
		EventType:   models.EventFailedLogin,
		Severity:    models.SeverityMedium,
		Description: "failed login for account 5",
		IPAddress:   "10.0.0.1",
		UserID:      &uid,
	}))

	var event models.SecurityEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, models.EventFailedLogin, event.EventType)
	assert.False(t, event.Resolved)
	assert.NotEmpty(t, event.UUID)

	// Medium severity does not alert.
	assert.Empty(t, alerter.alerts)

	// High severity does.
	require.NoError(t, security.RecordEvent(&models.SecurityEvent{
		EventType:   models.EventAccountLocked,
		Severity:    models.SeverityHigh,
		Description: "account 5 locked",
		UserID:      &uid,
	}))
	require.Len(t, alerter.alerts, 1)
	assert.Contains(t, alerter.alerts[0], models.EventAccountLocked)

	// Missing severity defaults to low.
	require.NoError(t, security.RecordEvent(&models.SecurityEvent{EventType: "CUSTOM"}))
	var custom models.SecurityEvent
	require.NoError(t, db.Where("event_type = ?", "CUSTOM").First(&custom).Error)
	assert.Equal(t, models.SeverityLow, custom.Severity)
}

func TestListEvents(t *testing.T) {
	db := setupTestDB(t)
	_, audit, _ := newServiceStack(t, db)
	security := NewSecurityService(db, audit, nil)

	uid := uint(9)
	for _, e := range []models.SecurityEvent{
		{EventType: models.EventFailedLogin, Severity: models.SeverityMedium, UserID: &uid},
		{EventType: models.EventFailedLogin, Severity: models.SeverityMedium},
		{EventType: models.EventAccountLocked, Severity: models.SeverityHigh, UserID: &uid},
	} {
		event := e
		require.NoError(t, security.RecordEvent(&event))
	}

	events, err := security.ListEvents(SecurityEventFilters{}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = security.ListEvents(SecurityEventFilters{EventType: models.EventFailedLogin}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = security.ListEvents(SecurityEventFilters{UserID: &uid}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = security.ListEvents(SecurityEventFilters{Severity: models.SeverityHigh}, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAccountLocked, events[0].EventType)
}

func TestResolveEvent(t *testing.T) {
	db := setupTestDB(t)
	_, audit, _ := newServiceStack(t, db)
	security := NewSecurityService(db, audit, nil)

	event := &models.SecurityEvent{EventType: models.EventFailedLogin, Severity: models.SeverityMedium}
	require.NoError(t, security.RecordEvent(event))

	admin := createUser(t, db, "admin@example.com")
	require.NoError(t, security.ResolveEvent(event.ID, admin.ID))

	var stored models.SecurityEvent
	require.NoError(t, db.First(&stored, event.ID).Error)
	assert.True(t, stored.Resolved)
	require.NotNil(t, stored.ResolvedBy)
	assert.Equal(t, admin.ID, *stored.ResolvedBy)
	require.NotNil(t, stored.ResolvedAt)
	assert.WithinDuration(t, time.Now(), *stored.ResolvedAt, time.Minute)

	// Resolution is audited.
	var count int64
	require.NoError(t, db.Model(&models.AuditLogEntry{}).
		Where("entity_type = ? AND entity_id = ?", "security_event", event.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Unknown event.
	assert.ErrorIs(t, security.ResolveEvent(9999, admin.ID), ErrEventNotFound)

	// Unresolved filter now excludes it.
	events, err := security.ListEvents(SecurityEventFilters{Unresolved: true}, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecentFailureCount(t *testing.T) {
	db := setupTestDB(t)
	_, audit, _ := newServiceStack(t, db)
	security := NewSecurityService(db, audit, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, security.RecordEvent(&models.SecurityEvent{
			EventType: models.EventFailedLogin,
			IPAddress: "10.0.0.1",
		}))
	}
	require.NoError(t, security.RecordEvent(&models.SecurityEvent{
		EventType: models.EventFailedLogin,
		IPAddress: "10.0.0.2",
	}))

	// Out-of-window events are ignored.
	old := models.SecurityEvent{EventType: models.EventFailedLogin, IPAddress: "10.0.0.1"}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&old).Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	n, err := security.RecentFailureCount("10.0.0.1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
