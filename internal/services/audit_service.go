package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/metrics"
	"github.com/trellis-pm/trellis/backend/internal/models"
)

var (
	ErrAuditAccessDenied = errors.New("access denied")
	ErrBadExportFormat   = errors.New("unsupported export format")
)

const exportPageSize = 10000

// AuditService owns the append-only audit trail. Entries are never updated;
// only CleanupOldLogs deletes, and it spares high/critical entries.
type AuditService struct {
	db    *gorm.DB
	perms *PermissionService
}

// NewAuditService returns an AuditService using the provided DB and resolver.
func NewAuditService(db *gorm.DB, perms *PermissionService) *AuditService {
	return &AuditService{db: db, perms: perms}
}

// LogAction records a sensitive action. It never propagates a failure to the
// caller: audit unavailability must not block legitimate operations, so
// write errors go to the operational log and a failure counter instead.
func (s *AuditService) LogAction(entry models.AuditLogEntry) {
	if entry.Severity == "" {
		entry.Severity = models.SeverityLow
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.db.Create(&entry).Error; err != nil {
		metrics.IncAuditWriteFailure()
		logger.WithComponent("audit").WithError(err).
			WithField("action_type", entry.ActionType).
			Error("failed to write audit entry")
	}
}

// AuditFilters narrows audit queries. Zero values mean "no restriction".
type AuditFilters struct {
	TargetUserID *uint
	ActionType   string
	EntityType   string
	EntityID     *uint
	Category     string
	Severity     string
	ProjectID    *uint
	From         *time.Time
	To           *time.Time
}

// AuditPage is one page of query results with the unscoped-within-visibility
// total for pagination.
type AuditPage struct {
	Entries  []models.AuditLogEntry `json:"entries"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

// viewerScope is the set of projects whose entries the requester may see.
// Unrestricted viewers hold the log-viewing permission globally.
type viewerScope struct {
	unrestricted bool
	projectIDs   []uint
}

func (s *AuditService) resolveViewer(requesterID uint, permission string) (*viewerScope, error) {
	if s.perms.HasPermission(requesterID, permission, nil) {
		return &viewerScope{unrestricted: true}, nil
	}

	// Project-scoped viewer: collect the projects where the permission holds.
	var candidates []uint
	err := s.db.Model(&models.RoleAssignment{}).
		Where("user_id = ? AND is_active = ? AND project_id IS NOT NULL", requesterID, true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Distinct().
		Pluck("project_id", &candidates).Error
	if err != nil {
		return nil, err
	}

	var visible []uint
	for _, pid := range candidates {
		id := pid
		if s.perms.HasPermission(requesterID, permission, &id) {
			visible = append(visible, id)
		}
	}
	if len(visible) == 0 {
		return nil, ErrAuditAccessDenied
	}
	return &viewerScope{projectIDs: visible}, nil
}

// applyScope restricts a query to the viewer's visibility at SQL level, so
// out-of-scope entries leak neither rows nor counts.
func (scope *viewerScope) applyScope(q *gorm.DB) *gorm.DB {
	if scope.unrestricted {
		return q
	}
	return q.Where("project_id IS NULL OR project_id IN ?", scope.projectIDs)
}

func applyFilters(q *gorm.DB, f AuditFilters) *gorm.DB {
	if f.TargetUserID != nil {
		q = q.Where("user_id = ?", *f.TargetUserID)
	}
	if f.ActionType != "" {
		q = q.Where("action_type = ?", f.ActionType)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != nil {
		q = q.Where("entity_id = ?", *f.EntityID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.ProjectID != nil {
		q = q.Where("project_id = ?", *f.ProjectID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	return q
}

// Query returns a filtered, paginated slice of the trail, newest first.
// The requester must hold the log-viewing permission; non-global viewers only
// see entries that are unscoped or inside their accessible project set.
func (s *AuditService) Query(requesterID uint, filters AuditFilters, page, pageSize int) (*AuditPage, error) {
	scope, err := s.resolveViewer(requesterID, models.PermViewAuditLogs)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > exportPageSize {
		pageSize = 50
	}

	base := applyFilters(scope.applyScope(s.db.Model(&models.AuditLogEntry{})), filters)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, err
	}

	var entries []models.AuditLogEntry
	err = base.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return &AuditPage{Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}

// GetByEntity returns the reverse-chronological history for one entity, for
// timeline views. Same gate and scoping as Query.
func (s *AuditService) GetByEntity(requesterID uint, entityType string, entityID uint, limit int) ([]models.AuditLogEntry, error) {
	scope, err := s.resolveViewer(requesterID, models.PermViewAuditLogs)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var entries []models.AuditLogEntry
	err = scope.applyScope(s.db.Model(&models.AuditLogEntry{})).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// GetByUser returns the reverse-chronological actions of one user.
func (s *AuditService) GetByUser(requesterID, targetUserID uint, limit int) ([]models.AuditLogEntry, error) {
	scope, err := s.resolveViewer(requesterID, models.PermViewAuditLogs)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var entries []models.AuditLogEntry
	err = scope.applyScope(s.db.Model(&models.AuditLogEntry{})).
		Where("user_id = ?", targetUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CountBucket is one aggregate row in the statistics output.
type CountBucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// AuditStatistics aggregates the trail for dashboards.
type AuditStatistics struct {
	WindowDays int           `json:"window_days"`
	Total      int64         `json:"total"`
	ByAction   []CountBucket `json:"by_action"`
	ByCategory []CountBucket `json:"by_category"`
	BySeverity []CountBucket `json:"by_severity"`
	ByDay      []CountBucket `json:"by_day"`
}

// Statistics returns grouped counts over the window. Read-only.
func (s *AuditService) Statistics(projectID *uint, windowDays int) (*AuditStatistics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().AddDate(0, 0, -windowDays)

	base := func() *gorm.DB {
		q := s.db.Model(&models.AuditLogEntry{}).Where("created_at >= ?", since)
		if projectID != nil {
			q = q.Where("project_id = ?", *projectID)
		}
		return q
	}

	stats := &AuditStatistics{WindowDays: windowDays}
	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	group := func(expr string, dest *[]CountBucket) error {
		return base().
			Select(expr + " AS key, COUNT(*) AS count").
			Group("key").
			Order("count DESC").
			Scan(dest).Error
	}

	if err := group("action_type", &stats.ByAction); err != nil {
		return nil, err
	}
	if err := group("category", &stats.ByCategory); err != nil {
		return nil, err
	}
	if err := group("severity", &stats.BySeverity); err != nil {
		return nil, err
	}
	if err := group("date(created_at)", &stats.ByDay); err != nil {
		return nil, err
	}
	return stats, nil
}

// CleanupOldLogs deletes entries older than the retention window, keeping
// high and critical entries indefinitely. The cleanup itself is audited; a
// retention job that isn't is a defect.
func (s *AuditService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	res := s.db.Where("created_at < ? AND severity NOT IN ?",
		cutoff, []string{models.SeverityHigh, models.SeverityCritical}).
		Delete(&models.AuditLogEntry{})
	if res.Error != nil {
		return 0, res.Error
	}

	s.LogAction(models.AuditLogEntry{
		ActionType:  models.ActionRetentionCleanup,
		Description: fmt.Sprintf("retention cleanup removed %d entries older than %d days", res.RowsAffected, retentionDays),
		Severity:    models.SeverityMedium,
		Category:    models.CategorySystem,
		Metadata: models.JSONMap{
			"deleted":        res.RowsAffected,
			"retention_days": retentionDays,
		},
	})
	return res.RowsAffected, nil
}

// Export serializes a filtered slice of the trail. Exports are a sensitive
// read, so the requester needs the export permission and the export itself is
// audited with the record count and filters used.
func (s *AuditService) Export(requesterID uint, format string, filters AuditFilters) ([]byte, error) {
	if !s.perms.HasPermission(requesterID, models.PermExportAuditLogs, nil) {
		return nil, ErrAuditAccessDenied
	}

	page, err := s.Query(requesterID, filters, 1, exportPageSize)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch format {
	case "json":
		out, err = json.MarshalIndent(page.Entries, "", "  ")
		if err != nil {
			return nil, err
		}
	case "csv":
		out, err = entriesToCSV(page.Entries)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrBadExportFormat
	}

	uid := requesterID
	s.LogAction(models.AuditLogEntry{
		UserID:      &uid,
		ActionType:  models.ActionAuditExport,
		Description: fmt.Sprintf("exported %d audit entries as %s", len(page.Entries), format),
		Severity:    models.SeverityMedium,
		Category:    models.CategorySecurity,
		Metadata: models.JSONMap{
			"format":      format,
			"count":       len(page.Entries),
			"action_type": filters.ActionType,
			"entity_type": filters.EntityType,
			"category":    filters.Category,
			"severity":    filters.Severity,
		},
	})
	return out, nil
}

func entriesToCSV(entries []models.AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "created_at", "user_id", "action_type", "entity_type", "entity_id", "description", "severity", "category", "project_id", "ip_address"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, e := range entries {
		userID := ""
		if e.UserID != nil {
			userID = strconv.FormatUint(uint64(*e.UserID), 10)
		}
		entityID := ""
		if e.EntityID != nil {
			entityID = strconv.FormatUint(uint64(*e.EntityID), 10)
		}
		projectID := ""
		if e.ProjectID != nil {
			projectID = strconv.FormatUint(uint64(*e.ProjectID), 10)
		}
		record := []string{
			strconv.FormatUint(uint64(e.ID), 10),
			e.CreatedAt.Format(time.RFC3339),
			userID,
			e.ActionType,
			e.EntityType,
			entityID,
			e.Description,
			e.Severity,
			e.Category,
			projectID,
			e.IPAddress,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
