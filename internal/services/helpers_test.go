package services

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/database"
	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/models"
)

func TestMain(m *testing.M) {
	logger.Init(false, io.Discard)
	os.Exit(m.Run())
}

var testDBSeq atomic.Int64

// setupTestDB opens a fresh in-memory database, migrated and seeded with the
// builtin catalog. Each call gets its own database so tests stay isolated.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, SeedCatalog(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email, Name: "Test User", Enabled: true}
	require.NoError(t, user.SetPassword("password123"))
	require.NoError(t, db.Create(user).Error)
	return user
}

func createProject(t *testing.T, db *gorm.DB, name, key string) *models.Project {
	t.Helper()
	project := &models.Project{Name: name, Key: key}
	require.NoError(t, db.Create(project).Error)
	return project
}

func roleByName(t *testing.T, db *gorm.DB, name string) *models.Role {
	t.Helper()
	var role models.Role
	require.NoError(t, db.Where("name = ?", name).First(&role).Error)
	return &role
}

// grant inserts an assignment row directly, bypassing the service layer, for
// arranging preconditions.
func grant(t *testing.T, db *gorm.DB, userID, roleID uint, projectID *uint, expiresAt *time.Time) *models.RoleAssignment {
	t.Helper()
	a := &models.RoleAssignment{
		UserID:    userID,
		RoleID:    roleID,
		ProjectID: projectID,
		ExpiresAt: expiresAt,
		IsActive:  true,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

// newServiceStack wires the resolver, audit and role services over one
// database with a live cache, the way routes.Register does.
func newServiceStack(t *testing.T, db *gorm.DB) (*PermissionService, *AuditService, *RoleService) {
	t.Helper()
	cache, err := NewResolutionCache(64)
	require.NoError(t, err)
	perms := NewPermissionService(db, cache)
	audit := NewAuditService(db, perms)
	roles := NewRoleService(db, perms, audit)
	return perms, audit, roles
}

func ptr[T any](v T) *T { return &v }

// fakeSender records outgoing mail and can be told to fail.
type fakeSender struct {
	sent []fakeMail
	fail error
}

type fakeMail struct {
	To      string
	Subject string
	Body    string
}

func (f *fakeSender) Send(to, subject, htmlBody string) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, fakeMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}
