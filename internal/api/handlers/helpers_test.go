package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/api/middleware"
	"github.com/trellis-pm/trellis/backend/internal/config"
	"github.com/trellis-pm/trellis/backend/internal/database"
	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/models"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Init(false, io.Discard)
	os.Exit(m.Run())
}

var testDBSeq atomic.Int64

// stubSender records invitation mail instead of speaking SMTP.
type stubSender struct {
	sent int
}

func (s *stubSender) Send(to, subject, htmlBody string) error {
	s.sent++
	return nil
}

// testEnv is a fully wired router plus direct service handles for arranging
// fixtures.
type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	auth   *services.AuthService
	perms  *services.PermissionService
	roles  *services.RoleService
	sender *stubSender
}

// setupEnv mirrors the production wiring with an in-memory database and a
// stub mail sender.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:h%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, services.SeedCatalog(db))

	cache, err := services.NewResolutionCache(64)
	require.NoError(t, err)
	perms := services.NewPermissionService(db, cache)
	audit := services.NewAuditService(db, perms)
	roles := services.NewRoleService(db, perms, audit)
	security := services.NewSecurityService(db, audit, nil)
	auth := services.NewAuthService(db, config.Config{JWTSecret: "test-secret"}, roles, audit, security)
	sender := &stubSender{}
	invites := services.NewInvitationService(db, roles, perms, audit, sender)

	authHandler := NewAuthHandler(auth, perms)
	roleHandler := NewRoleHandler(db, roles, perms)
	invitationHandler := NewInvitationHandler(invites, perms)
	auditHandler := NewAuditHandler(audit)
	securityHandler := NewSecurityHandler(security)

	authMW := middleware.AuthMiddleware(auth)

	router := gin.New()
	api := router.Group("/api/v1")
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/invitations/accept", middleware.OptionalAuth(auth), invitationHandler.Accept)

	protected := api.Group("/")
	protected.Use(authMW)
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.GET("/roles", roleHandler.ListRoles)
		protected.GET("/permissions", roleHandler.ListPermissions)
		protected.POST("/assignments", roleHandler.AssignRole)
		protected.DELETE("/assignments/:id", roleHandler.RemoveRole)
		protected.GET("/projects/:id/members", roleHandler.ListProjectMembers)
		protected.GET("/users/:id/assignments", roleHandler.ListUserAssignments)
		protected.POST("/invitations", invitationHandler.Send)
		protected.DELETE("/invitations/:id", invitationHandler.Cancel)
		protected.POST("/invitations/:id/resend", invitationHandler.Resend)
		protected.GET("/projects/:id/invitations", invitationHandler.ListPending)
		protected.GET("/audit", auditHandler.Query)
		protected.GET("/audit/export", auditHandler.Export)
		security2 := protected.Group("/security")
		security2.Use(middleware.RequirePermission(perms, models.PermManageSecurity))
		{
			security2.GET("/events", securityHandler.ListEvents)
			security2.POST("/events/:id/resolve", securityHandler.ResolveEvent)
		}
	}

	return &testEnv{db: db, router: router, auth: auth, perms: perms, roles: roles, sender: sender}
}

// registerAndLogin creates an account and returns its bearer token and id.
// The first account in a fresh environment is the global super_admin.
func (e *testEnv) registerAndLogin(t *testing.T, email string) (string, uint) {
	t.Helper()
	user, err := e.auth.Register(email, "password123", "Test User")
	require.NoError(t, err)
	token, err := e.auth.Login(email, "password123", "", "127.0.0.1", "go-test")
	require.NoError(t, err)
	return token, user.ID
}

func (e *testEnv) createProject(t *testing.T, name, key string) *models.Project {
	t.Helper()
	project := &models.Project{Name: name, Key: key}
	require.NoError(t, e.db.Create(project).Error)
	return project
}

func (e *testEnv) roleID(t *testing.T, name string) uint {
	t.Helper()
	var role models.Role
	require.NoError(t, e.db.Where("name = ?", name).First(&role).Error)
	return role.ID
}

// do performs a JSON request with an optional bearer token.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), "body: %s", w.Body.String())
}
