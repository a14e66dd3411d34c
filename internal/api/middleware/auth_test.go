package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/config"
	"github.com/trellis-pm/trellis/backend/internal/database"
	"github.com/trellis-pm/trellis/backend/internal/models"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

var testDBSeq atomic.Int64

func setupAuthTest(t *testing.T) (*gorm.DB, *services.AuthService, *services.PermissionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:mw%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, services.SeedCatalog(db))

	perms := services.NewPermissionService(db, nil)
	audit := services.NewAuditService(db, perms)
	roles := services.NewRoleService(db, perms, audit)
	security := services.NewSecurityService(db, audit, nil)
	auth := services.NewAuthService(db, config.Config{JWTSecret: "test-secret"}, roles, audit, security)
	return db, auth, perms
}

func TestAuthMiddleware(t *testing.T) {
	_, auth, _ := setupAuthTest(t)

	_, err := auth.Register("mw@example.com", "password123", "MW User")
	require.NoError(t, err)
	token, err := auth.Login("mw@example.com", "password123", "", "127.0.0.1", "go-test")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/protected", AuthMiddleware(auth), func(c *gin.Context) {
		id, ok := CurrentUserID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})

	// No credentials.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Garbage bearer token.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid bearer token.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Valid cookie works too.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: token})
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

}

func TestRequirePermission(t *testing.T) {
	db, auth, perms := setupAuthTest(t)

	_, err := auth.Register("admin@example.com", "password123", "Admin") // super_admin
	require.NoError(t, err)
	_, err = auth.Register("user@example.com", "password123", "User")
	require.NoError(t, err)

	adminToken, err := auth.Login("admin@example.com", "password123", "", "127.0.0.1", "go-test")
	require.NoError(t, err)
	userToken, err := auth.Login("user@example.com", "password123", "", "127.0.0.1", "go-test")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/admin-only",
		AuthMiddleware(auth),
		RequirePermission(perms, models.PermManageUsers),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	call := func(token string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call(adminToken))
	assert.Equal(t, http.StatusForbidden, call(userToken))

	// A project-scoped manage_users grant does not open a global gate.
	project := &models.Project{Name: "P", Key: "P"}
	require.NoError(t, db.Create(project).Error)
	var user models.User
	require.NoError(t, db.Where("email = ?", "user@example.com").First(&user).Error)
	var role models.Role
	require.NoError(t, db.Where("name = ?", models.RoleSuperAdmin).First(&role).Error)
	require.NoError(t, db.Create(&models.RoleAssignment{
		UserID: user.ID, RoleID: role.ID, ProjectID: &project.ID, IsActive: true,
	}).Error)

	assert.Equal(t, http.StatusForbidden, call(userToken))
}
