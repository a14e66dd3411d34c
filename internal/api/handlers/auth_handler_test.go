package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-pm/trellis/backend/internal/models"
)

func TestRegisterEndpoint(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "first@example.com", "password": "password123", "name": "First",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var user models.User
	decodeBody(t, w, &user)
	assert.Equal(t, "first@example.com", user.Email)
	assert.Empty(t, user.PasswordHash) // json:"-"

	// Weak password rejected by binding.
	w = env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "weak@example.com", "password": "short", "name": "Weak",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Duplicate email.
	w = env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "first@example.com", "password": "password123", "name": "Again",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLoginEndpoint(t *testing.T) {
	env := setupEnv(t)
	_, err := env.auth.Register("login@example.com", "password123", "Login User")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email": "login@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decodeBody(t, w, &body)
	assert.NotEmpty(t, body["token"])

	// The session cookie is set.
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "auth_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// Wrong password: generic 401.
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email": "login@example.com", "password": "wrongpassword",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid credentials")
}

func TestMeEndpoint(t *testing.T) {
	env := setupEnv(t)
	token, _ := env.registerAndLogin(t, "admin@example.com") // first user: super_admin

	w := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Email       string   `json:"email"`
		PrimaryRole string   `json:"primary_role"`
		Permissions []string `json:"permissions"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, "admin@example.com", body.Email)
	assert.Equal(t, models.RoleSuperAdmin, body.PrimaryRole)
	assert.Contains(t, body.Permissions, models.PermManageUsers)

	// Unauthenticated.
	w = env.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
