package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-pm/trellis/backend/internal/models"
)

func TestInvitationFlow(t *testing.T) {
	env := setupEnv(t)
	adminToken, _ := env.registerAndLogin(t, "admin@example.com")
	project := env.createProject(t, "Payments", "PAY")
	developerRole := env.roleID(t, models.RoleDeveloper)

	// Send.
	w := env.do(t, http.MethodPost, "/api/v1/invitations", adminToken, gin.H{
		"project_id": project.ID, "email": "newdev@example.com", "role_id": developerRole,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, env.sender.sent)

	var invitation models.Invitation
	decodeBody(t, w, &invitation)
	assert.Empty(t, invitation.Token) // json:"-": the token travels by email only

	// Pull the token out of the store the way the email recipient would
	// receive it.
	var stored models.Invitation
	require.NoError(t, env.db.First(&stored, invitation.ID).Error)
	require.NotEmpty(t, stored.Token)

	// Anonymous accept: auth required plus preview.
	w = env.do(t, http.MethodPost, "/api/v1/invitations/accept", "", gin.H{"token": stored.Token})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var anon struct {
		AuthRequired bool `json:"auth_required"`
		Invitation   struct {
			ProjectName string `json:"project_name"`
		} `json:"invitation"`
	}
	decodeBody(t, w, &anon)
	assert.True(t, anon.AuthRequired)
	assert.Equal(t, "Payments", anon.Invitation.ProjectName)

	// Wrong identity: forbidden.
	wrongToken, _ := env.registerAndLogin(t, "wrong@example.com")
	w = env.do(t, http.MethodPost, "/api/v1/invitations/accept", wrongToken, gin.H{"token": stored.Token})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Matching identity: accepted, role granted.
	devToken, devID := env.registerAndLogin(t, "newdev@example.com")
	w = env.do(t, http.MethodPost, "/api/v1/invitations/accept", devToken, gin.H{"token": stored.Token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.perms.HasPermission(devID, models.PermEditTask, &project.ID))

	// Replay: conflict.
	w = env.do(t, http.MethodPost, "/api/v1/invitations/accept", devToken, gin.H{"token": stored.Token})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unknown token: not found.
	w = env.do(t, http.MethodPost, "/api/v1/invitations/accept", devToken, gin.H{"token": "feedfacefeedfacefeedfacefeedface"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendInvitation_RequiresManageMembers(t *testing.T) {
	env := setupEnv(t)
	env.registerAndLogin(t, "admin@example.com")
	devToken, _ := env.registerAndLogin(t, "dev@example.com")
	project := env.createProject(t, "Payments", "PAY")

	w := env.do(t, http.MethodPost, "/api/v1/invitations", devToken, gin.H{
		"project_id": project.ID, "email": "x@example.com", "role_id": env.roleID(t, models.RoleDeveloper),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, env.sender.sent)
}

func TestCancelResendAndListInvitations(t *testing.T) {
	env := setupEnv(t)
	adminToken, _ := env.registerAndLogin(t, "admin@example.com")
	devToken, _ := env.registerAndLogin(t, "dev@example.com")
	project := env.createProject(t, "Payments", "PAY")
	developerRole := env.roleID(t, models.RoleDeveloper)

	w := env.do(t, http.MethodPost, "/api/v1/invitations", adminToken, gin.H{
		"project_id": project.ID, "email": "pending@example.com", "role_id": developerRole,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var invitation models.Invitation
	decodeBody(t, w, &invitation)

	listPath := fmt.Sprintf("/api/v1/projects/%d/invitations", project.ID)
	w = env.do(t, http.MethodGet, listPath, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []models.Invitation
	decodeBody(t, w, &pending)
	assert.Len(t, pending, 1)

	// Listing requires manage_members in that project.
	w = env.do(t, http.MethodGet, listPath, devToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Resend is gated the same way.
	resendPath := fmt.Sprintf("/api/v1/invitations/%d/resend", invitation.ID)
	w = env.do(t, http.MethodPost, resendPath, devToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, http.MethodPost, resendPath, adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, env.sender.sent)

	// Cancel, then the list is empty and a re-cancel conflicts.
	cancelPath := fmt.Sprintf("/api/v1/invitations/%d", invitation.ID)
	w = env.do(t, http.MethodDelete, cancelPath, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, listPath, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending = nil
	decodeBody(t, w, &pending)
	assert.Empty(t, pending)

	w = env.do(t, http.MethodDelete, cancelPath, adminToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
