package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/models"
)

var (
	ErrInvitationNotFound = errors.New("invalid invitation token")
	ErrAlreadyProcessed   = errors.New("invitation already processed")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrEmailMismatch      = errors.New("invitation was sent to a different email")
	ErrAlreadyMember      = errors.New("email already belongs to a project member")
	ErrInvitationPending  = errors.New("a pending invitation already exists for this email")
	ErrProjectNotFound    = errors.New("project not found")
)

const defaultInvitationDays = 7

// Sender delivers invitation email. Satisfied by MailService; tests supply
// a recording fake.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

// InvitationService issues and redeems time-boxed project invitations.
// Tokens are single-use, high-entropy opaque strings; acceptance binds the
// authenticated identity's email to the invited email.
type InvitationService struct {
	db     *gorm.DB
	roles  *RoleService
	perms  *PermissionService
	audit  *AuditService
	sender Sender
}

// NewInvitationService returns an InvitationService with its collaborators.
func NewInvitationService(db *gorm.DB, roles *RoleService, perms *PermissionService, audit *AuditService, sender Sender) *InvitationService {
	return &InvitationService{db: db, roles: roles, perms: perms, audit: audit, sender: sender}
}

// generateToken returns a 128-bit hex token from the system CSPRNG.
func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SendInvitation creates a pending invitation and attempts delivery. The
// persisted row is rolled back when delivery fails: an invitation must never
// exist without an attempted notification.
func (s *InvitationService) SendInvitation(projectID uint, email string, roleID uint, invitedBy uint, message string, expirationDays int) (*models.Invitation, error) {
	email = models.NormalizeEmail(email)
	if expirationDays <= 0 {
		expirationDays = defaultInvitationDays
	}

	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	var role models.Role
	if err := s.db.First(&role, roleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}

	// Already a member: the email resolves to a user holding an active role
	// in this project.
	var memberCount int64
	err := s.db.Model(&models.RoleAssignment{}).
		Joins("JOIN users ON users.id = role_assignments.user_id").
		Where("users.email = ?", email).
		Where("role_assignments.project_id = ? AND role_assignments.is_active = ?", projectID, true).
		Where("role_assignments.expires_at IS NULL OR role_assignments.expires_at > ?", time.Now()).
		Count(&memberCount).Error
	if err != nil {
		return nil, err
	}
	if memberCount > 0 {
		return nil, ErrAlreadyMember
	}

	// At most one pending invitation per (project, email).
	var pendingCount int64
	err = s.db.Model(&models.Invitation{}).
		Where("project_id = ? AND email = ? AND status = ?", projectID, email, models.InvitationPending).
		Count(&pendingCount).Error
	if err != nil {
		return nil, err
	}
	if pendingCount > 0 {
		return nil, ErrInvitationPending
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate invitation token: %w", err)
	}

	invitation := &models.Invitation{
		ProjectID: projectID,
		InvitedBy: invitedBy,
		Email:     email,
		RoleID:    roleID,
		Token:     token,
		Message:   message,
		Status:    models.InvitationPending,
		ExpiresAt: time.Now().AddDate(0, 0, expirationDays),
	}
	if err := s.db.Create(invitation).Error; err != nil {
		return nil, err
	}

	if err := s.deliver(invitation, &project, &role); err != nil {
		if delErr := s.db.Delete(invitation).Error; delErr != nil {
			logger.WithComponent("invitations").WithError(delErr).
				Error("failed to roll back invitation after delivery failure")
		}
		return nil, fmt.Errorf("deliver invitation: %w", err)
	}

	actor := invitedBy
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &actor,
		ActionType:  models.ActionInvitationSent,
		EntityType:  "invitation",
		EntityID:    &invitation.ID,
		Description: fmt.Sprintf("invited %s to project %q as %q", email, project.Name, role.Name),
		Severity:    models.SeverityMedium,
		Category:    models.CategoryAuthorization,
		ProjectID:   &projectID,
		Metadata:    models.JSONMap{"email": email, "role": role.Name},
	})
	return invitation, nil
}

// InvitationPreview carries just enough to drive a post-login redirect for an
// unauthenticated token holder. It is only handed to callers presenting a
// valid token, never to arbitrary queries.
type InvitationPreview struct {
	ProjectName string `json:"project_name"`
	RoleName    string `json:"role_name"`
	Email       string `json:"email"`
}

// AcceptResult is the structured outcome of AcceptInvitation.
type AcceptResult struct {
	AuthRequired bool                   `json:"auth_required"`
	Preview      *InvitationPreview     `json:"preview,omitempty"`
	Assignment   *models.RoleAssignment `json:"assignment,omitempty"`
}

func (s *InvitationService) preview(inv *models.Invitation) *InvitationPreview {
	p := &InvitationPreview{Email: inv.Email}
	var project models.Project
	if err := s.db.First(&project, inv.ProjectID).Error; err == nil {
		p.ProjectName = project.Name
	}
	var role models.Role
	if err := s.db.First(&role, inv.RoleID).Error; err == nil {
		p.RoleName = role.Name
	}
	return p
}

// AcceptInvitation redeems a token. Each precondition fails distinctly so the
// caller UI can branch: unknown token, already processed, expired, email
// mismatch. With a nil userID it returns an auth-required result carrying the
// preview. Marking the invitation accepted and creating the assignment happen
// in one transaction.
func (s *InvitationService) AcceptInvitation(token string, userID *uint) (*AcceptResult, error) {
	var invitation models.Invitation
	if err := s.db.Where("token = ?", token).First(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}

	if invitation.Status != models.InvitationPending {
		return nil, ErrAlreadyProcessed
	}
	if invitation.Lapsed(time.Now()) {
		if err := s.db.Model(&invitation).Update("status", models.InvitationExpired).Error; err != nil {
			logger.WithComponent("invitations").WithError(err).Error("failed to mark invitation expired")
		}
		return nil, ErrInvitationExpired
	}

	if userID == nil {
		return &AcceptResult{AuthRequired: true, Preview: s.preview(&invitation)}, nil
	}

	var user models.User
	if err := s.db.First(&user, *userID).Error; err != nil {
		return nil, err
	}
	if models.NormalizeEmail(user.Email) != invitation.Email {
		return nil, ErrEmailMismatch
	}

	var assignment *models.RoleAssignment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Re-check status inside the transaction so a concurrent accept of
		// the same token fails with "already processed", not a double grant.
		var current models.Invitation
		if err := tx.Where("token = ?", token).First(&current).Error; err != nil {
			return err
		}
		if current.Status != models.InvitationPending {
			return ErrAlreadyProcessed
		}

		var err error
		assignment, err = s.roles.assignTx(tx, user.ID, invitation.RoleID, &invitation.ProjectID, invitation.InvitedBy, nil)
		if err != nil {
			return err
		}

		now := time.Now()
		return tx.Model(&current).Updates(map[string]interface{}{
			"status":      models.InvitationAccepted,
			"accepted_by": user.ID,
			"accepted_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.perms.InvalidateUser(user.ID)

	uid := user.ID
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &uid,
		ActionType:  models.ActionInvitationUsed,
		EntityType:  "invitation",
		EntityID:    &invitation.ID,
		Description: fmt.Sprintf("user %d accepted invitation to project %d", user.ID, invitation.ProjectID),
		Severity:    models.SeverityMedium,
		Category:    models.CategoryAuthorization,
		ProjectID:   &invitation.ProjectID,
	})
	return &AcceptResult{Assignment: assignment}, nil
}

// GetInvitation fetches an invitation by id.
func (s *InvitationService) GetInvitation(invitationID uint) (*models.Invitation, error) {
	var invitation models.Invitation
	if err := s.db.First(&invitation, invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	return &invitation, nil
}

// CancelInvitation marks a pending invitation expired so the token can no
// longer be redeemed.
func (s *InvitationService) CancelInvitation(invitationID, cancelledBy uint) error {
	var invitation models.Invitation
	if err := s.db.First(&invitation, invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return err
	}
	if invitation.Status != models.InvitationPending {
		return ErrAlreadyProcessed
	}
	return s.db.Model(&invitation).Update("status", models.InvitationExpired).Error
}

// ResendInvitation extends the validity window and re-attempts delivery of
// the same token. No new token is minted.
func (s *InvitationService) ResendInvitation(invitationID uint, expirationDays int) error {
	if expirationDays <= 0 {
		expirationDays = defaultInvitationDays
	}

	var invitation models.Invitation
	if err := s.db.First(&invitation, invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return err
	}
	if invitation.Status != models.InvitationPending {
		return ErrAlreadyProcessed
	}

	invitation.ExpiresAt = time.Now().AddDate(0, 0, expirationDays)
	if err := s.db.Save(&invitation).Error; err != nil {
		return err
	}

	var project models.Project
	if err := s.db.First(&project, invitation.ProjectID).Error; err != nil {
		return err
	}
	var role models.Role
	if err := s.db.First(&role, invitation.RoleID).Error; err != nil {
		return err
	}
	return s.deliver(&invitation, &project, &role)
}

// ListPending returns the open invitations for a project.
func (s *InvitationService) ListPending(projectID uint) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db.Where("project_id = ? AND status = ?", projectID, models.InvitationPending).
		Order("created_at DESC").
		Find(&invitations).Error
	return invitations, err
}

func (s *InvitationService) deliver(inv *models.Invitation, project *models.Project, role *models.Role) error {
	subject := fmt.Sprintf("You've been invited to %s", project.Name)
	body, err := renderInvitationEmail(invitationEmailData{
		ProjectName: project.Name,
		RoleName:    role.DisplayName,
		Message:     inv.Message,
		Token:       inv.Token,
		ExpiresAt:   inv.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return s.sender.Send(inv.Email, subject, body)
}
