package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/api/handlers"
	"github.com/trellis-pm/trellis/backend/internal/api/middleware"
	"github.com/trellis-pm/trellis/backend/internal/config"
	"github.com/trellis-pm/trellis/backend/internal/database"
	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/metrics"
	"github.com/trellis-pm/trellis/backend/internal/models"
	"github.com/trellis-pm/trellis/backend/internal/services"
)

// Services is the shared service graph behind the HTTP surface. Register
// returns it so the maintenance scheduler in cmd/api runs against the same
// resolution cache as the request path; a sweep that invalidates a separate
// graph would leave stale allows cached here.
type Services struct {
	Permissions *services.PermissionService
	Audit       *services.AuditService
	Roles       *services.RoleService
	Security    *services.SecurityService
	Auth        *services.AuthService
	Invitations *services.InvitationService
}

// Register wires up API routes, runs migrations, and seeds the builtin
// permission catalog.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (*Services, error) {
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	if err := services.SeedCatalog(db); err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	logger.Log().Info("Permission catalog seeded")

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	cache, err := services.NewResolutionCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("resolution cache: %w", err)
	}

	permService := services.NewPermissionService(db, cache)
	auditService := services.NewAuditService(db, permService)
	roleService := services.NewRoleService(db, permService, auditService)
	alerter := services.NewShoutrrrAlerter(cfg.AlertURLs)
	securityService := services.NewSecurityService(db, auditService, alerter)
	authService := services.NewAuthService(db, cfg, roleService, auditService, securityService)
	mailService := services.NewMailService(cfg.SMTP)
	invitationService := services.NewInvitationService(db, roleService, permService, auditService, mailService)

	svcs := &Services{
		Permissions: permService,
		Audit:       auditService,
		Roles:       roleService,
		Security:    securityService,
		Auth:        authService,
		Invitations: invitationService,
	}

	authHandler := handlers.NewAuthHandler(authService, permService)
	roleHandler := handlers.NewRoleHandler(db, roleService, permService)
	invitationHandler := handlers.NewInvitationHandler(invitationService, permService)
	auditHandler := handlers.NewAuditHandler(auditService)
	securityHandler := handlers.NewSecurityHandler(securityService)

	authMiddleware := middleware.AuthMiddleware(authService)

	router.GET("/api/v1/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)

	// Invitation acceptance supports both anonymous preview and signed-in
	// acceptance, so it sits outside the auth group and resolves identity
	// only when credentials are present.
	api.POST("/invitations/accept", middleware.OptionalAuth(authService), invitationHandler.Accept)

	protected := api.Group("/")
	protected.Use(authMiddleware)
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)
		protected.POST("/auth/change-password", authHandler.ChangePassword)
		protected.POST("/auth/mfa/setup", authHandler.SetupMFA)
		protected.POST("/auth/mfa/confirm", authHandler.ConfirmMFA)

		// Role catalog and assignments
		protected.GET("/roles", roleHandler.ListRoles)
		protected.GET("/permissions", roleHandler.ListPermissions)
		protected.POST("/assignments", roleHandler.AssignRole)
		protected.DELETE("/assignments/:id", roleHandler.RemoveRole)
		protected.GET("/projects/:id/members", roleHandler.ListProjectMembers)
		protected.GET("/users/:id/assignments", roleHandler.ListUserAssignments)

		// Invitations
		protected.POST("/invitations", invitationHandler.Send)
		protected.DELETE("/invitations/:id", invitationHandler.Cancel)
		protected.POST("/invitations/:id/resend", invitationHandler.Resend)
		protected.GET("/projects/:id/invitations", invitationHandler.ListPending)

		// Audit log
		protected.GET("/audit", auditHandler.Query)
		protected.GET("/audit/entity/:type/:id", auditHandler.ByEntity)
		protected.GET("/audit/user/:id", auditHandler.ByUser)
		protected.GET("/audit/statistics",
			middleware.RequirePermission(permService, models.PermViewAuditLogs),
			auditHandler.Statistics)
		protected.GET("/audit/export", auditHandler.Export)

		// Security events
		security := protected.Group("/security")
		security.Use(middleware.RequirePermission(permService, models.PermManageSecurity))
		{
			security.GET("/events", securityHandler.ListEvents)
			security.POST("/events/:id/resolve", securityHandler.ResolveEvent)
		}
	}

	return svcs, nil
}
