package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/trellis-pm/trellis/backend/internal/config"
	"github.com/trellis-pm/trellis/backend/internal/logger"
	"github.com/trellis-pm/trellis/backend/internal/metrics"
	"github.com/trellis-pm/trellis/backend/internal/models"
)

var (
	// ErrInvalidCredentials is deliberately generic: unknown email and wrong
	// password are indistinguishable to the caller, to prevent enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrMFARequired        = errors.New("mfa code required")
	ErrMFAInvalid         = errors.New("invalid mfa code")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
)

// Claims is the JWT payload for a Trellis session token.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// ipLimiter throttles login attempts per client IP, independently of the
// per-account lockout machine.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func newIPLimiter(perMin int) *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rate.Limiter), perMin: perMin}
}

func (l *ipLimiter) allow(ip string) bool {
	if l.perMin <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}

// AuthService is the authentication guard: login attempt tracking,
// progressive lockout, MFA verification and session token lifecycle. Every
// anomaly it sees becomes a SecurityEvent; every success becomes audit trail.
type AuthService struct {
	db       *gorm.DB
	cfg      config.Config
	roles    *RoleService
	audit    *AuditService
	security *SecurityService
	limiter  *ipLimiter
}

// NewAuthService wires the guard to its collaborators.
func NewAuthService(db *gorm.DB, cfg config.Config, roles *RoleService, audit *AuditService, security *SecurityService) *AuthService {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.LockoutMinutes <= 0 {
		cfg.LockoutMinutes = 15
	}
	return &AuthService{
		db:       db,
		cfg:      cfg,
		roles:    roles,
		audit:    audit,
		security: security,
		limiter:  newIPLimiter(cfg.LoginRatePerMin),
	}
}

// Register creates a user account. The first account gets a global
// super_admin assignment so a fresh install has an administrator.
func (s *AuthService) Register(email, password, name string) (*models.User, error) {
	email = models.NormalizeEmail(email)

	var existing models.User
	err := s.db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return nil, err
	}

	user := &models.User{Email: email, Name: name, Enabled: true}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, err
	}

	if count == 0 {
		var admin models.Role
		if err := s.db.Where("name = ?", models.RoleSuperAdmin).First(&admin).Error; err == nil {
			if _, err := s.roles.AssignRole(user.ID, admin.ID, nil, user.ID, nil); err != nil {
				logger.WithComponent("auth").WithError(err).Warn("failed to grant bootstrap super_admin")
			}
		}
	}
	return user, nil
}

// Login authenticates a user and returns a signed session token.
//
// The per-account state machine: 5 consecutive password failures lock the
// account for the configured window; attempts against a locked account are
// rejected before any password comparison; a success resets the counter.
// MFA failures run on their own counter and never reset the password one.
func (s *AuthService) Login(email, password, otpCode, ipAddress, userAgent string) (string, error) {
	if !s.limiter.allow(ipAddress) {
		s.recordEvent(&models.SecurityEvent{
			EventType:   models.EventRateLimited,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("login rate limit exceeded for %s", ipAddress),
			IPAddress:   ipAddress,
			UserAgent:   userAgent,
		})
		return "", ErrTooManyAttempts
	}

	email = models.NormalizeEmail(email)
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.IncLoginFailure()
			s.recordEvent(&models.SecurityEvent{
				EventType:   models.EventUnknownAccount,
				Severity:    models.SeverityMedium,
				Description: "login attempt for unknown account",
				IPAddress:   ipAddress,
				UserAgent:   userAgent,
				Metadata:    models.JSONMap{"email": email},
			})
			return "", ErrInvalidCredentials
		}
		logger.WithComponent("auth").WithError(err).Error("login lookup failed")
		return "", ErrInvalidCredentials
	}

	if !user.Enabled {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	if user.Locked(now) {
		// Reject before the password check: a locked account never becomes a
		// timing oracle for password validity.
		s.recordEvent(&models.SecurityEvent{
			EventType:   models.EventLockedAttempt,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("login attempt against locked account %d", user.ID),
			IPAddress:   ipAddress,
			UserAgent:   userAgent,
			UserID:      &user.ID,
		})
		return "", ErrAccountLocked
	}

	if !user.CheckPassword(password) {
		attempts, lockedNow, err := s.registerPasswordFailure(user.ID, now)
		if err != nil {
			logger.WithComponent("auth").WithError(err).Error("failed to record login failure")
		}
		metrics.IncLoginFailure()
		s.recordEvent(&models.SecurityEvent{
			EventType:   models.EventFailedLogin,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("failed login for account %d (attempt %d)", user.ID, attempts),
			IPAddress:   ipAddress,
			UserAgent:   userAgent,
			UserID:      &user.ID,
			Metadata:    models.JSONMap{"attempts": attempts},
		})
		if lockedNow {
			metrics.IncAccountLockout()
			s.recordEvent(&models.SecurityEvent{
				EventType:   models.EventAccountLocked,
				Severity:    models.SeverityHigh,
				Description: fmt.Sprintf("account %d locked after %d failed attempts", user.ID, attempts),
				IPAddress:   ipAddress,
				UserAgent:   userAgent,
				UserID:      &user.ID,
			})
		}
		return "", ErrInvalidCredentials
	}

	if user.MFAEnabled {
		if otpCode == "" {
			// Distinguishable from a credential failure so the client can
			// prompt for the second factor.
			return "", ErrMFARequired
		}
		if !totp.Validate(otpCode, user.MFASecret) {
			_, lockedNow, err := s.registerMFAFailure(user.ID, now)
			if err != nil {
				logger.WithComponent("auth").WithError(err).Error("failed to record mfa failure")
			}
			s.recordEvent(&models.SecurityEvent{
				EventType:   models.EventMFAFailed,
				Severity:    models.SeverityHigh,
				Description: fmt.Sprintf("invalid MFA code for account %d", user.ID),
				IPAddress:   ipAddress,
				UserAgent:   userAgent,
				UserID:      &user.ID,
			})
			if lockedNow {
				metrics.IncAccountLockout()
			}
			return "", ErrMFAInvalid
		}
	}

	// Success: reset both failure channels, clear any lock, stamp last login.
	err := s.db.Model(&user).Updates(map[string]interface{}{
		"failed_login_attempts": 0,
		"failed_mfa_attempts":   0,
		"locked_until":          nil,
		"last_login":            now,
	}).Error
	if err != nil {
		return "", err
	}

	uid := user.ID
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &uid,
		ActionType:  models.ActionLogin,
		Description: fmt.Sprintf("user %d logged in", user.ID),
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Severity:    models.SeverityLow,
		Category:    models.CategoryAuthentication,
	})
	return s.issueToken(&user)
}

// registerPasswordFailure bumps the failure counter with a single atomic SQL
// update and applies the lock when the threshold is reached. Two concurrent
// failures cannot both observe "below threshold": the increment happens in
// the store, and the threshold check reads the incremented value back inside
// the same transaction.
func (s *AuthService) registerPasswordFailure(userID uint, now time.Time) (attempts int, lockedNow bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + 1")).Error; err != nil {
			return err
		}
		var u models.User
		if err := tx.First(&u, userID).Error; err != nil {
			return err
		}
		attempts = u.FailedLoginAttempts
		if attempts >= s.cfg.LockoutThreshold && !u.Locked(now) {
			until := now.Add(time.Duration(s.cfg.LockoutMinutes) * time.Minute)
			if err := tx.Model(&u).Update("locked_until", until).Error; err != nil {
				return err
			}
			lockedNow = true
		}
		return nil
	})
	return attempts, lockedNow, err
}

// registerMFAFailure mirrors registerPasswordFailure on the MFA channel. The
// channels share the lockout but not the counter, so MFA retries cannot reset
// or bypass password-failure lockout.
func (s *AuthService) registerMFAFailure(userID uint, now time.Time) (attempts int, lockedNow bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("failed_mfa_attempts", gorm.Expr("failed_mfa_attempts + 1")).Error; err != nil {
			return err
		}
		var u models.User
		if err := tx.First(&u, userID).Error; err != nil {
			return err
		}
		attempts = u.FailedMFAAttempts
		if attempts >= s.cfg.LockoutThreshold && !u.Locked(now) {
			until := now.Add(time.Duration(s.cfg.LockoutMinutes) * time.Minute)
			if err := tx.Model(&u).Update("locked_until", until).Error; err != nil {
				return err
			}
			lockedNow = true
		}
		return nil
	})
	return attempts, lockedNow, err
}

// Logout records the end of a session. Token revocation is client-side (the
// cookie is cleared); the audit entry is what matters here.
func (s *AuthService) Logout(userID uint, ipAddress, userAgent string) {
	uid := userID
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &uid,
		ActionType:  models.ActionLogout,
		Description: fmt.Sprintf("user %d logged out", userID),
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Severity:    models.SeverityLow,
		Category:    models.CategoryAuthentication,
	})
}

func (s *AuthService) issueToken(user *models.User) (string, error) {
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UUID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken parses and verifies a session token.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GetUserByID fetches a user by primary key.
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ChangePassword verifies the old password before setting a new one.
func (s *AuthService) ChangePassword(userID uint, oldPassword, newPassword string) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !user.CheckPassword(oldPassword) {
		return ErrInvalidCredentials
	}
	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	if err := s.db.Save(user).Error; err != nil {
		return err
	}

	uid := userID
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &uid,
		ActionType:  "PASSWORD_CHANGED",
		Description: fmt.Sprintf("user %d changed password", userID),
		Severity:    models.SeverityMedium,
		Category:    models.CategoryAuthentication,
	})
	return nil
}

// SetupMFA generates a TOTP secret for the user. The secret is stored but
// MFA stays disabled until ConfirmMFA verifies a code against it.
func (s *AuthService) SetupMFA(userID uint) (secret, otpauthURL string, err error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return "", "", err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Trellis",
		AccountName: user.Email,
	})
	if err != nil {
		return "", "", err
	}

	if err := s.db.Model(user).Update("mfa_secret", key.Secret()).Error; err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ConfirmMFA enables MFA after the user proves possession of the secret.
func (s *AuthService) ConfirmMFA(userID uint, code string) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.MFASecret == "" {
		return ErrMFAInvalid
	}
	if !totp.Validate(code, user.MFASecret) {
		return ErrMFAInvalid
	}
	if err := s.db.Model(user).Update("mfa_enabled", true).Error; err != nil {
		return err
	}

	uid := userID
	s.audit.LogAction(models.AuditLogEntry{
		UserID:      &uid,
		ActionType:  "MFA_ENABLED",
		Description: fmt.Sprintf("user %d enabled MFA", userID),
		Severity:    models.SeverityMedium,
		Category:    models.CategoryAuthentication,
	})
	return nil
}

func (s *AuthService) recordEvent(event *models.SecurityEvent) {
	if err := s.security.RecordEvent(event); err != nil {
		logger.WithComponent("auth").WithError(err).Error("failed to record security event")
	}
}
