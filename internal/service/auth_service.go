package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type otpStore interface {
	Save(ctx context.Context, email string, record models.OTPRecord) error
	Load(ctx context.Context, email string) (*models.OTPRecord, error)
	Delete(ctx context.Context, email string) error
}

type revocationStore interface {
	Revoke(ctx context.Context, credential string, ttl time.Duration) error
	IsRevoked(ctx context.Context, credential string) (bool, error)
}

// OTPNotifier delivers reset codes to the user.
type OTPNotifier interface {
	SendOTP(ctx context.Context, email, code string, expiresAt time.Time) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	Audience          []string
	OTPLength         int
	OTPTTL            time.Duration
	OTPMaxAttempts    int
}

// AuthService issues and verifies desk credentials and runs the password
// reset flow.
type AuthService struct {
	users     authUserRepository
	audit     auditRecorder
	otps      otpStore
	revoked   revocationStore
	notifier  OTPNotifier
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// AuthOption customises the auth service.
type AuthOption func(*AuthService)

// WithOTPNotifier sets how reset codes are delivered. Without one, codes are
// only logged.
func WithOTPNotifier(n OTPNotifier) AuthOption {
	return func(s *AuthService) {
		s.notifier = n
	}
}

// WithAuthClock overrides the clock.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, audit auditRecorder, otps otpStore, revoked revocationStore, validate *validator.Validate, logger *zap.Logger, config AuthConfig, opts ...AuthOption) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	if config.OTPLength <= 0 {
		config.OTPLength = 6
	}
	if config.OTPTTL <= 0 {
		config.OTPTTL = 10 * time.Minute
	}
	if config.OTPMaxAttempts <= 0 {
		config.OTPMaxAttempts = 5
	}
	s := &AuthService{
		users:     users,
		audit:     audit,
		otps:      otps,
		revoked:   revoked,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates a user and issues a credential.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid email or password")
	}

	credential, claims, err := s.issueCredential(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create credential")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}
	identity := claims.Identity()
	s.record(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Role:       models.RolePtr(identity.Role),
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"success"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})

	return &models.LoginResponse{
		Credential:   credential,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     identity.IssuedAt,
		Identity:     *identity,
		LandingRoute: models.LandingRoute(identity.Role),
	}, nil
}

// ValidateToken checks the signature, expiry and revocation of credential.
func (s *AuthService) ValidateToken(ctx context.Context, credential string) (*models.CredentialClaims, error) {
	claims := &models.CredentialClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrSessionExpired.Code, appErrors.ErrSessionExpired.Status, "credential expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidCredential.Code, appErrors.ErrInvalidCredential.Status, "invalid credential")
	}
	if !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "invalid credential")
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, credential)
		if err != nil {
			s.logger.Warn("failed to check credential revocation", zap.Error(err))
		} else if revoked {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "credential was signed out")
		}
	}
	return claims, nil
}

// VerifyIdentity is the authoritative identity check used by desks. The
// returned identity carries the role currently on record, so a desk notices
// when an administrator changes it.
func (s *AuthService) VerifyIdentity(ctx context.Context, credential string) (*models.VerifyIdentityResponse, error) {
	claims, err := s.ValidateToken(ctx, strings.TrimSpace(credential))
	if err != nil {
		return nil, err
	}
	identity := claims.Identity()

	user, err := s.users.FindByID(ctx, identity.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "account no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	identity.Role = models.NormalizeRole(string(user.Role))
	if user.StationName != nil {
		identity.StationName = *user.StationName
	}
	return &models.VerifyIdentityResponse{Valid: true, Identity: identity}, nil
}

// Logout revokes credential for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, credential string, meta models.LoginRequest) error {
	claims, err := s.ValidateToken(ctx, credential)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrSessionExpired) {
			return nil
		}
		return err
	}
	identity := claims.Identity()
	if s.revoked != nil {
		if err := s.revoked.Revoke(ctx, credential, identity.ExpiresAt.Sub(s.now())); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke credential")
		}
	}
	s.record(ctx, &models.AuditLog{
		UserID:     &identity.SubjectID,
		Role:       models.RolePtr(identity.Role),
		Action:     models.AuditActionLogout,
		Resource:   "auth",
		ResourceID: &identity.SubjectID,
		NewValues:  []byte(`{"status":"logout"}`),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// ForgotPassword issues a reset code. Unknown and inactive accounts get the
// same answer as known ones.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}
	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.Active {
		return nil
	}

	code, err := generateOTP(s.config.OTPLength)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}
	now := s.now()
	record := models.OTPRecord{Code: code, IssuedAt: now, ExpiresAt: now.Add(s.config.OTPTTL)}
	if err := s.otps.Save(ctx, req.Email, record); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store code")
	}
	if s.notifier == nil {
		s.logger.Info("password reset code issued", zap.String("email", user.Email), zap.Time("expires_at", record.ExpiresAt))
		return nil
	}
	if err := s.notifier.SendOTP(ctx, user.Email, code, record.ExpiresAt); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deliver code")
	}
	return nil
}

// VerifyOTP checks a reset code without consuming it.
func (s *AuthService) VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}
	record, err := s.checkOTP(ctx, req.Email, req.Code)
	if err != nil {
		return err
	}
	record.Verified = true
	if err := s.otps.Save(ctx, req.Email, *record); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store code")
	}
	return nil
}

// ResetPassword consumes the reset code and replaces the password.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}
	if _, err := s.checkOTP(ctx, req.Email, req.Code); err != nil {
		return err
	}
	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "invalid or expired code")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if err := s.otps.Delete(ctx, req.Email); err != nil {
		s.logger.Warn("failed to delete used reset code", zap.Error(err))
	}
	s.record(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Role:       models.RolePtr(models.NormalizeRole(string(user.Role))),
		Action:     models.AuditActionPasswordReset,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"reset"}`),
	})
	return nil
}

// checkOTP compares code with the stored one, counting failed attempts. A
// code is dropped once its attempts run out.
func (s *AuthService) checkOTP(ctx context.Context, email, code string) (*models.OTPRecord, error) {
	record, err := s.otps.Load(ctx, email)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid or expired code")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load code")
	}
	if !s.now().Before(record.ExpiresAt) {
		_ = s.otps.Delete(ctx, email)
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid or expired code")
	}
	if record.Attempts >= s.config.OTPMaxAttempts {
		_ = s.otps.Delete(ctx, email)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "too many attempts, request a new code")
	}
	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(strings.TrimSpace(code))) != 1 {
		record.Attempts++
		if err := s.otps.Save(ctx, email, *record); err != nil {
			s.logger.Warn("failed to record code attempt", zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid or expired code")
	}
	return record, nil
}

func (s *AuthService) issueCredential(user *models.User) (string, *models.CredentialClaims, error) {
	issuedAt := s.now()
	claims := &models.CredentialClaims{
		ID:       user.ID,
		Email:    user.Email,
		RoleName: string(models.NormalizeRole(string(user.Role))),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	if user.RoleRef != nil {
		claims.RoleRef = models.FlexString(*user.RoleRef)
	}
	if user.StationName != nil {
		claims.StationName = *user.StationName
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (s *AuthService) record(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func generateOTP(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
