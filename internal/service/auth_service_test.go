package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

type mockAuthRepo struct {
	user              *models.User
	updatedPassword   string
	lastLoginUpdated  bool
	updatePasswordErr error
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.user == nil || m.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	m.updatedPassword = passwordHash
	return nil
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditStub) ListForResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for _, log := range a.logs {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, *log)
		}
	}
	return out, nil
}

func (a *auditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, log := range a.logs {
		out = append(out, log.Action)
	}
	return out
}

type otpStoreStub struct {
	records map[string]models.OTPRecord
}

func (o *otpStoreStub) Save(ctx context.Context, email string, record models.OTPRecord) error {
	o.records[email] = record
	return nil
}

func (o *otpStoreStub) Load(ctx context.Context, email string) (*models.OTPRecord, error) {
	record, ok := o.records[email]
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return &record, nil
}

func (o *otpStoreStub) Delete(ctx context.Context, email string) error {
	delete(o.records, email)
	return nil
}

type revocationStub struct {
	revoked map[string]time.Duration
}

func (r *revocationStub) Revoke(ctx context.Context, credential string, ttl time.Duration) error {
	r.revoked[credential] = ttl
	return nil
}

func (r *revocationStub) IsRevoked(ctx context.Context, credential string) (bool, error) {
	_, ok := r.revoked[credential]
	return ok, nil
}

type notifierStub struct {
	email string
	code  string
}

func (n *notifierStub) SendOTP(ctx context.Context, email, code string, expiresAt time.Time) error {
	n.email, n.code = email, code
	return nil
}

type authFixture struct {
	now      time.Time
	repo     *mockAuthRepo
	audit    *auditStub
	otps     *otpStoreStub
	revoked  *revocationStub
	notifier *notifierStub
	service  *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	station := "Panchavati"
	ref := "4"
	f := &authFixture{
		now: time.Now().UTC().Truncate(time.Second),
		repo: &mockAuthRepo{user: &models.User{
			ID:           "user-1",
			Email:        "sp@example.gov.in",
			PasswordHash: string(hash),
			Role:         "Superintendent",
			RoleRef:      &ref,
			StationName:  &station,
			Active:       true,
		}},
		audit:    &auditStub{},
		otps:     &otpStoreStub{records: map[string]models.OTPRecord{}},
		revoked:  &revocationStub{revoked: map[string]time.Duration{}},
		notifier: &notifierStub{},
	}
	f.service = NewAuthService(f.repo, f.audit, f.otps, f.revoked, nil, zap.NewNop(), AuthConfig{
		AccessTokenSecret: testSecret,
		AccessTokenExpiry: time.Hour,
		Issuer:            "patra-api",
	}, WithOTPNotifier(f.notifier), WithAuthClock(func() time.Time { return f.now }))
	return f
}

func (f *authFixture) login(t *testing.T) *models.LoginResponse {
	t.Helper()
	resp, err := f.service.Login(context.Background(), models.LoginRequest{Email: "sp@example.gov.in", Password: "correct-horse"})
	require.NoError(t, err)
	return resp
}

func TestLoginIssuesCredentialWithCanonicalRole(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	assert.NotEmpty(t, resp.Credential)
	assert.Equal(t, models.RoleSP, resp.Identity.Role)
	assert.Equal(t, "4", resp.Identity.RoleRef)
	assert.Equal(t, "Panchavati", resp.Identity.StationName)
	assert.Equal(t, models.LandingRoute(models.RoleSP), resp.LandingRoute)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.True(t, f.repo.lastLoginUpdated)
	assert.Equal(t, []string{models.AuditActionLogin}, f.audit.actions())

	session := NewSessionAuthority(nil, nil, nil, SessionConfig{})
	identity, err := session.DeriveIdentity(resp.Credential)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSP, identity.Role)
	assert.Equal(t, "user-1", identity.SubjectID)
}

func TestLoginFailures(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Login(ctx, models.LoginRequest{Email: "sp@example.gov.in", Password: "wrong"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))

	_, err = f.service.Login(ctx, models.LoginRequest{Email: "nobody@example.gov.in", Password: "x"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))

	_, err = f.service.Login(ctx, models.LoginRequest{Email: "not-an-email", Password: "x"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	f.repo.user.Active = false
	_, err = f.service.Login(ctx, models.LoginRequest{Email: "sp@example.gov.in", Password: "correct-horse"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInactiveAccount))
}

func TestVerifyIdentityReportsCurrentRole(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)
	ctx := context.Background()

	verified, err := f.service.VerifyIdentity(ctx, resp.Credential)
	require.NoError(t, err)
	assert.True(t, verified.Valid)
	assert.Equal(t, models.RoleSP, verified.Identity.Role)

	f.repo.user.Role = models.RoleDM
	verified, err = f.service.VerifyIdentity(ctx, resp.Credential)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDM, verified.Identity.Role)

	f.repo.user.Active = false
	_, err = f.service.VerifyIdentity(ctx, resp.Credential)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInactiveAccount))
}

func TestVerifyIdentityRejectsExpiredAndForgedCredentials(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)
	ctx := context.Background()

	_, err := f.service.VerifyIdentity(ctx, "not.a.token")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredential))

	forged := mintCredential(t, "admin", f.now.Add(time.Hour))
	other := NewAuthService(f.repo, nil, f.otps, nil, nil, nil, AuthConfig{AccessTokenSecret: "another-secret"})
	_, err = other.VerifyIdentity(ctx, forged)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredential))

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.service.VerifyIdentity(ctx, resp.Credential)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSessionExpired))
}

func TestLogoutRevokesCredential(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)
	ctx := context.Background()

	require.NoError(t, f.service.Logout(ctx, resp.Credential, models.LoginRequest{IP: "10.0.0.1"}))
	assert.Equal(t, time.Hour, f.revoked.revoked[resp.Credential])

	_, err := f.service.VerifyIdentity(ctx, resp.Credential)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredential))
	assert.Equal(t, []string{models.AuditActionLogin, models.AuditActionLogout}, f.audit.actions())
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	email := "sp@example.gov.in"

	require.NoError(t, f.service.ForgotPassword(ctx, models.ForgotPasswordRequest{Email: email}))
	require.Len(t, f.notifier.code, 6)
	assert.Equal(t, email, f.notifier.email)

	err := f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: email, Code: wrongCode(f.notifier.code)})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
	assert.Equal(t, 1, f.otps.records[email].Attempts)

	require.NoError(t, f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: email, Code: f.notifier.code}))
	assert.True(t, f.otps.records[email].Verified)

	require.NoError(t, f.service.ResetPassword(ctx, models.ResetPasswordRequest{Email: email, Code: f.notifier.code, NewPassword: "new-secret"}))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(f.repo.updatedPassword), []byte("new-secret")))
	assert.NotContains(t, f.otps.records, email)
	assert.Contains(t, f.audit.actions(), models.AuditActionPasswordReset)

	err = f.service.ResetPassword(ctx, models.ResetPasswordRequest{Email: email, Code: f.notifier.code, NewPassword: "again-secret"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.service.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ghost@example.gov.in"}))
	assert.Empty(t, f.otps.records)
	assert.Empty(t, f.notifier.code)
}

func TestOTPAttemptsAndExpiry(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	email := "sp@example.gov.in"

	require.NoError(t, f.service.ForgotPassword(ctx, models.ForgotPasswordRequest{Email: email}))
	bad := wrongCode(f.notifier.code)
	for i := 0; i < 5; i++ {
		err := f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: email, Code: bad})
		assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
	}
	err := f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: email, Code: f.notifier.code})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
	assert.Empty(t, f.otps.records)

	require.NoError(t, f.service.ForgotPassword(ctx, models.ForgotPasswordRequest{Email: email}))
	f.now = f.now.Add(11 * time.Minute)
	err = f.service.VerifyOTP(ctx, models.VerifyOTPRequest{Email: email, Code: f.notifier.code})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
