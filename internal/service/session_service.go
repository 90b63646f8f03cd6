package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
	"github.com/noah-isme/patra-api/pkg/jobs"
)

// CredentialStore persists the desk session between navigations. Load
// returns appErrors.ErrCacheMiss when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (*models.SessionRecord, error)
	Save(ctx context.Context, record models.SessionRecord) error
	Clear(ctx context.Context) error
}

// IdentityVerifier is the authoritative identity check.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, credential string) (*models.VerifyIdentityResponse, error)
}

// TaskScheduler registers periodic work. Implemented by jobs.Scheduler.
type TaskScheduler interface {
	Schedule(name string, interval time.Duration, task jobs.Task) func()
}

type sessionMetrics interface {
	ObserveSessionVerification(outcome string)
}

// VerifyOutcome is the result of a remote identity check.
type VerifyOutcome string

const (
	VerifyValid       VerifyOutcome = "valid"
	VerifyExpired     VerifyOutcome = "expired"
	VerifyRejected    VerifyOutcome = "rejected"
	VerifyUnreachable VerifyOutcome = "unreachable"
)

// SessionConfig tunes the session authority.
type SessionConfig struct {
	InactivityCeiling time.Duration
	VerifyTimeout     time.Duration
}

// SessionAuthority is the single owner of the desk session: the stored
// credential, its liveness flag, last activity and the cached role.
type SessionAuthority struct {
	store    CredentialStore
	verifier IdentityVerifier
	logger   *zap.Logger
	metrics  sessionMetrics
	config   SessionConfig
	parser   *jwt.Parser
	now      func() time.Time
	onEnded  func(VerifyOutcome)

	mu sync.Mutex
}

// SessionOption customises the authority.
type SessionOption func(*SessionAuthority)

// WithSessionClock overrides the clock.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionAuthority) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionMetrics records verification outcomes.
func WithSessionMetrics(metrics sessionMetrics) SessionOption {
	return func(s *SessionAuthority) {
		s.metrics = metrics
	}
}

// WithSessionEndedHook is called when periodic verification ends the session.
func WithSessionEndedHook(fn func(VerifyOutcome)) SessionOption {
	return func(s *SessionAuthority) {
		s.onEnded = fn
	}
}

// NewSessionAuthority constructs a SessionAuthority.
func NewSessionAuthority(store CredentialStore, verifier IdentityVerifier, logger *zap.Logger, cfg SessionConfig, opts ...SessionOption) *SessionAuthority {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InactivityCeiling <= 0 {
		cfg.InactivityCeiling = 24 * time.Hour
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}
	s := &SessionAuthority{
		store:    store,
		verifier: verifier,
		logger:   logger,
		config:   cfg,
		parser:   jwt.NewParser(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeriveIdentity decodes the credential payload without verifying its
// signature. Verification belongs to the authoritative store.
func (s *SessionAuthority) DeriveIdentity(credential string) (*models.Identity, error) {
	credential = strings.TrimSpace(credential)
	if strings.Count(credential, ".") != 2 {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "credential is not a signed token")
	}
	var claims models.CredentialClaims
	if _, _, err := s.parser.ParseUnverified(credential, &claims); err != nil {
		s.logger.Warn("failed to decode credential", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidCredential.Code, appErrors.ErrInvalidCredential.Status, "credential payload is unreadable")
	}
	if claims.ExpiresAt == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredential, "credential has no expiry")
	}
	return claims.Identity(), nil
}

// Init stores a freshly issued credential and marks the session alive.
func (s *SessionAuthority) Init(ctx context.Context, credential string) (*models.Identity, error) {
	identity, err := s.DeriveIdentity(credential)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !identity.Valid(now) {
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "credential already expired")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record := models.SessionRecord{
		Credential:   strings.TrimSpace(credential),
		Alive:        true,
		LastActivity: now,
		CachedRole:   identity.Role,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store session")
	}
	s.logger.Info("session started", zap.String("subject", identity.SubjectID), zap.String("role", identity.Role.String()))
	return identity, nil
}

// IsAlive reports whether a session exists and has seen activity within the
// inactivity ceiling. An idle session is cleared as a side effect, so once
// this returns false it keeps returning false until the next Init.
func (s *SessionAuthority) IsAlive(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.aliveRecord(ctx)
	return ok
}

// RefreshActivity bumps the last activity time. It does nothing when the
// session is not alive.
func (s *SessionAuthority) RefreshActivity(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.aliveRecord(ctx)
	if !ok {
		return nil
	}
	record.LastActivity = s.now()
	if err := s.store.Save(ctx, *record); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refresh session")
	}
	return nil
}

// VerifyRemote asks the authoritative store whether credential is still
// valid. A valid answer returns the identity on record when the store sends
// one. Expired and rejected credentials clear the session; an unreachable
// store leaves it in place and returns ErrNetworkFailure.
func (s *SessionAuthority) VerifyRemote(ctx context.Context, credential string) (VerifyOutcome, *models.Identity, error) {
	outcome, identity, err := s.verify(ctx, credential)
	if s.metrics != nil {
		s.metrics.ObserveSessionVerification(string(outcome))
	}
	switch outcome {
	case VerifyExpired, VerifyRejected:
		if clearErr := s.Clear(ctx); clearErr != nil {
			s.logger.Warn("failed to clear session after verification", zap.Error(clearErr))
		}
	case VerifyUnreachable:
		s.logger.Warn("identity verification unreachable", zap.Error(err))
	}
	return outcome, identity, err
}

func (s *SessionAuthority) verify(ctx context.Context, credential string) (VerifyOutcome, *models.Identity, error) {
	if s.verifier == nil {
		return VerifyUnreachable, nil, appErrors.Clone(appErrors.ErrNetworkFailure, "no identity verifier configured")
	}
	verifyCtx, cancel := context.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()

	resp, err := s.verifier.VerifyIdentity(verifyCtx, credential)
	if err != nil {
		switch {
		case appErrors.HasCode(err, appErrors.ErrSessionExpired):
			return VerifyExpired, nil, nil
		case appErrors.IsSessionError(err), appErrors.HasCode(err, appErrors.ErrInactiveAccount):
			return VerifyRejected, nil, nil
		case appErrors.HasCode(err, appErrors.ErrNetworkFailure):
			return VerifyUnreachable, nil, err
		default:
			return VerifyUnreachable, nil, appErrors.Wrap(err, appErrors.ErrNetworkFailure.Code, appErrors.ErrNetworkFailure.Status, "identity verification failed")
		}
	}
	if resp == nil || !resp.Valid {
		return VerifyRejected, nil, nil
	}
	if resp.Identity != nil && !resp.Identity.Valid(s.now()) {
		return VerifyExpired, nil, nil
	}
	return VerifyValid, resp.Identity, nil
}

// Clear removes all cached credential material. It is idempotent and waits
// for any in-flight read-modify-write of the record.
func (s *SessionAuthority) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear session")
	}
	return nil
}

// Credential returns the stored credential of an alive session.
func (s *SessionAuthority) Credential(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.aliveRecord(ctx)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "no active session")
	}
	return record.Credential, nil
}

// Current returns the identity derived from the stored credential.
func (s *SessionAuthority) Current(ctx context.Context) (*models.Identity, error) {
	credential, err := s.Credential(ctx)
	if err != nil {
		return nil, err
	}
	identity, err := s.DeriveIdentity(credential)
	if err != nil {
		return nil, err
	}
	if !identity.Valid(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "session expired")
	}
	return identity, nil
}

// CachedRole returns the role the desk last rendered for.
func (s *SessionAuthority) CachedRole(ctx context.Context) (models.RoleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.aliveRecord(ctx)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "no active session")
	}
	return record.CachedRole, nil
}

// RememberRole is the only write path for the cached role.
func (s *SessionAuthority) RememberRole(ctx context.Context, role models.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.aliveRecord(ctx)
	if !ok {
		return appErrors.Clone(appErrors.ErrUnauthorized, "no active session")
	}
	record.CachedRole = models.NormalizeRole(string(role))
	if err := s.store.Save(ctx, *record); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store role")
	}
	return nil
}

// StartVerification re-validates the stored credential every interval. The
// returned func stops it.
func (s *SessionAuthority) StartVerification(scheduler TaskScheduler, interval time.Duration) func() {
	return scheduler.Schedule("session-verify", interval, func(ctx context.Context) error {
		credential, err := s.Credential(ctx)
		if err != nil {
			return nil
		}
		outcome, _, err := s.VerifyRemote(ctx, credential)
		if outcome == VerifyExpired || outcome == VerifyRejected {
			s.logger.Info("session ended by verification", zap.String("outcome", string(outcome)))
			if s.onEnded != nil {
				s.onEnded(outcome)
			}
		}
		return err
	})
}

// aliveRecord loads the record and enforces the inactivity ceiling. Callers
// hold s.mu.
func (s *SessionAuthority) aliveRecord(ctx context.Context) (*models.SessionRecord, bool) {
	record, err := s.store.Load(ctx)
	if err != nil {
		if !appErrors.HasCode(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("failed to load session", zap.Error(err))
		}
		return nil, false
	}
	if record == nil || !record.Alive || record.Credential == "" {
		return nil, false
	}
	if s.now().Sub(record.LastActivity) > s.config.InactivityCeiling {
		s.logger.Info("session idle past ceiling", zap.Time("last_activity", record.LastActivity))
		if err := s.store.Clear(ctx); err != nil {
			s.logger.Warn("failed to clear idle session", zap.Error(err))
		}
		return nil, false
	}
	return record, true
}
