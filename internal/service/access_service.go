package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/models"
)

// AccessState is the authentication state of a navigation.
type AccessState string

const (
	StateUnauthenticated         AccessState = "unauthenticated"
	StateAuthenticatedMismatched AccessState = "authenticated_mismatched"
	StateAuthenticated           AccessState = "authenticated"
)

// Redirect reasons.
const (
	ReasonNoSession          = "no_session"
	ReasonInvalidCredential  = "invalid_credential"
	ReasonSessionExpired     = "session_expired"
	ReasonVerificationFailed = "verification_failed"
	ReasonRoleMismatch       = "role_mismatch"
	ReasonPermissionDenied   = "permission_denied"
	ReasonAlreadySignedIn    = "already_signed_in"
)

// Decision is the outcome of a navigation: either render Path or follow
// Redirect.
type Decision struct {
	State    AccessState      `json:"state"`
	Path     string           `json:"path"`
	Redirect string           `json:"redirect,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Identity *models.Identity `json:"identity,omitempty"`
}

// Render reports whether the requested route may be shown.
func (d Decision) Render() bool {
	return d.Redirect == ""
}

// AccessController gates desk navigation on the session authority.
type AccessController struct {
	session          *SessionAuthority
	rules            []models.RouteRule
	verifyOnNavigate bool
	logger           *zap.Logger
	now              func() time.Time
}

// AccessOption customises the controller.
type AccessOption func(*AccessController)

// WithRouteRules replaces the default route table.
func WithRouteRules(rules []models.RouteRule) AccessOption {
	return func(a *AccessController) {
		a.rules = rules
	}
}

// WithVerifyOnNavigate toggles the remote identity check on each navigation.
func WithVerifyOnNavigate(enabled bool) AccessOption {
	return func(a *AccessController) {
		a.verifyOnNavigate = enabled
	}
}

// WithAccessClock overrides the clock.
func WithAccessClock(now func() time.Time) AccessOption {
	return func(a *AccessController) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAccessController constructs an AccessController.
func NewAccessController(session *SessionAuthority, logger *zap.Logger, opts ...AccessOption) *AccessController {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AccessController{
		session:          session,
		rules:            models.DefaultRouteRules(),
		verifyOnNavigate: true,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Navigate re-evaluates the session for a route change and decides whether
// path renders.
func (a *AccessController) Navigate(ctx context.Context, path string) (Decision, error) {
	if !a.session.IsAlive(ctx) {
		return a.signIn(path, ReasonNoSession), nil
	}
	if err := a.session.RefreshActivity(ctx); err != nil {
		a.logger.Warn("failed to refresh session activity", zap.Error(err))
	}

	credential, err := a.session.Credential(ctx)
	if err != nil {
		return a.signIn(path, ReasonNoSession), nil
	}
	identity, err := a.session.DeriveIdentity(credential)
	if err != nil {
		return a.endSession(ctx, path, ReasonInvalidCredential)
	}
	if !identity.Valid(a.now()) {
		return a.endSession(ctx, path, ReasonSessionExpired)
	}

	if a.verifyOnNavigate {
		outcome, verified, err := a.session.VerifyRemote(ctx, credential)
		if outcome != VerifyValid {
			reason := ReasonVerificationFailed
			if outcome == VerifyExpired {
				reason = ReasonSessionExpired
			}
			a.logger.Info("navigation refused by verification", zap.String("path", path), zap.String("outcome", string(outcome)), zap.Error(err))
			return a.signIn(path, reason), nil
		}
		// The role on record outranks the one baked into the credential.
		if verified != nil && verified.Role != "" {
			if onRecord := models.NormalizeRole(string(verified.Role)); onRecord != identity.Role {
				a.logger.Info("role changed on record", zap.String("credential_role", identity.Role.String()), zap.String("verified_role", onRecord.String()))
				identity.Role = onRecord
			}
		}
	}

	cached, err := a.session.CachedRole(ctx)
	if err != nil {
		return a.signIn(path, ReasonNoSession), nil
	}
	if cached != identity.Role {
		if err := a.session.RememberRole(ctx, identity.Role); err != nil {
			return Decision{}, err
		}
		return Decision{
			State:    StateAuthenticatedMismatched,
			Path:     path,
			Redirect: models.LandingRoute(identity.Role),
			Reason:   ReasonRoleMismatch,
			Identity: identity,
		}, nil
	}

	landing := models.LandingRoute(identity.Role)
	if path == models.RouteSignIn {
		return Decision{State: StateAuthenticated, Path: path, Redirect: landing, Reason: ReasonAlreadySignedIn, Identity: identity}, nil
	}
	if rule, ok := a.ruleFor(path); ok && !rule.Admits(identity.Role) {
		return Decision{State: StateAuthenticated, Path: path, Redirect: landing, Reason: ReasonPermissionDenied, Identity: identity}, nil
	}
	return Decision{State: StateAuthenticated, Path: path, Identity: identity}, nil
}

// ruleFor returns the most specific rule covering path.
func (a *AccessController) ruleFor(path string) (models.RouteRule, bool) {
	var (
		best  models.RouteRule
		found bool
	)
	for _, rule := range a.rules {
		if path != rule.Path && !strings.HasPrefix(path, strings.TrimSuffix(rule.Path, "/")+"/") {
			continue
		}
		if !found || len(rule.Path) > len(best.Path) {
			best, found = rule, true
		}
	}
	return best, found
}

func (a *AccessController) endSession(ctx context.Context, path, reason string) (Decision, error) {
	if err := a.session.Clear(ctx); err != nil {
		return Decision{}, err
	}
	return a.signIn(path, reason), nil
}

func (a *AccessController) signIn(path, reason string) Decision {
	if path == models.RouteSignIn {
		return Decision{State: StateUnauthenticated, Path: path, Reason: reason}
	}
	return Decision{State: StateUnauthenticated, Path: path, Redirect: models.RouteSignIn, Reason: reason}
}
