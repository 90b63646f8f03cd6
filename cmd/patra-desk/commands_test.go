package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/client"
	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/internal/repository"
	"github.com/noah-isme/patra-api/internal/service"
	"github.com/noah-isme/patra-api/pkg/jobs"
)

func signedCredential(t *testing.T, role models.RoleID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, models.CredentialClaims{
		ID:       "u-1",
		Email:    string(role) + "@example.gov.in",
		RoleName: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("desk-test"))
	require.NoError(t, err)
	return signed
}

func fakeGateway(t *testing.T, credential string) *httptest.Server {
	t.Helper()
	reply := func(w http.ResponseWriter, data interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]interface{}{"credential": credential, "expires_in": 3600})
	})
	mux.HandleFunc("/api/v1/auth/verify-identity", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]interface{}{"valid": true})
	})
	mux.HandleFunc("/api/v1/letters", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []map[string]interface{}{
			{"id": "l-1", "referenceNumber": "IN/2024/17", "subject": "Land dispute", "letterStatus": "pending", "forwardTo": "sp"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestDesk(t *testing.T, gatewayURL string) (*desk, *bytes.Buffer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	api := client.New(client.Config{BaseURL: gatewayURL + "/api/v1", Timeout: 2 * time.Second}, nil, zap.NewNop())
	session := service.NewSessionAuthority(repository.NewMemorySessionStore(), api, zap.NewNop(), service.SessionConfig{})
	letters := api.WithCredentials(session)
	scheduler := jobs.NewScheduler(ctx, zap.NewNop())
	t.Cleanup(scheduler.Stop)

	out := &bytes.Buffer{}
	return &desk{
		out:        out,
		api:        letters,
		auth:       api,
		session:    session,
		access:     service.NewAccessController(session, zap.NewNop()),
		reconciler: service.NewReconciler(service.NewLifecycleEngine(nil), letters, session, zap.NewNop(), service.ReconcilerConfig{}),
		scheduler:  scheduler,
		ended:      make(chan service.VerifyOutcome),
	}, out
}

func TestDeskGatesViewsOnSession(t *testing.T) {
	srv := fakeGateway(t, signedCredential(t, models.RoleSP))
	d, out := newTestDesk(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, d.execute(ctx, "list"))
	assert.Contains(t, out.String(), "redirected to /login (no_session)")

	out.Reset()
	require.NoError(t, d.execute(ctx, "login sp@example.gov.in secret"))
	assert.Contains(t, out.String(), "signed in as sp@example.gov.in (sp)")

	out.Reset()
	require.NoError(t, d.execute(ctx, "list"))
	assert.Contains(t, out.String(), "IN/2024/17")
	assert.Contains(t, out.String(), "pending")

	out.Reset()
	require.NoError(t, d.execute(ctx, "sign l-1"))
	assert.Contains(t, out.String(), "(permission_denied)")
	assert.Contains(t, out.String(), models.LandingRoute(models.RoleSP))
}

func TestDeskRejectsBadInput(t *testing.T) {
	d, out := newTestDesk(t, "http://127.0.0.1:0")
	ctx := context.Background()

	err := d.execute(ctx, "shred l-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	err = d.execute(ctx, "forward l-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: forward <id> <role>")

	require.NoError(t, d.execute(ctx, "export csv register.csv"))
	assert.Contains(t, out.String(), "redirected to /login (no_session)")

	out.Reset()
	require.NoError(t, d.execute(ctx, `""`))
	require.NoError(t, d.repl(ctx, strings.NewReader("\"\"\nquit\n")))
	assert.NotContains(t, out.String(), "error:")
}

func TestSplitFieldsKeepsQuotedRuns(t *testing.T) {
	fields := splitFields(`register IN/9 "Land dispute at Igatpuri"  Collector`)
	assert.Equal(t, []string{"register", "IN/9", "Land dispute at Igatpuri", "Collector"}, fields)

	assert.Empty(t, splitFields(`""`))
	assert.Empty(t, splitFields(`"" ""`))
}
