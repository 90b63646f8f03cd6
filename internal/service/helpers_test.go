package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/patra-api/internal/models"
)

const testSecret = "test-secret"

func mintCredential(t *testing.T, roleName string, expiresAt time.Time) string {
	t.Helper()
	claims := models.CredentialClaims{
		ID:       "user-1",
		Email:    "desk@example.gov.in",
		RoleName: roleName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

type verifierStub struct {
	mu    sync.Mutex
	resp  *models.VerifyIdentityResponse
	err   error
	block bool
	calls int
}

func (v *verifierStub) VerifyIdentity(ctx context.Context, credential string) (*models.VerifyIdentityResponse, error) {
	v.mu.Lock()
	v.calls++
	resp, err, block := v.resp, v.err, v.block
	v.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return resp, err
}

func (v *verifierStub) set(resp *models.VerifyIdentityResponse, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resp, v.err = resp, err
}

func (v *verifierStub) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func validVerification() *models.VerifyIdentityResponse {
	return &models.VerifyIdentityResponse{Valid: true}
}
