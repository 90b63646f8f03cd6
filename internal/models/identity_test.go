package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialClaimsAcceptNumericRoleID(t *testing.T) {
	var claims CredentialClaims
	err := json.Unmarshal([]byte(`{"id":"u-1","email":" a@b.in ","roleName":"HOD","roleId":7,"exp":1900000000}`), &claims)
	require.NoError(t, err)

	identity := claims.Identity()
	assert.Equal(t, "u-1", identity.SubjectID)
	assert.Equal(t, "a@b.in", identity.Email)
	assert.Equal(t, RoleHead, identity.Role)
	assert.Equal(t, "7", identity.RoleRef)
	assert.Equal(t, int64(1900000000), identity.ExpiresAt.Unix())
}

func TestCredentialClaimsAcceptStringRoleID(t *testing.T) {
	var claims CredentialClaims
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u-1","roleName":"sp","roleId":"r-9"}`), &claims))
	assert.Equal(t, FlexString("r-9"), claims.RoleRef)
}

func TestIdentityExpiry(t *testing.T) {
	now := time.Now()
	identity := &Identity{ExpiresAt: now.Add(3 * time.Minute)}
	assert.True(t, identity.Valid(now))
	assert.True(t, identity.NeedsRenewal(now, 5*time.Minute))
	assert.False(t, identity.NeedsRenewal(now, time.Minute))
	assert.False(t, identity.Valid(now.Add(4*time.Minute)))

	var missing *Identity
	assert.False(t, missing.Valid(now))
}
