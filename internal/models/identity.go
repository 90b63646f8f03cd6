package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the caller derived from a signed credential.
type Identity struct {
	SubjectID   string    `json:"subjectId"`
	Email       string    `json:"email"`
	Role        RoleID    `json:"role"`
	RoleRef     string    `json:"roleId,omitempty"`
	StationName string    `json:"stationName,omitempty"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Valid reports whether the identity has not expired at now.
func (i *Identity) Valid(now time.Time) bool {
	return i != nil && now.Before(i.ExpiresAt)
}

// NeedsRenewal reports whether the identity expires within buffer of now and
// should be re-authenticated proactively.
func (i *Identity) NeedsRenewal(now time.Time, buffer time.Duration) bool {
	if i == nil {
		return true
	}
	return !now.Add(buffer).Before(i.ExpiresAt)
}

// FlexString accepts a JSON string or number. Credentials issued by older
// desks carry roleId as a number.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// CredentialClaims is the payload of a desk credential.
type CredentialClaims struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	RoleName    string     `json:"roleName"`
	RoleRef     FlexString `json:"roleId,omitempty"`
	StationName string     `json:"stationName,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims into an Identity with a canonical role.
func (c *CredentialClaims) Identity() *Identity {
	identity := &Identity{
		SubjectID:   c.ID,
		Email:       strings.TrimSpace(c.Email),
		Role:        NormalizeRole(c.RoleName),
		RoleRef:     string(c.RoleRef),
		StationName: c.StationName,
	}
	if identity.SubjectID == "" {
		identity.SubjectID = c.Subject
	}
	if c.IssuedAt != nil {
		identity.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		identity.ExpiresAt = c.ExpiresAt.Time
	}
	return identity
}

// VerifyIdentityResponse is the answer of the authoritative identity check.
type VerifyIdentityResponse struct {
	Valid    bool      `json:"valid"`
	Identity *Identity `json:"identity,omitempty"`
}
