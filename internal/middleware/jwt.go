package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
	"github.com/noah-isme/patra-api/pkg/logger"
	"github.com/noah-isme/patra-api/pkg/response"
)

const (
	// ContextIdentityKey is the gin context key storing the caller identity.
	ContextIdentityKey = "currentIdentity"
	// ContextCredentialKey is the gin context key storing the raw bearer credential.
	ContextCredentialKey = "currentCredential"
)

type credentialValidator interface {
	ValidateToken(ctx context.Context, credential string) (*models.CredentialClaims, error)
}

// JWT protects routes by requiring a valid desk credential.
func JWT(validator credentialValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, err := bearer(c)
		if err != nil {
			response.Abort(c, err)
			return
		}

		claims, err := validator.ValidateToken(c.Request.Context(), credential)
		if err != nil {
			response.Abort(c, err)
			return
		}

		setIdentity(c, credential, claims.Identity())
		c.Next()
	}
}

// IdentityFrom returns the identity set by JWT.
func IdentityFrom(c *gin.Context) (*models.Identity, bool) {
	value, ok := c.Get(ContextIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*models.Identity)
	return identity, ok && identity != nil
}

func setIdentity(c *gin.Context, credential string, identity *models.Identity) {
	c.Set(ContextIdentityKey, identity)
	c.Set(ContextCredentialKey, credential)
	c.Set(logger.ActorRoleKey, identity.Role.String())
}

func bearer(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
