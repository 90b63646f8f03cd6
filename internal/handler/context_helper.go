package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/patra-api/internal/middleware"
	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

func identityFromContext(c *gin.Context) *models.Identity {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return nil
	}
	return identity
}

func credentialFromContext(c *gin.Context) string {
	return c.GetString(middleware.ContextCredentialKey)
}

func requestMeta(c *gin.Context) models.LoginRequest {
	return models.LoginRequest{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// bearerCredential reads the credential from the Authorization header on
// routes that do not run the JWT middleware.
func bearerCredential(c *gin.Context) (string, error) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.ErrUnauthorized
	}
	return strings.TrimSpace(parts[1]), nil
}
