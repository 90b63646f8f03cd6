package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/patra-api/internal/middleware"
	"github.com/noah-isme/patra-api/internal/models"
)

type credentialValidator interface {
	ValidateToken(ctx context.Context, credential string) (*models.CredentialClaims, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Routes groups the handlers and middleware dependencies mounted under the
// API prefix.
type Routes struct {
	Auth        *AuthHandler
	Letters     *LetterHandler
	Users       *UserHandler
	Metrics     *MetricsHandler
	Credentials credentialValidator
	Audit       auditRecorder
}

// Register mounts every endpoint on group.
func (r Routes) Register(group *gin.RouterGroup) {
	authenticated := middleware.JWT(r.Credentials)

	auth := group.Group("/auth")
	auth.POST("/login", r.Auth.Login)
	auth.POST("/verify-identity", r.Auth.VerifyIdentity)
	auth.POST("/forgot-password", r.Auth.ForgotPassword)
	auth.POST("/verify-otp", r.Auth.VerifyOTP)
	auth.POST("/reset-password", r.Auth.ResetPassword)
	auth.POST("/logout", authenticated, r.Auth.Logout)
	auth.GET("/me", authenticated, r.Auth.Me)

	// Signed links carry their own authorization.
	group.GET("/files/:token", r.Letters.DownloadFile)

	letters := group.Group("/letters", authenticated)
	letters.GET("", r.Letters.List)
	letters.POST("", middleware.RequireRoles(models.RoleInwardUser, models.RoleAdmin), r.Letters.Create)
	letters.GET("/export", middleware.Audit(r.Audit, models.AuditActionRegisterExport, "letters"), r.Letters.Export)
	letters.GET("/:id", r.Letters.Get)
	letters.POST("/:id/forward", r.Letters.Forward)
	letters.POST("/:id/send-to-head", r.Letters.SendToHead)
	letters.POST("/:id/sign", r.Letters.Sign)
	letters.POST("/:id/decision", r.Letters.Decide)
	letters.POST("/:id/close", r.Letters.CloseCase)
	letters.POST("/:id/covering-letter", r.Letters.AttachCoveringLetter)
	letters.DELETE("/:id/covering-letter/:coveringLetterId", r.Letters.DeleteCoveringLetter)
	letters.POST("/:id/reports", r.Letters.UploadReports)
	letters.GET("/:id/merged-pdf", r.Letters.DownloadMerged)

	users := group.Group("/users", authenticated)
	users.GET("", middleware.RBAC(string(models.RoleAdmin)), r.Users.List)
	users.POST("", middleware.RBAC(string(models.RoleAdmin)), r.Users.Create)
	users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), r.Users.Get)
	users.PUT("/:id", middleware.RBAC(string(models.RoleAdmin)), r.Users.Update)
	users.DELETE("/:id", middleware.RBAC(string(models.RoleAdmin)), r.Users.Delete)

	if r.Metrics != nil {
		group.GET("/metrics/summary", authenticated, middleware.RequireRoles(models.RoleAdmin), r.Metrics.Summary)
	}
}
