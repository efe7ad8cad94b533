package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shiplabel/backend/internal/infrastructure/auth"
	"github.com/shiplabel/backend/internal/interfaces/http/dto"
)

const (
	// NonceHeader carries the request nonce for session-authenticated
	// storefront callers
	NonceHeader = "X-WC-Nonce"
	// UserIDHeader identifies the session user a nonce was issued to
	UserIDHeader = "X-User-ID"

	// ContextUserIDKey is the gin context key for the authenticated user
	ContextUserIDKey = "user_id"
)

// CapabilityChecker decides whether a user may manage labels. It is the
// extension point for deployments that resolve capabilities outside the
// token, e.g. against a role store.
type CapabilityChecker func(c *gin.Context, userID string) bool

// LabelsAuthConfig configures the label surface guard
type LabelsAuthConfig struct {
	JWT   *auth.JWTService
	Nonce *auth.NonceService
	// NonceAction scopes nonces to the label surface
	NonceAction string
	// CanManageLabels overrides the capability decision. When nil,
	// JWT callers need the manage-labels capability claim and nonce
	// callers are allowed as-is; a nonce is only issued to a session
	// that already passed the capability check.
	CanManageLabels CapabilityChecker
}

// LabelsAuth guards the label endpoints: the caller must present either
// a valid request nonce or a valid bearer token, and must hold the
// manage-labels capability
func LabelsAuth(cfg LabelsAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			claims, err := cfg.JWT.ValidateToken(token)
			if err != nil {
				abortUnauthorized(c, "invalid or expired token")
				return
			}
			if !hasCapability(c, cfg, claims.UserID, claims.HasCapability(auth.CapabilityManageLabels)) {
				abortForbidden(c)
				return
			}
			c.Set(ContextUserIDKey, claims.UserID)
			c.Next()
			return
		}

		if nonce := c.GetHeader(NonceHeader); nonce != "" {
			userID := c.GetHeader(UserIDHeader)
			if userID == "" || !cfg.Nonce.Verify(nonce, cfg.NonceAction, userID) {
				abortUnauthorized(c, "invalid or expired nonce")
				return
			}
			if !hasCapability(c, cfg, userID, true) {
				abortForbidden(c)
				return
			}
			c.Set(ContextUserIDKey, userID)
			c.Next()
			return
		}

		abortUnauthorized(c, "authentication required")
	}
}

func hasCapability(c *gin.Context, cfg LabelsAuthConfig, userID string, fallback bool) bool {
	if cfg.CanManageLabels != nil {
		return cfg.CanManageLabels(c, userID)
	}
	return fallback
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(dto.ErrCodeUnauthorized, message))
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponse(dto.ErrCodeForbidden, "missing manage_shipping_labels capability"))
}

// GetAuthenticatedUserID returns the user id set by LabelsAuth
func GetAuthenticatedUserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}
