// internal/middleware/auth_middleware.go
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"healthwallet-service/internal/pkg/jwt"
	"healthwallet-service/internal/pkg/response"
	"healthwallet-service/internal/pkg/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const InternalKeyHeader = "X-Internal-Key"

type AuthMiddleware struct {
	verifier    *jwt.Verifier
	revocations session.Revocations
	internalKey string
	logger      *zap.Logger
}

func NewAuthMiddleware(verifier *jwt.Verifier, revocations session.Revocations, internalKey string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:    verifier,
		revocations: revocations,
		internalKey: internalKey,
		logger:      logger,
	}
}

// Auth validates the bearer token and puts the account id in the context.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}
		if m.verifier == nil {
			response.Error(c, http.StatusUnauthorized, "token verification not configured", nil)
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		if m.revocations != nil {
			revoked, err := m.revocations.IsTokenBlacklisted(c.Request.Context(), claims.ID)
			if err != nil {
				m.logger.Warn("revocation check failed", zap.String("jti", claims.ID), zap.Error(err))
			} else if revoked {
				response.Error(c, http.StatusUnauthorized, "token has been revoked", nil)
				return
			}
		}

		c.Set("identity_id", claims.IdentityID)
		c.Set("jti", claims.ID)
		c.Set("roles", claims.Roles)
		c.Set("device", claims.Device)

		c.Next()
	}
}

// RequireRole must run after Auth.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, role := range roles {
			if HasRole(c, role) {
				c.Next()
				return
			}
		}
		response.Error(c, http.StatusForbidden, "insufficient permissions", errors.New("user does not have required role"), map[string]interface{}{
			"required_roles": roles,
		})
	}
}

// AdminOnly returns middlewares for admin-only routes (Auth + RequireRole)
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole("admin", "super_admin"),
	}
}

// InternalOnly guards service-to-service routes with a shared key.
func (m *AuthMiddleware) InternalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.internalKey == "" {
			response.Error(c, http.StatusForbidden, "internal API disabled", nil)
			return
		}
		got := c.GetHeader(InternalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(m.internalKey)) != 1 {
			m.logger.Warn("rejected internal call", zap.String("ip", c.ClientIP()), zap.String("path", c.FullPath()))
			response.Error(c, http.StatusUnauthorized, "invalid internal key", nil)
			return
		}
		c.Next()
	}
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}

func GetIdentityID(c *gin.Context) (int64, bool) {
	identityID, exists := c.Get("identity_id")
	if !exists {
		return 0, false
	}
	id, ok := identityID.(int64)
	return id, ok
}

func GetJTI(c *gin.Context) (string, bool) {
	jti, exists := c.Get("jti")
	if !exists {
		return "", false
	}
	jtiStr, ok := jti.(string)
	return jtiStr, ok
}

func HasRole(c *gin.Context, role string) bool {
	for _, r := range GetRoles(c) {
		if r == role {
			return true
		}
	}
	return false
}
