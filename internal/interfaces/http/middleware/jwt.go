package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fleetbill/backend/internal/infrastructure/auth"
	"github.com/fleetbill/backend/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys under which validated JWT claims are stored.
const (
	JWTClaimsKey   = "jwt_claims"
	JWTUserIDKey   = "jwt_user_id"
	JWTTenantIDKey = "jwt_tenant_id"
	JWTUsernameKey = "jwt_username"
	JWTPermissions = "jwt_permissions"

	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// JWTMiddlewareConfig holds configuration for the JWT middleware.
type JWTMiddlewareConfig struct {
	// JWTService validates tokens
	JWTService *auth.JWTService
	// SkipPaths bypass authentication on exact match
	SkipPaths []string
	// SkipPathPrefixes bypass authentication on prefix match
	SkipPathPrefixes []string
	// OnError replaces the default 401 response when set
	OnError func(c *gin.Context, err error)
	Logger  *zap.Logger
}

// DefaultJWTConfig skips the health and metrics endpoints and leaves error
// handling to the default 401 response.
func DefaultJWTConfig(jwtService *auth.JWTService) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			"/health",
			"/healthz",
			"/ready",
			"/metrics",
			"/api/v1/health",
		},
	}
}

func (cfg JWTMiddlewareConfig) skips(path string) bool {
	for _, p := range cfg.SkipPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range cfg.SkipPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from the Authorization header. An empty
// string means the header was missing, malformed, or carried no token.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthHeaderKey)
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, BearerPrefix)
}

// JWTAuthMiddleware authenticates requests with the default configuration.
func JWTAuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(DefaultJWTConfig(jwtService))
}

// JWTAuthMiddlewareWithConfig authenticates every request against the
// Authorization header and stores the validated claims in both the gin
// context and the request context (for log enrichment).
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.skips(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			rejectAuth(c, cfg, auth.ErrInvalidToken, "missing or malformed authorization header")
			return
		}

		claims, err := cfg.JWTService.ValidateToken(token)
		if err != nil {
			rejectAuth(c, cfg, err, "token validation failed")
			return
		}

		storeClaims(c, claims)

		ctx := c.Request.Context()
		log := logger.FromContext(ctx)
		ctx, _ = logger.WithUserID(ctx, log, claims.UserID)
		ctx, _ = logger.WithTenantID(ctx, log, claims.TenantID)
		c.Request = c.Request.WithContext(ctx)

		if cfg.Logger != nil {
			cfg.Logger.Debug("JWT authentication successful",
				zap.String("user_id", claims.UserID),
				zap.String("tenant_id", claims.TenantID),
				zap.String("username", claims.Username),
			)
		}

		c.Next()
	}
}

// OptionalJWTAuthMiddleware extracts claims when a valid token is present
// but lets unauthenticated requests through. Used on endpoints that serve
// both anonymous and authenticated callers.
func OptionalJWTAuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if claims, err := jwtService.ValidateToken(token); err == nil {
				storeClaims(c, claims)
			}
		}
		c.Next()
	}
}

func storeClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(JWTClaimsKey, claims)
	c.Set(JWTUserIDKey, claims.UserID)
	c.Set(JWTTenantIDKey, claims.TenantID)
	c.Set(JWTUsernameKey, claims.Username)
	c.Set(JWTPermissions, claims.Permissions)
}

func rejectAuth(c *gin.Context, cfg JWTMiddlewareConfig, err error, reason string) {
	if cfg.OnError != nil {
		cfg.OnError(c, err)
		return
	}

	if cfg.Logger != nil {
		cfg.Logger.Warn("JWT authentication failed",
			zap.Error(err),
			zap.String("reason", reason),
			zap.String("path", c.Request.URL.Path),
		)
	}

	code, message := "UNAUTHORIZED", "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = "TOKEN_EXPIRED", "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		code, message = "TOKEN_NOT_VALID", "Token is not yet valid"
	case errors.Is(err, auth.ErrInvalidToken):
		code, message = "INVALID_TOKEN", "Invalid token"
	}

	abortWithError(c, http.StatusUnauthorized, code, message)
}

// GetJWTClaims returns the validated claims from the context, or nil when
// the request was not authenticated.
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if v, exists := c.Get(JWTClaimsKey); exists {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// MustGetJWTClaims returns the validated claims or panics. Only for routes
// behind the non-optional JWT middleware.
func MustGetJWTClaims(c *gin.Context) *auth.Claims {
	claims := GetJWTClaims(c)
	if claims == nil {
		panic("jwt claims not found in context")
	}
	return claims
}

// GetJWTUserID returns the authenticated user ID, or "".
func GetJWTUserID(c *gin.Context) string {
	return contextString(c, JWTUserIDKey)
}

// GetJWTTenantID returns the authenticated tenant ID, or "".
func GetJWTTenantID(c *gin.Context) string {
	return contextString(c, JWTTenantIDKey)
}

// GetJWTUsername returns the authenticated username, or "".
func GetJWTUsername(c *gin.Context) string {
	return contextString(c, JWTUsernameKey)
}

// GetJWTPermissions returns the permissions carried by the token, or nil.
func GetJWTPermissions(c *gin.Context) []string {
	if v, exists := c.Get(JWTPermissions); exists {
		if perms, ok := v.([]string); ok {
			return perms
		}
	}
	return nil
}

func contextString(c *gin.Context, key string) string {
	if v, exists := c.Get(key); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
