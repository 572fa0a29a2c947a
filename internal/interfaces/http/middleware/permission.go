package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PermissionConfig customises how permission middleware reports denials.
type PermissionConfig struct {
	Logger *zap.Logger
	// OnDenied, when set, replaces the standard 403 response.
	OnDenied func(c *gin.Context, requiredPerms []string)
}

// permissionMode decides how a permission list is evaluated.
type permissionMode int

const (
	anyOf permissionMode = iota
	allOf
)

// RequirePermission guards a route with a single permission, e.g.
// "invoice:void" on the void endpoint.
func RequirePermission(permission string) gin.HandlerFunc {
	return RequireAnyPermission(permission)
}

// RequireAnyPermission admits callers holding at least one of the listed
// permissions.
func RequireAnyPermission(permissions ...string) gin.HandlerFunc {
	return requirePermissions(PermissionConfig{}, anyOf, permissions)
}

// RequireAnyPermissionWithConfig is RequireAnyPermission with logging and
// denial hooks.
func RequireAnyPermissionWithConfig(cfg PermissionConfig, permissions ...string) gin.HandlerFunc {
	return requirePermissions(cfg, anyOf, permissions)
}

// RequireAllPermissions admits callers only when they hold every listed
// permission.
func RequireAllPermissions(permissions ...string) gin.HandlerFunc {
	return requirePermissions(PermissionConfig{}, allOf, permissions)
}

// RequireAllPermissionsWithConfig is RequireAllPermissions with logging and
// denial hooks.
func RequireAllPermissionsWithConfig(cfg PermissionConfig, permissions ...string) gin.HandlerFunc {
	return requirePermissions(cfg, allOf, permissions)
}

func requirePermissions(cfg PermissionConfig, mode permissionMode, permissions []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			denyPermission(c, cfg, permissions, "No authentication claims found")
			return
		}

		granted := false
		switch mode {
		case anyOf:
			granted = claims.HasAnyPermission(permissions...)
		case allOf:
			granted = claims.HasAllPermissions(permissions...)
		}
		if !granted {
			denyPermission(c, cfg, permissions, "User lacks required permission")
			return
		}

		if cfg.Logger != nil {
			cfg.Logger.Debug("Permission check passed",
				zap.String("user_id", claims.UserID),
				zap.Strings("required", permissions),
			)
		}
		c.Next()
	}
}

// RequireResource derives the required permission from the HTTP method, so
// one middleware covers a whole resource group: GET asks for
// "<resource>:read", POST for "<resource>:create", PUT/PATCH for
// "<resource>:update" and DELETE for "<resource>:delete".
func RequireResource(resource string) gin.HandlerFunc {
	return RequireResourceWithConfig(resource, PermissionConfig{})
}

// RequireResourceWithConfig is RequireResource with logging and denial hooks.
func RequireResourceWithConfig(resource string, cfg PermissionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		permission := resource + ":" + methodToAction(c.Request.Method)
		requirePermissions(cfg, anyOf, []string{permission})(c)
	}
}

// RequireResourceAction guards a route with an explicit resource:action pair.
func RequireResourceAction(resource, action string) gin.HandlerFunc {
	return RequirePermission(resource + ":" + action)
}

func methodToAction(method string) string {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func denyPermission(c *gin.Context, cfg PermissionConfig, requiredPerms []string, reason string) {
	if cfg.OnDenied != nil {
		cfg.OnDenied(c, requiredPerms)
		return
	}

	if cfg.Logger != nil {
		fields := []zap.Field{
			zap.String("reason", reason),
			zap.Strings("required_permissions", requiredPerms),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		}
		if claims := GetJWTClaims(c); claims != nil {
			fields = append(fields,
				zap.String("user_id", claims.UserID),
				zap.Strings("user_permissions", claims.Permissions),
			)
		}
		cfg.Logger.Warn("Permission denied", fields...)
	}

	abortWithError(c, http.StatusForbidden, "ERR_FORBIDDEN", "Access denied: insufficient permissions")
}

// HasPermission reports whether the authenticated caller holds permission.
// Handlers use it for checks that depend on the request body rather than
// the route.
func HasPermission(c *gin.Context, permission string) bool {
	claims := GetJWTClaims(c)
	return claims != nil && claims.HasPermission(permission)
}

// HasAnyPermission reports whether the caller holds at least one of the
// given permissions.
func HasAnyPermission(c *gin.Context, permissions ...string) bool {
	claims := GetJWTClaims(c)
	return claims != nil && claims.HasAnyPermission(permissions...)
}

// HasAllPermissions reports whether the caller holds every given permission.
func HasAllPermissions(c *gin.Context, permissions ...string) bool {
	claims := GetJWTClaims(c)
	return claims != nil && claims.HasAllPermissions(permissions...)
}
