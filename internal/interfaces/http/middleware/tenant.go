package middleware

import (
	"net/http"
	"strings"

	"github.com/fleetbill/backend/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context keys under which the resolved tenant is stored for handlers.
const (
	TenantIDKey     = "tenant_id"
	TenantCodeKey   = "tenant_code"
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantInfo describes a resolved fleet operator.
type TenantInfo struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
}

// TenantValidator checks that a tenant exists and may use the billing API.
// Implementations typically hit the tenant registry with a short cache.
type TenantValidator interface {
	ValidateTenant(tenantID string) (*TenantInfo, error)
}

// TenantMiddlewareConfig controls how the tenant is resolved per request.
type TenantMiddlewareConfig struct {
	// HeaderEnabled allows resolution from the X-Tenant-ID header.
	HeaderEnabled bool
	// JWTEnabled allows resolution from token claims. The JWT middleware
	// must run earlier in the chain.
	JWTEnabled bool
	// SubdomainEnabled allows resolution from the request host, e.g.
	// metro.fleetbill.example with BaseDomain fleetbill.example.
	SubdomainEnabled bool
	BaseDomain       string
	// SkipPaths bypass tenant resolution entirely (health, metrics).
	SkipPaths []string
	// Required rejects requests that resolve no tenant.
	Required bool
	// Validator, when set, vets the resolved tenant before it is trusted.
	Validator TenantValidator
	Logger    *zap.Logger
}

// DefaultTenantConfig resolves from JWT claims first, then the header, and
// insists on a tenant for every non-exempt route.
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		HeaderEnabled: true,
		JWTEnabled:    true,
		SkipPaths:     []string{"/health", "/healthz", "/ready", "/metrics", "/api/v1/health"},
		Required:      true,
	}
}

func (cfg TenantMiddlewareConfig) skips(path string) bool {
	for _, p := range cfg.SkipPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// lookupTenantID resolves the tenant ID for the request and reports which
// source produced it. JWT claims win over the header, the header over the
// subdomain, so a client cannot spoof a tenant it is not authenticated for.
func (cfg TenantMiddlewareConfig) lookupTenantID(c *gin.Context) (string, string) {
	if cfg.JWTEnabled {
		if tid := contextString(c, JWTTenantIDKey); tid != "" {
			return tid, "jwt"
		}
	}
	if cfg.HeaderEnabled {
		if tid := c.GetHeader(TenantHeaderKey); tid != "" {
			return tid, "header"
		}
	}
	if cfg.SubdomainEnabled && cfg.BaseDomain != "" {
		if tid := tenantFromSubdomain(c.Request.Host, cfg.BaseDomain); tid != "" {
			return tid, "subdomain"
		}
	}
	return "", ""
}

// TenantMiddleware resolves the tenant with the default configuration.
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(DefaultTenantConfig())
}

// OptionalTenantMiddleware resolves the tenant when present but lets
// tenantless requests through. Handlers then fall back to their own
// resolution, which development environments rely on.
func OptionalTenantMiddleware() gin.HandlerFunc {
	cfg := DefaultTenantConfig()
	cfg.Required = false
	return TenantMiddlewareWithConfig(cfg)
}

// TenantMiddlewareWithConfig resolves the tenant for each request and stores
// it in both the gin context and the request context, so application services
// see the tenant in their logs without threading it explicitly.
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.skips(c.Request.URL.Path) {
			c.Next()
			return
		}

		tenantID, source := cfg.lookupTenantID(c)

		if tenantID != "" {
			if _, err := uuid.Parse(tenantID); err != nil {
				abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid tenant ID format")
				return
			}
		}
		if tenantID == "" {
			if cfg.Required {
				abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Tenant identification required")
				return
			}
			c.Next()
			return
		}

		var info *TenantInfo
		if cfg.Validator != nil {
			var err error
			info, err = cfg.Validator.ValidateTenant(tenantID)
			if err != nil {
				log := cfg.Logger
				if log == nil {
					log = logger.FromContext(c.Request.Context())
				}
				log.Warn("Tenant validation failed",
					zap.String("tenant_id", tenantID),
					zap.Error(err),
				)
				abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or inactive tenant")
				return
			}
		}

		c.Set(TenantIDKey, tenantID)
		if info != nil {
			c.Set(TenantCodeKey, info.Code)
		}

		ctx := c.Request.Context()
		ctx, _ = logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID)
		c.Request = c.Request.WithContext(ctx)

		if cfg.Logger != nil {
			cfg.Logger.Debug("Tenant identified",
				zap.String("tenant_id", tenantID),
				zap.String("source", source),
			)
		}

		c.Next()
	}
}

// tenantFromSubdomain maps metro.fleetbill.example (baseDomain
// fleetbill.example) to "metro". Ports, the bare domain and www are ignored.
func tenantFromSubdomain(host, baseDomain string) string {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	if !strings.HasSuffix(host, baseDomain) {
		return ""
	}
	subdomain := strings.TrimSuffix(host, "."+baseDomain)
	if subdomain == host || subdomain == "" || subdomain == "www" {
		return ""
	}
	// keep only the leftmost label of multi-level subdomains
	return strings.Split(subdomain, ".")[0]
}

// GetTenantID returns the resolved tenant ID, or empty when none was set.
func GetTenantID(c *gin.Context) string {
	return contextString(c, TenantIDKey)
}

// GetTenantUUID returns the resolved tenant ID parsed as a UUID. A missing
// tenant yields uuid.Nil without error.
func GetTenantUUID(c *gin.Context) (uuid.UUID, error) {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(tenantID)
}

// GetTenantCode returns the tenant code when a validator supplied one.
func GetTenantCode(c *gin.Context) string {
	return contextString(c, TenantCodeKey)
}

// MustGetTenantID is for handlers behind a Required tenant middleware, where
// a missing tenant is a programming error.
func MustGetTenantID(c *gin.Context) string {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		panic("tenant_id not found in context")
	}
	return tenantID
}

// MustGetTenantUUID is the UUID counterpart of MustGetTenantID.
func MustGetTenantUUID(c *gin.Context) uuid.UUID {
	tenantUUID, err := GetTenantUUID(c)
	if err != nil || tenantUUID == uuid.Nil {
		panic("valid tenant_id not found in context")
	}
	return tenantUUID
}
