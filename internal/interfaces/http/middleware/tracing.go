// Package middleware provides HTTP middleware for the billing API.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Length caps for attribute values copied from request headers, so an
// oversized header cannot bloat exported spans.
const (
	MaxRequestIDLength = 128
	MaxTenantIDLength  = 64
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "fleetbill-backend",
		Enabled:     true,
	}
}

// Tracing returns the OpenTelemetry tracing middleware with defaults.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig opens a server span per request via otelgin, named
// "METHOD route_pattern". otelgin runs the remainder of the chain inside
// itself and ends the span when the chain returns, so per-request
// enrichment has to happen in later middleware while the span is still
// recording: see TracingAttributeInjector and SpanErrorMarker.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// TracingAttributeInjector stamps the server span with the request ID and
// the authenticated tenant and user. Place it after the tracing, JWT and
// tenant middleware so the trusted values are available.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if requestID := spanRequestID(c); requestID != "" {
				span.SetAttributes(attribute.String("request_id", requestID))
			}
			if tenantID := spanTenantID(c); tenantID != "" {
				span.SetAttributes(attribute.String("tenant_id", tenantID))
			}
			if userID := contextString(c, JWTUserIDKey); userID != "" {
				span.SetAttributes(attribute.String("user_id", userID))
			}
		}
		c.Next()
	}
}

// SpanErrorMarker marks the server span as errored for 4xx/5xx responses.
// Place it after the Tracing middleware.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		status := c.Writer.Status()
		if status >= http.StatusBadRequest {
			span.SetStatus(codes.Error, statusErrorMessage(status))
			span.SetAttributes(attribute.Int("http.status_code", status))
		}
	}
}

func statusErrorMessage(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "Internal Server Error"
	case status == http.StatusUnauthorized:
		return "Unauthorized"
	case status == http.StatusForbidden:
		return "Forbidden"
	case status == http.StatusNotFound:
		return "Not Found"
	default:
		return "Client Error"
	}
}

// spanRequestID prefers the ID assigned by the RequestID middleware and
// falls back to the raw header, truncated.
func spanRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	headerID := c.GetHeader("X-Request-ID")
	if len(headerID) > MaxRequestIDLength {
		return headerID[:MaxRequestIDLength]
	}
	return headerID
}

// spanTenantID prefers the JWT claim over the header. Header values are
// only accepted when they look like tenant UUIDs, so arbitrary client
// strings never reach trace storage.
func spanTenantID(c *gin.Context) string {
	if id := contextString(c, JWTTenantIDKey); id != "" {
		return id
	}
	headerTenantID := c.GetHeader(TenantHeaderKey)
	if headerTenantID != "" && len(headerTenantID) <= MaxTenantIDLength && uuidRegex.MatchString(headerTenantID) {
		return headerTenantID
	}
	return ""
}
