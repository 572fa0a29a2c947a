package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newManualMeter returns a meter whose instruments can be read back through
// the manual reader.
func newManualMeter(t *testing.T) (metric.Meter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp.Meter("http.server.test"), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func newMeteredRouter(meter metric.Meter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsWithMeter(meter, true))
	r.GET("/api/v1/billing/invoices/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"invoice_number": "INV-2026-000017"})
	})
	r.POST("/api/v1/billing/accounts/:id/charges", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	r.GET("/api/v1/billing/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	return r
}

func TestHTTPMetrics_Disabled(t *testing.T) {
	meter, reader := newManualMeter(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsWithMeter(meter, false))
	r.GET("/api/v1/billing/invoices/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/billing/invoices/inv-1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	rm := collect(t, reader)
	_, found := findMetric(rm, "http_server_request_total")
	assert.False(t, found, "disabled middleware must create no instruments")
}

func TestHTTPMetrics_RequestCounter(t *testing.T) {
	meter, reader := newManualMeter(t)
	r := newMeteredRouter(meter)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/billing/invoices/inv-1", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	rm := collect(t, reader)
	m, found := findMetric(rm, "http_server_request_total")
	require.True(t, found)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	dp := sum.DataPoints[0]
	assert.Equal(t, int64(3), dp.Value)

	// the route label is the pattern, not the concrete invoice path
	route, ok := dp.Attributes.Value("http.route")
	require.True(t, ok)
	assert.Equal(t, "/api/v1/billing/invoices/:id", route.AsString())
	status, ok := dp.Attributes.Value("http.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())
}

func TestHTTPMetrics_StatusCodesSplitSeries(t *testing.T) {
	meter, reader := newManualMeter(t)
	r := newMeteredRouter(meter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/billing/invoices/inv-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/billing/missing", nil))

	rm := collect(t, reader)
	m, found := findMetric(rm, "http_server_request_total")
	require.True(t, found)

	sum := m.Data.(metricdata.Sum[int64])
	assert.Len(t, sum.DataPoints, 2, "each status code gets its own series")
}

func TestHTTPMetrics_TenantAttribute(t *testing.T) {
	meter, reader := newManualMeter(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(JWTTenantIDKey, metroTenantID)
		c.Next()
	})
	r.Use(HTTPMetricsWithMeter(meter, true))
	r.GET("/api/v1/billing/invoices", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/billing/invoices", nil))

	rm := collect(t, reader)
	m, found := findMetric(rm, "http_server_request_total")
	require.True(t, found)

	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	tenant, ok := sum.DataPoints[0].Attributes.Value("tenant_id")
	require.True(t, ok)
	assert.Equal(t, metroTenantID, tenant.AsString())
}

func TestHTTPMetrics_Duration(t *testing.T) {
	meter, reader := newManualMeter(t)
	r := newMeteredRouter(meter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/billing/invoices/inv-1", nil))

	rm := collect(t, reader)
	m, found := findMetric(rm, "http_server_request_duration_seconds")
	require.True(t, found)

	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	assert.Equal(t, uint64(1), dp.Count)
	// the duration histogram must not carry the status code
	_, hasStatus := dp.Attributes.Value("http.status_code")
	assert.False(t, hasStatus)
}

func TestHTTPMetrics_PayloadSizes(t *testing.T) {
	meter, reader := newManualMeter(t)
	r := newMeteredRouter(meter)

	body := strings.NewReader(`{"ride_id":"r-1","amount":"12.50","currency":"USD"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/accounts/acc-1/charges", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	// response with a JSON body, to exercise the response size histogram
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/billing/invoices/inv-1", nil))

	rm := collect(t, reader)

	m, found := findMetric(rm, "http_server_request_size_bytes")
	require.True(t, found)
	reqHist := m.Data.(metricdata.Histogram[float64])
	require.Len(t, reqHist.DataPoints, 1)
	assert.Equal(t, uint64(1), reqHist.DataPoints[0].Count)
	assert.Greater(t, reqHist.DataPoints[0].Sum, float64(0))

	m, found = findMetric(rm, "http_server_response_size_bytes")
	require.True(t, found)
	respHist := m.Data.(metricdata.Histogram[float64])
	require.NotEmpty(t, respHist.DataPoints)
}

func TestHTTPMetrics_ActiveRequests(t *testing.T) {
	meter, reader := newManualMeter(t)

	var inFlight int64
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsWithMeter(meter, true))
	r.GET("/api/v1/billing/invoices", func(c *gin.Context) {
		rm := collect(t, reader)
		if m, found := findMetric(rm, "http_server_active_requests"); found {
			sum := m.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				inFlight = dp.Value
			}
		}
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/billing/invoices", nil))

	assert.Equal(t, int64(1), inFlight, "one request in flight while the handler runs")

	rm := collect(t, reader)
	m, found := findMetric(rm, "http_server_active_requests")
	require.True(t, found)
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Zero(t, sum.DataPoints[0].Value, "gauge returns to zero after the request")
}

func TestHTTPMetrics_UnmatchedRoute(t *testing.T) {
	meter, reader := newManualMeter(t)
	r := newMeteredRouter(meter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitely/not/a/route", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	rm := collect(t, reader)
	m, found := findMetric(rm, "http_server_request_total")
	require.True(t, found)

	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	route, ok := sum.DataPoints[0].Attributes.Value("http.route")
	require.True(t, ok)
	assert.Equal(t, "unknown", route.AsString(), "unmatched paths collapse into one series")
}

