package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/interfaces/http/dto"
	"github.com/fleetbill/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setJWTContext(c *gin.Context, tenantID, userID uuid.UUID) {
	c.Set(middleware.JWTUserIDKey, userID.String())
	c.Set(middleware.JWTTenantIDKey, tenantID.String())
}

func setupTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/billing/accounts", nil)
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name       string
		setContext string
		setHeader  string
		expected   string
	}{
		{
			name:       "from context",
			setContext: "req-ctx-123",
			expected:   "req-ctx-123",
		},
		{
			name:      "from header when context empty",
			setHeader: "req-hdr-456",
			expected:  "req-hdr-456",
		},
		{
			name:       "context wins over header",
			setContext: "req-ctx-123",
			setHeader:  "req-hdr-456",
			expected:   "req-ctx-123",
		},
		{
			name:     "empty when neither set",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := setupTestContext()
			if tt.setContext != "" {
				c.Set(RequestIDKey, tt.setContext)
			}
			if tt.setHeader != "" {
				c.Request.Header.Set("X-Request-ID", tt.setHeader)
			}
			assert.Equal(t, tt.expected, getRequestID(c))
		})
	}
}

func TestGetUserID(t *testing.T) {
	t.Run("from JWT claims", func(t *testing.T) {
		c, _ := setupTestContext()
		c.Set(middleware.JWTUserIDKey, "7f8b4a6e-1c2d-4e5f-8a9b-0c1d2e3f4a5b")

		userID, err := getUserID(c)
		require.NoError(t, err)
		assert.Equal(t, "7f8b4a6e-1c2d-4e5f-8a9b-0c1d2e3f4a5b", userID.String())
	})

	t.Run("falls back to header", func(t *testing.T) {
		c, _ := setupTestContext()
		c.Request.Header.Set("X-User-ID", "7f8b4a6e-1c2d-4e5f-8a9b-0c1d2e3f4a5b")

		userID, err := getUserID(c)
		require.NoError(t, err)
		assert.Equal(t, "7f8b4a6e-1c2d-4e5f-8a9b-0c1d2e3f4a5b", userID.String())
	})

	t.Run("errors when absent", func(t *testing.T) {
		c, _ := setupTestContext()

		_, err := getUserID(c)
		assert.Error(t, err)
	})

	t.Run("errors on malformed ID", func(t *testing.T) {
		c, _ := setupTestContext()
		c.Request.Header.Set("X-User-ID", "not-a-uuid")

		_, err := getUserID(c)
		assert.Error(t, err)
	})
}

func TestGetTenantID(t *testing.T) {
	t.Run("from JWT claims", func(t *testing.T) {
		c, _ := setupTestContext()
		c.Set(middleware.JWTTenantIDKey, "3a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9")

		tenantID, err := getTenantID(c)
		require.NoError(t, err)
		assert.Equal(t, "3a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9", tenantID.String())
	})

	t.Run("falls back to header", func(t *testing.T) {
		c, _ := setupTestContext()
		c.Request.Header.Set("X-Tenant-ID", "3a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9")

		tenantID, err := getTenantID(c)
		require.NoError(t, err)
		assert.Equal(t, "3a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9", tenantID.String())
	})

	t.Run("defaults to the development tenant", func(t *testing.T) {
		c, _ := setupTestContext()

		tenantID, err := getTenantID(c)
		require.NoError(t, err)
		assert.Equal(t, "00000000-0000-0000-0000-000000000001", tenantID.String())
	})
}

func TestBaseHandlerSuccess(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()

	h.Success(c, map[string]string{"account_number": "FLT-000042"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestBaseHandlerSuccessWithMeta(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()

	h.SuccessWithMeta(c, []string{"FLT-000001", "FLT-000002"}, 25, 2, 10)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(25), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.Page)
	assert.Equal(t, 10, resp.Meta.PageSize)
	assert.Equal(t, 3, resp.Meta.TotalPages)
}

func TestBaseHandlerCreated(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()

	h.Created(c, map[string]string{"invoice_number": "INV-202603-000007"})

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
}

func TestBaseHandlerBadRequest(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()

	h.BadRequest(c, "charge amount must be a decimal string")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	assert.Equal(t, "charge amount must be a decimal string", resp.Error.Message)
}

func TestBaseHandlerInternalError(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()

	h.InternalError(c, "outbox relay unavailable")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeInternal, resp.Error.Code)
}

func TestBaseHandlerErrorIncludesRequestID(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()
	c.Set(RequestIDKey, "req-billing-789")

	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, "bad period bounds")

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-billing-789", resp.Error.RequestID)
}

func TestBaseHandlerHandleError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "not found",
			err:            shared.ErrNotFound,
			expectedStatus: http.StatusNotFound,
			expectedCode:   dto.ErrCodeNotFound,
		},
		{
			name:           "already exists",
			err:            shared.ErrAlreadyExists,
			expectedStatus: http.StatusConflict,
			expectedCode:   dto.ErrCodeAlreadyExists,
		},
		{
			name:           "concurrency conflict",
			err:            shared.ErrConcurrencyConflict,
			expectedStatus: http.StatusConflict,
			expectedCode:   dto.ErrCodeConcurrencyConflict,
		},
		{
			name:           "invalid state",
			err:            shared.ErrInvalidState,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   dto.ErrCodeInvalidState,
		},
		{
			name:           "inactive account rejects charges",
			err:            shared.NewDomainError(ledger.ErrCodeAccountInactive, "Cannot record a charge on an inactive account"),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   dto.ErrCodeAccountInactive,
		},
		{
			name:           "replayed charge reference",
			err:            shared.NewDomainError(ledger.ErrCodeDuplicateCharge, "A charge with this source reference already exists"),
			expectedStatus: http.StatusConflict,
			expectedCode:   dto.ErrCodeDuplicateCharge,
		},
		{
			name:           "empty billing period",
			err:            shared.NewDomainError(invoice.ErrCodeEmptyBillingPeriod, "No billable activity in the requested period"),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   dto.ErrCodeEmptyBillingPeriod,
		},
		{
			name:           "voiding a voided invoice",
			err:            shared.NewDomainError(invoice.ErrCodeInvoiceAlreadyVoided, "Invoice has already been voided"),
			expectedStatus: http.StatusConflict,
			expectedCode:   dto.ErrCodeInvoiceAlreadyVoided,
		},
		{
			name:           "wrapped domain error unwraps",
			err:            fmt.Errorf("loading account: %w", shared.ErrNotFound),
			expectedStatus: http.StatusNotFound,
			expectedCode:   dto.ErrCodeNotFound,
		},
		{
			name:           "plain error maps to internal",
			err:            fmt.Errorf("pq: connection refused"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   dto.ErrCodeInternal,
		},
	}

	h := &BaseHandler{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := setupTestContext()

			h.HandleError(c, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
		})
	}
}

func TestBaseHandlerHandleErrorNil(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()

	h.HandleError(c, nil)

	assert.Empty(t, w.Body.String())
}

func TestBaseHandlerHandleErrorDoesNotLeakInternalMessage(t *testing.T) {
	h := &BaseHandler{}
	c, w := setupTestContext()

	h.HandleError(c, fmt.Errorf("dial tcp 10.0.3.7:5432: i/o timeout"))

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "An unexpected error occurred", resp.Error.Message)
	assert.NotContains(t, resp.Error.Message, "10.0.3.7")
}
