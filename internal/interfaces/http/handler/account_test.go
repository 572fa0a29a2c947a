package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	billingapp "github.com/fleetbill/backend/internal/application/billing"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/fleetbill/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAccountRepository implements ledger.AccountRepository for testing
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter ledger.AccountFilter) ([]ledger.Account, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter ledger.AccountFilter) (int64, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountRepository) FindActiveForTenant(ctx context.Context, tenantID uuid.UUID) ([]ledger.Account, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) FindPostings(ctx context.Context, tenantID, accountID uuid.UUID, filter ledger.PostingFilter) ([]ledger.Posting, error) {
	args := m.Called(ctx, tenantID, accountID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Posting), args.Error(1)
}

func (m *MockAccountRepository) Save(ctx context.Context, account *ledger.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) SaveWithLock(ctx context.Context, account *ledger.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) SaveWithEvents(ctx context.Context, account *ledger.Account, events []shared.DomainEvent) error {
	args := m.Called(ctx, account, events)
	return args.Error(0)
}

// Ensure mock implements the interface
var _ ledger.AccountRepository = (*MockAccountRepository)(nil)

// Test helpers

var handlerTestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupAccountTestRouter() (*gin.Engine, *MockAccountRepository, *AccountHandler) {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()

	mockRepo := new(MockAccountRepository)
	service := billingapp.NewAccountService(mockRepo, shared.FixedClock{Instant: handlerTestNow})
	handler := NewAccountHandler(service)

	router := gin.New()
	// Add test authentication middleware that sets JWT context values
	router.Use(func(c *gin.Context) {
		setJWTContext(c, uuid.MustParse("00000000-0000-0000-0000-000000000001"), uuid.New())
		c.Next()
	})

	return router, mockRepo, handler
}

func createTestAccount(t *testing.T, tenantID uuid.UUID) *ledger.Account {
	t.Helper()
	account, _, err := ledger.NewAccount(tenantID, "Downtown Fleet 12",
		ledger.AccountCategoryOrganization, valueobject.USD, uuid.New(), handlerTestNow)
	require.NoError(t, err)
	return account
}

func TestAccountHandler_Create(t *testing.T) {
	t.Run("should create account", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()
		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")

		router.POST("/billing/accounts", handler.Create)

		mockRepo.On("SaveWithEvents", mock.Anything, mock.AnythingOfType("*ledger.Account"), mock.Anything).
			Return(nil)

		reqBody := CreateAccountRequest{
			Name:     "Downtown Fleet 12",
			Category: "ORGANIZATION",
			Currency: "USD",
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.True(t, response["success"].(bool))

		mockRepo.AssertExpectations(t)
	})

	t.Run("should return error for invalid category", func(t *testing.T) {
		router, _, handler := setupAccountTestRouter()

		router.POST("/billing/accounts", handler.Create)

		reqBody := map[string]interface{}{
			"name":     "Downtown Fleet 12",
			"category": "ROBOT",
			"currency": "USD",
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should return error for missing required fields", func(t *testing.T) {
		router, _, handler := setupAccountTestRouter()

		router.POST("/billing/accounts", handler.Create)

		reqBody := map[string]interface{}{
			"name": "Downtown Fleet 12",
			// Missing category and currency
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountHandler_GetByID(t *testing.T) {
	t.Run("should get account by ID", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)

		router.GET("/billing/accounts/:id", handler.GetByID)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)

		req, _ := http.NewRequest(http.MethodGet, "/billing/accounts/"+account.ID.String(), nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.True(t, response["success"].(bool))

		mockRepo.AssertExpectations(t)
	})

	t.Run("should return 404 for non-existent account", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		accountID := uuid.New()

		router.GET("/billing/accounts/:id", handler.GetByID)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, accountID).
			Return(nil, shared.ErrNotFound)

		req, _ := http.NewRequest(http.MethodGet, "/billing/accounts/"+accountID.String(), nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)

		mockRepo.AssertExpectations(t)
	})

	t.Run("should return error for invalid account ID", func(t *testing.T) {
		router, _, handler := setupAccountTestRouter()

		router.GET("/billing/accounts/:id", handler.GetByID)

		req, _ := http.NewRequest(http.MethodGet, "/billing/accounts/invalid-uuid", nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountHandler_List(t *testing.T) {
	t.Run("should list accounts with pagination meta", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		accounts := []ledger.Account{
			*createTestAccount(t, tenantID),
			*createTestAccount(t, tenantID),
		}

		router.GET("/billing/accounts", handler.List)

		mockRepo.On("FindAllForTenant", mock.Anything, tenantID, mock.AnythingOfType("ledger.AccountFilter")).
			Return(accounts, nil)
		mockRepo.On("CountForTenant", mock.Anything, tenantID, mock.AnythingOfType("ledger.AccountFilter")).
			Return(int64(2), nil)

		req, _ := http.NewRequest(http.MethodGet, "/billing/accounts?page=1&page_size=20", nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.True(t, response["success"].(bool))
		meta := response["meta"].(map[string]interface{})
		assert.Equal(t, float64(2), meta["total"])

		mockRepo.AssertExpectations(t)
	})

	t.Run("should filter by status", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")

		router.GET("/billing/accounts", handler.List)

		mockRepo.On("FindAllForTenant", mock.Anything, tenantID,
			mock.MatchedBy(func(filter ledger.AccountFilter) bool {
				return filter.Status != nil && *filter.Status == ledger.AccountStatusInactive
			})).Return([]ledger.Account{}, nil)
		mockRepo.On("CountForTenant", mock.Anything, tenantID, mock.AnythingOfType("ledger.AccountFilter")).
			Return(int64(0), nil)

		req, _ := http.NewRequest(http.MethodGet, "/billing/accounts?status=INACTIVE", nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		mockRepo.AssertExpectations(t)
	})
}

func TestAccountHandler_RecordCharge(t *testing.T) {
	t.Run("should record charge", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)

		router.POST("/billing/accounts/:id/charges", handler.RecordCharge)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)
		mockRepo.On("SaveWithEvents", mock.Anything, account, mock.Anything).
			Return(nil)

		reqBody := RecordChargeRequest{
			RideID:      "ride-2026-08-001942",
			Amount:      23.50,
			ServiceDate: handlerTestNow,
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+account.ID.String()+"/charges", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.True(t, response["success"].(bool))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, float64(2), data["posting_count"])

		mockRepo.AssertExpectations(t)
	})

	t.Run("should return 409 for duplicate ride charge", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)
		_, err := account.RecordCharge("ride-2026-08-001942",
			valueobject.MustAmount("23.50", valueobject.USD), handlerTestNow, uuid.Nil, uuid.New(), handlerTestNow)
		require.NoError(t, err)

		router.POST("/billing/accounts/:id/charges", handler.RecordCharge)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)

		reqBody := RecordChargeRequest{
			RideID:      "ride-2026-08-001942",
			Amount:      23.50,
			ServiceDate: handlerTestNow,
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+account.ID.String()+"/charges", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)

		mockRepo.AssertNotCalled(t, "SaveWithEvents", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should return 422 for inactive account", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)
		_, err := account.Deactivate("Fleet contract terminated", handlerTestNow)
		require.NoError(t, err)

		router.POST("/billing/accounts/:id/charges", handler.RecordCharge)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)

		reqBody := RecordChargeRequest{
			RideID:      "ride-2026-08-001942",
			Amount:      23.50,
			ServiceDate: handlerTestNow,
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+account.ID.String()+"/charges", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("should reject non-positive amount", func(t *testing.T) {
		router, _, handler := setupAccountTestRouter()

		router.POST("/billing/accounts/:id/charges", handler.RecordCharge)

		reqBody := map[string]interface{}{
			"ride_id":      "ride-2026-08-001942",
			"amount":       -5.00,
			"service_date": handlerTestNow,
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+uuid.New().String()+"/charges", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountHandler_RecordPayment(t *testing.T) {
	t.Run("should record payment on inactive account", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)
		_, err := account.RecordCharge("ride-001",
			valueobject.MustAmount("45.50", valueobject.USD), handlerTestNow, uuid.Nil, uuid.New(), handlerTestNow)
		require.NoError(t, err)
		_, err = account.Deactivate("Fleet contract terminated", handlerTestNow)
		require.NoError(t, err)

		router.POST("/billing/accounts/:id/payments", handler.RecordPayment)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)
		mockRepo.On("SaveWithEvents", mock.Anything, account, mock.Anything).
			Return(nil)

		reqBody := RecordPaymentRequest{
			PaymentRef:  "pay-20260830-8812",
			Amount:      30.00,
			PaymentDate: handlerTestNow,
			Mode:        "CARD",
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+account.ID.String()+"/payments", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		mockRepo.AssertExpectations(t)
	})

	t.Run("should reject invalid payment mode", func(t *testing.T) {
		router, _, handler := setupAccountTestRouter()

		router.POST("/billing/accounts/:id/payments", handler.RecordPayment)

		reqBody := map[string]interface{}{
			"payment_ref":  "pay-20260830-8812",
			"amount":       30.00,
			"payment_date": handlerTestNow,
			"mode":         "BARTER",
		}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+uuid.New().String()+"/payments", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountHandler_Deactivate(t *testing.T) {
	t.Run("should deactivate account", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)

		router.POST("/billing/accounts/:id/deactivate", handler.Deactivate)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)
		mockRepo.On("SaveWithEvents", mock.Anything, account, mock.Anything).
			Return(nil)

		reqBody := DeactivateAccountRequest{Reason: "Fleet contract terminated"}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+account.ID.String()+"/deactivate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "INACTIVE", data["status"])

		mockRepo.AssertExpectations(t)
	})

	t.Run("should return 422 when already inactive", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)
		_, err := account.Deactivate("Fleet contract terminated", handlerTestNow)
		require.NoError(t, err)

		router.POST("/billing/accounts/:id/deactivate", handler.Deactivate)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)

		reqBody := DeactivateAccountRequest{Reason: "Again"}
		body, _ := json.Marshal(reqBody)

		req, _ := http.NewRequest(http.MethodPost, "/billing/accounts/"+account.ID.String()+"/deactivate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		mockRepo.AssertNotCalled(t, "SaveWithEvents", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAccountHandler_GetBalance(t *testing.T) {
	t.Run("should return balance", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)
		_, err := account.RecordCharge("ride-001",
			valueobject.MustAmount("45.50", valueobject.USD), handlerTestNow, uuid.Nil, uuid.New(), handlerTestNow)
		require.NoError(t, err)

		router.GET("/billing/accounts/:id/balance", handler.GetBalance)

		mockRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).
			Return(account, nil)

		req, _ := http.NewRequest(http.MethodGet, "/billing/accounts/"+account.ID.String()+"/balance", nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err = json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "45.5", data["balance"])
		assert.Equal(t, "USD", data["currency"])

		mockRepo.AssertExpectations(t)
	})
}

func TestAccountHandler_ListPostings(t *testing.T) {
	t.Run("should list postings with side filter", func(t *testing.T) {
		router, mockRepo, handler := setupAccountTestRouter()

		tenantID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		account := createTestAccount(t, tenantID)
		_, err := account.RecordCharge("ride-001",
			valueobject.MustAmount("45.50", valueobject.USD), handlerTestNow, uuid.Nil, uuid.New(), handlerTestNow)
		require.NoError(t, err)

		router.GET("/billing/accounts/:id/postings", handler.ListPostings)

		accountPostings := account.Postings()
		postings := make([]ledger.Posting, len(accountPostings))
		for i, p := range accountPostings {
			postings[i] = *p
		}
		mockRepo.On("FindPostings", mock.Anything, tenantID, account.ID,
			mock.MatchedBy(func(filter ledger.PostingFilter) bool {
				return filter.Side != nil && *filter.Side == ledger.EntrySideDebit
			})).Return(postings, nil)

		req, _ := http.NewRequest(http.MethodGet, "/billing/accounts/"+account.ID.String()+"/postings?side=DEBIT", nil)
		req.Header.Set("X-Tenant-ID", tenantID.String())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err = json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.True(t, response["success"].(bool))

		mockRepo.AssertExpectations(t)
	})
}
