package billing

import (
	"context"
	"testing"
	"time"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestInvoiceService(accountRepo *MockAccountRepository, invoiceRepo *MockInvoiceRepository, allocator *MockNumberAllocator) *InvoiceService {
	return NewInvoiceService(accountRepo, invoiceRepo, allocator, shared.FixedClock{Instant: fixedNow})
}

// billedTestAccount returns an account with two February charges and one
// February payment
func billedTestAccount(t *testing.T, tenantID uuid.UUID) *ledger.Account {
	account := activeTestAccount(t, tenantID)
	_, err := account.RecordCharge("ride-001",
		valueobject.MustAmount("45.50", valueobject.USD),
		time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC), uuid.Nil, uuid.New(), fixedNow)
	require.NoError(t, err)
	_, err = account.RecordCharge("ride-002",
		valueobject.MustAmount("62.75", valueobject.USD),
		time.Date(2026, 2, 15, 17, 0, 0, 0, time.UTC), uuid.Nil, uuid.New(), fixedNow)
	require.NoError(t, err)
	_, err = account.RecordPayment("pay-001",
		valueobject.MustAmount("30.00", valueobject.USD),
		time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), ledger.PaymentModeCard, uuid.New(), fixedNow)
	require.NoError(t, err)
	return account
}

func TestInvoiceService_GenerateInvoice(t *testing.T) {
	februaryFrom := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	februaryTo := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("generates monthly invoice from period postings", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		invoiceRepo := new(MockInvoiceRepository)
		allocator := new(MockNumberAllocator)
		svc := newTestInvoiceService(accountRepo, invoiceRepo, allocator)
		tenantID := uuid.New()
		account := billedTestAccount(t, tenantID)

		accountRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).Return(account, nil)
		allocator.On("NextInvoiceNumber", mock.Anything, tenantID, fixedNow).Return("INV-20260301-00001", nil)
		invoiceRepo.On("SaveWithEvents", mock.Anything, mock.AnythingOfType("*invoice.Invoice"),
			mock.MatchedBy(func(events []shared.DomainEvent) bool {
				return len(events) == 1 && events[0].EventType() == invoice.EventTypeInvoiceGenerated
			})).Return(nil)

		resp, err := svc.GenerateInvoice(context.Background(), tenantID, GenerateInvoiceRequest{
			AccountID:   account.ID,
			Frequency:   "MONTHLY",
			PeriodStart: februaryFrom,
			PeriodEnd:   februaryTo,
		})

		require.NoError(t, err)
		assert.Equal(t, "INV-20260301-00001", resp.InvoiceNumber)
		assert.True(t, resp.Subtotal.Equal(decimal.RequireFromString("108.25")))
		assert.True(t, resp.TotalPaymentsApplied.Equal(decimal.RequireFromString("30")))
		assert.True(t, resp.Outstanding.Equal(decimal.RequireFromString("78.25")))
		require.Len(t, resp.LineItems, 1)
		assert.Len(t, resp.LineItems[0].TracedPostingIDs, 2)
		invoiceRepo.AssertExpectations(t)
	})

	t.Run("fails when the period holds no charges", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		invoiceRepo := new(MockInvoiceRepository)
		allocator := new(MockNumberAllocator)
		svc := newTestInvoiceService(accountRepo, invoiceRepo, allocator)
		tenantID := uuid.New()
		account := activeTestAccount(t, tenantID)

		accountRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).Return(account, nil)
		allocator.On("NextInvoiceNumber", mock.Anything, tenantID, fixedNow).Return("INV-20260301-00002", nil)

		_, err := svc.GenerateInvoice(context.Background(), tenantID, GenerateInvoiceRequest{
			AccountID:   account.ID,
			Frequency:   "MONTHLY",
			PeriodStart: februaryFrom,
			PeriodEnd:   februaryTo,
		})

		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, invoice.ErrCodeEmptyBillingPeriod, domainErr.Code)
		invoiceRepo.AssertNotCalled(t, "SaveWithEvents", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("only postings inside the window are billed", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		invoiceRepo := new(MockInvoiceRepository)
		allocator := new(MockNumberAllocator)
		svc := newTestInvoiceService(accountRepo, invoiceRepo, allocator)
		tenantID := uuid.New()
		account := billedTestAccount(t, tenantID)
		// A March ride outside the February window
		_, err := account.RecordCharge("ride-003",
			valueobject.MustAmount("99.00", valueobject.USD),
			time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), uuid.Nil, uuid.New(), fixedNow)
		require.NoError(t, err)

		accountRepo.On("FindByIDForTenant", mock.Anything, tenantID, account.ID).Return(account, nil)
		allocator.On("NextInvoiceNumber", mock.Anything, tenantID, fixedNow).Return("INV-20260301-00003", nil)
		invoiceRepo.On("SaveWithEvents", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		resp, err := svc.GenerateInvoice(context.Background(), tenantID, GenerateInvoiceRequest{
			AccountID:   account.ID,
			Frequency:   "PER_RIDE",
			PeriodStart: februaryFrom,
			PeriodEnd:   februaryTo,
		})

		require.NoError(t, err)
		assert.Len(t, resp.LineItems, 2)
		assert.True(t, resp.Subtotal.Equal(decimal.RequireFromString("108.25")))
	})
}

func TestInvoiceService_VoidInvoice(t *testing.T) {
	februaryFrom := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	februaryTo := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	makeInvoice := func(t *testing.T, tenantID uuid.UUID) *invoice.Invoice {
		account := billedTestAccount(t, tenantID)
		inv, _, err := invoice.GenerateInvoice("INV-20260301-00001", account.ID, tenantID,
			invoice.FrequencyMonthly, februaryFrom, februaryTo,
			account.ChargePostingsInPeriod(februaryFrom, februaryTo),
			account.PaymentsTotalInPeriod(februaryFrom, februaryTo),
			uuid.New(), fixedNow)
		require.NoError(t, err)
		return inv
	}

	t.Run("voids a generated invoice", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		invoiceRepo := new(MockInvoiceRepository)
		allocator := new(MockNumberAllocator)
		svc := newTestInvoiceService(accountRepo, invoiceRepo, allocator)
		tenantID := uuid.New()
		inv := makeInvoice(t, tenantID)

		invoiceRepo.On("FindByIDForTenant", mock.Anything, tenantID, inv.ID).Return(inv, nil)
		invoiceRepo.On("SaveWithEvents", mock.Anything, inv,
			mock.MatchedBy(func(events []shared.DomainEvent) bool {
				return len(events) == 1 && events[0].EventType() == invoice.EventTypeInvoiceVoided
			})).Return(nil)

		resp, err := svc.VoidInvoice(context.Background(), tenantID, inv.ID, VoidInvoiceRequest{Reason: "dispute"})

		require.NoError(t, err)
		assert.Equal(t, "VOIDED", resp.Status)
		invoiceRepo.AssertExpectations(t)
	})

	t.Run("double void surfaces the conflict", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		invoiceRepo := new(MockInvoiceRepository)
		allocator := new(MockNumberAllocator)
		svc := newTestInvoiceService(accountRepo, invoiceRepo, allocator)
		tenantID := uuid.New()
		inv := makeInvoice(t, tenantID)
		_, err := inv.Void("first", fixedNow)
		require.NoError(t, err)

		invoiceRepo.On("FindByIDForTenant", mock.Anything, tenantID, inv.ID).Return(inv, nil)

		_, err = svc.VoidInvoice(context.Background(), tenantID, inv.ID, VoidInvoiceRequest{Reason: "second"})

		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, invoice.ErrCodeInvoiceAlreadyVoided, domainErr.Code)
		invoiceRepo.AssertNotCalled(t, "SaveWithEvents", mock.Anything, mock.Anything, mock.Anything)
	})
}
