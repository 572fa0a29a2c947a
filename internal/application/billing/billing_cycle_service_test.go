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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCycleService(accountRepo *MockAccountRepository, invoiceRepo *MockInvoiceRepository, allocator *MockNumberAllocator) *BillingCycleService {
	clock := shared.FixedClock{Instant: fixedNow}
	invoiceService := NewInvoiceService(accountRepo, invoiceRepo, allocator, clock)
	return NewBillingCycleService(accountRepo, invoiceRepo, invoiceService, clock, zap.NewNop())
}

func TestPreviousPeriod(t *testing.T) {
	// 2026-03-01 is a Sunday
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("daily", func(t *testing.T) {
		start, end := PreviousPeriod(invoice.FrequencyDaily, now)
		assert.True(t, start.Equal(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
		assert.True(t, end.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("weekly runs Monday to Monday", func(t *testing.T) {
		start, end := PreviousPeriod(invoice.FrequencyWeekly, now)
		assert.True(t, start.Equal(time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)))
		assert.True(t, end.Equal(time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("monthly covers the previous calendar month", func(t *testing.T) {
		start, end := PreviousPeriod(invoice.FrequencyMonthly, now)
		assert.True(t, start.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
		assert.True(t, end.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	})
}

func TestBillingCycleService_RunCycle(t *testing.T) {
	t.Run("generates for billable accounts and skips the rest", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		invoiceRepo := new(MockInvoiceRepository)
		allocator := new(MockNumberAllocator)
		svc := newTestCycleService(accountRepo, invoiceRepo, allocator)
		tenantID := uuid.New()

		billable := billedTestAccount(t, tenantID)
		idle := activeTestAccount(t, tenantID)
		covered := activeTestAccount(t, tenantID)

		accountRepo.On("FindActiveForTenant", mock.Anything, tenantID).
			Return([]ledger.Account{*billable, *idle, *covered}, nil)
		invoiceRepo.On("ExistsForPeriod", mock.Anything, tenantID, billable.ID,
			invoice.FrequencyMonthly, mock.Anything).Return(false, nil)
		invoiceRepo.On("ExistsForPeriod", mock.Anything, tenantID, idle.ID,
			invoice.FrequencyMonthly, mock.Anything).Return(false, nil)
		invoiceRepo.On("ExistsForPeriod", mock.Anything, tenantID, covered.ID,
			invoice.FrequencyMonthly, mock.Anything).Return(true, nil)

		accountRepo.On("FindByIDForTenant", mock.Anything, tenantID, billable.ID).Return(billable, nil)
		accountRepo.On("FindByIDForTenant", mock.Anything, tenantID, idle.ID).Return(idle, nil)
		allocator.On("NextInvoiceNumber", mock.Anything, tenantID, fixedNow).Return("INV-20260301-00001", nil)
		invoiceRepo.On("SaveWithEvents", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		result, err := svc.RunCycle(context.Background(), tenantID, invoice.FrequencyMonthly)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Generated)
		assert.Equal(t, 2, result.Skipped) // idle (no charges) + covered (already invoiced)
		assert.Equal(t, 0, result.Failed)
		assert.True(t, result.PeriodStart.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
		assert.True(t, result.PeriodEnd.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("rejects per-ride cycles", func(t *testing.T) {
		svc := newTestCycleService(new(MockAccountRepository), new(MockInvoiceRepository), new(MockNumberAllocator))

		_, err := svc.RunCycle(context.Background(), uuid.New(), invoice.FrequencyPerRide)

		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_CYCLE_FREQUENCY", domainErr.Code)
	})

	t.Run("counts failures without aborting the run", func(t *testing.T) {
		accountRepo := new(MockAccountRepository)
		invoiceRepo := new(MockInvoiceRepository)
		allocator := new(MockNumberAllocator)
		svc := newTestCycleService(accountRepo, invoiceRepo, allocator)
		tenantID := uuid.New()

		broken := billedTestAccount(t, tenantID)
		healthy := activeTestAccount(t, tenantID)
		_, err := healthy.RecordCharge("ride-h1",
			valueobject.MustAmount("10.00", valueobject.USD),
			time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), uuid.Nil, uuid.New(), fixedNow)
		require.NoError(t, err)

		accountRepo.On("FindActiveForTenant", mock.Anything, tenantID).
			Return([]ledger.Account{*broken, *healthy}, nil)
		invoiceRepo.On("ExistsForPeriod", mock.Anything, tenantID, mock.Anything,
			invoice.FrequencyMonthly, mock.Anything).Return(false, nil)
		accountRepo.On("FindByIDForTenant", mock.Anything, tenantID, broken.ID).
			Return(nil, shared.ErrNotFound)
		accountRepo.On("FindByIDForTenant", mock.Anything, tenantID, healthy.ID).Return(healthy, nil)
		allocator.On("NextInvoiceNumber", mock.Anything, tenantID, fixedNow).Return("INV-20260301-00002", nil)
		invoiceRepo.On("SaveWithEvents", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		result, err := svc.RunCycle(context.Background(), tenantID, invoice.FrequencyMonthly)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Generated)
		assert.Equal(t, 1, result.Failed)
	})
}
