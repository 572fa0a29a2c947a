package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/fleetbill/backend/internal/infrastructure/event"
	"github.com/fleetbill/backend/internal/infrastructure/persistence"
)

// TestBillingLedgerFlow exercises the account and invoice repositories
// against a real PostgreSQL instance, including the ledger's database-level
// idempotency guarantees that sqlmock cannot verify.
func TestBillingLedgerFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	ctx := context.Background()

	accountRepo := persistence.NewGormAccountRepository(testDB.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(testDB.DB)
	allocator := persistence.NewGormInvoiceNumberAllocator(testDB.DB)

	serializer := event.NewEventSerializer()
	event.RegisterAllEvents(serializer)
	outboxPublisher := event.NewOutboxPublisher(serializer)
	accountRepo.SetOutboxEventSaver(outboxPublisher)
	invoiceRepo.SetOutboxEventSaver(outboxPublisher)
	outboxRepo := event.NewGormOutboxRepository(testDB.DB)

	tenantID := uuid.New()
	actor := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	account, created, err := ledger.NewAccount(tenantID, "Northside Cabs", ledger.AccountCategoryOrganization, valueobject.USD, actor, now)
	require.NoError(t, err)
	require.NoError(t, accountRepo.SaveWithEvents(ctx, account, created))

	t.Run("charge and payment postings round trip", func(t *testing.T) {
		charge := mustAmount(t, "45.50")
		events, err := account.RecordCharge("ride-1001", charge, now, uuid.Nil, actor, now)
		require.NoError(t, err)
		require.NoError(t, accountRepo.SaveWithEvents(ctx, account, events))

		payment := mustAmount(t, "20.00")
		events, err = account.RecordPayment("pay-5001", payment, now.Add(time.Hour), ledger.PaymentModeCard, actor, now.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, accountRepo.SaveWithEvents(ctx, account, events))

		loaded, err := accountRepo.FindByIDForTenant(ctx, tenantID, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, loaded.PostingCount())
		assert.Equal(t, "25.5", loaded.Balance().Amount().String())
	})

	t.Run("unique index rejects replayed charge from a racing writer", func(t *testing.T) {
		// Two copies of the aggregate record the same ride. The in-memory
		// duplicate check cannot see across copies, so the loser must be
		// stopped by idx_posting_source, and with the same code the fast
		// path would have raised.
		copyA, err := accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)
		copyB, err := accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)

		amount := mustAmount(t, "12.25")
		_, err = copyA.RecordCharge("ride-2002", amount, now, uuid.Nil, actor, now)
		require.NoError(t, err)
		_, err = copyB.RecordCharge("ride-2002", amount, now, uuid.Nil, actor, now)
		require.NoError(t, err)

		require.NoError(t, accountRepo.Save(ctx, copyA))
		err = accountRepo.Save(ctx, copyB)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, ledger.ErrCodeDuplicateCharge, domainErr.Code)
		assert.Contains(t, domainErr.Message, "ride-2002")

		// Reload the canonical state so later subtests see the new posting
		account, err = accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)
	})

	t.Run("unique index rejects replayed payment from a racing writer", func(t *testing.T) {
		copyA, err := accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)
		copyB, err := accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)

		amount := mustAmount(t, "5.00")
		_, err = copyA.RecordPayment("pay-6001", amount, now, ledger.PaymentModeCash, actor, now)
		require.NoError(t, err)
		_, err = copyB.RecordPayment("pay-6001", amount, now, ledger.PaymentModeCash, actor, now)
		require.NoError(t, err)

		require.NoError(t, accountRepo.Save(ctx, copyA))
		err = accountRepo.Save(ctx, copyB)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, ledger.ErrCodeDuplicatePayment, domainErr.Code)

		account, err = accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)
	})

	t.Run("optimistic lock rejects stale aggregate", func(t *testing.T) {
		stale, err := accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)
		fresh, err := accountRepo.FindByID(ctx, account.ID)
		require.NoError(t, err)

		_, err = fresh.RecordCharge("ride-3003", mustAmount(t, "8.00"), now, uuid.Nil, actor, now)
		require.NoError(t, err)
		require.NoError(t, accountRepo.SaveWithLock(ctx, fresh))

		_, err = stale.RecordCharge("ride-3004", mustAmount(t, "9.00"), now, uuid.Nil, actor, now)
		require.NoError(t, err)
		err = accountRepo.SaveWithLock(ctx, stale)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "CONCURRENT_MODIFICATION", domainErr.Code)
	})

	t.Run("invoice generation, lookup and void", func(t *testing.T) {
		loaded, err := accountRepo.FindByIDForTenant(ctx, tenantID, account.ID)
		require.NoError(t, err)

		periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		periodEnd := periodStart.AddDate(0, 1, 0)
		charges := loaded.ChargePostingsInPeriod(periodStart, periodEnd)
		require.NotEmpty(t, charges)
		payments := loaded.PaymentsTotalInPeriod(periodStart, periodEnd)

		number, err := allocator.NextInvoiceNumber(ctx, tenantID, now)
		require.NoError(t, err)
		assert.Equal(t, "INV-20260310-00001", number)

		inv, events, err := invoice.GenerateInvoice(number, loaded.ID, tenantID,
			invoice.FrequencyMonthly, periodStart, periodEnd, charges, payments, actor, now)
		require.NoError(t, err)
		require.NoError(t, invoiceRepo.SaveWithEvents(ctx, inv, events))

		found, err := invoiceRepo.FindByInvoiceNumber(ctx, tenantID, number)
		require.NoError(t, err)
		assert.Equal(t, invoice.InvoiceStatusGenerated, found.Status)
		require.Len(t, found.LineItems(), 1)
		assert.Len(t, found.LineItems()[0].TracedPostingIDs, len(charges))
		assert.True(t, found.Subtotal.Equals(inv.Subtotal))

		exists, err := invoiceRepo.ExistsForPeriod(ctx, tenantID, loaded.ID, invoice.FrequencyMonthly, periodStart)
		require.NoError(t, err)
		assert.True(t, exists)

		voidEvents, err := found.Void("billing dispute", now.Add(2*time.Hour))
		require.NoError(t, err)
		require.NoError(t, invoiceRepo.SaveWithEvents(ctx, found, voidEvents))

		reloaded, err := invoiceRepo.FindByInvoiceNumber(ctx, tenantID, number)
		require.NoError(t, err)
		assert.True(t, reloaded.IsVoided())

		next, err := allocator.NextInvoiceNumber(ctx, tenantID, now)
		require.NoError(t, err)
		assert.Equal(t, "INV-20260310-00002", next)
	})

	t.Run("domain events land in the outbox", func(t *testing.T) {
		pending, err := outboxRepo.FindPending(ctx, 50)
		require.NoError(t, err)
		require.NotEmpty(t, pending)

		types := make(map[string]bool)
		for _, entry := range pending {
			types[entry.EventType] = true
		}
		assert.True(t, types[ledger.EventTypeAccountCreated])
		assert.True(t, types[ledger.EventTypeChargeRecorded])
		assert.True(t, types[ledger.EventTypePaymentReceived])
		assert.True(t, types[invoice.EventTypeInvoiceGenerated])
		assert.True(t, types[invoice.EventTypeInvoiceVoided])
	})

	t.Run("outstanding receivables aggregate per currency", func(t *testing.T) {
		balances, err := accountRepo.OutstandingReceivables(ctx, tenantID)
		require.NoError(t, err)
		require.Contains(t, balances, "USD")
		// 45.50 + 12.25 + 8.00 charged, 20.00 + 5.00 paid
		assert.Equal(t, "40.75", balances["USD"].String())
	})
}

func mustAmount(t *testing.T, magnitude string) valueobject.Amount {
	t.Helper()
	a, err := valueobject.NewAmountFromString(magnitude, valueobject.USD)
	require.NoError(t, err)
	return a
}
