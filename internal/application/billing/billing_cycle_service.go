package billing

import (
	"context"
	"errors"
	"time"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BillingCycleService runs scheduled invoice generation across a tenant's
// active accounts. Each run covers the most recent fully elapsed period for
// the given frequency and is idempotent: periods that already have a
// non-voided invoice are skipped, as are accounts with no charges in the
// period.
type BillingCycleService struct {
	accountRepo    ledger.AccountRepository
	invoiceRepo    invoice.InvoiceRepository
	invoiceService *InvoiceService
	clock          shared.Clock
	logger         *zap.Logger
}

// NewBillingCycleService creates a new BillingCycleService
func NewBillingCycleService(
	accountRepo ledger.AccountRepository,
	invoiceRepo invoice.InvoiceRepository,
	invoiceService *InvoiceService,
	clock shared.Clock,
	logger *zap.Logger,
) *BillingCycleService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &BillingCycleService{
		accountRepo:    accountRepo,
		invoiceRepo:    invoiceRepo,
		invoiceService: invoiceService,
		clock:          clock,
		logger:         logger,
	}
}

// CycleResult summarizes one billing cycle run
type CycleResult struct {
	Frequency   invoice.BillingFrequency `json:"frequency"`
	PeriodStart time.Time                `json:"period_start"`
	PeriodEnd   time.Time                `json:"period_end"`
	Generated   int                      `json:"generated"`
	Skipped     int                      `json:"skipped"`
	Failed      int                      `json:"failed"`
}

// RunCycle generates invoices for every active account of the tenant over
// the most recent complete period for the frequency
func (s *BillingCycleService) RunCycle(ctx context.Context, tenantID uuid.UUID, frequency invoice.BillingFrequency) (_ *CycleResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing_cycle", "run",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrFrequency, string(frequency)))
	defer func() { endSpan(span, err) }()

	if !frequency.IsValid() || frequency == invoice.FrequencyPerRide {
		return nil, shared.NewDomainError("INVALID_CYCLE_FREQUENCY",
			"Scheduled billing cycles support DAILY, WEEKLY and MONTHLY only")
	}

	now := s.clock.Now()
	periodStart, periodEnd := PreviousPeriod(frequency, now)

	result := &CycleResult{
		Frequency:   frequency,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	accounts, err := s.accountRepo.FindActiveForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		account := &accounts[i]

		exists, err := s.invoiceRepo.ExistsForPeriod(ctx, tenantID, account.ID, frequency, periodStart)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped++
			continue
		}

		_, err = s.invoiceService.GenerateInvoice(ctx, tenantID, GenerateInvoiceRequest{
			AccountID:   account.ID,
			Frequency:   string(frequency),
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		})
		if err != nil {
			var domainErr *shared.DomainError
			if errors.As(err, &domainErr) && domainErr.Code == invoice.ErrCodeEmptyBillingPeriod {
				result.Skipped++
				continue
			}
			result.Failed++
			telemetry.AddEvent(span, "invoice_generation_failed",
				telemetry.SpanAttrAccountID, account.ID)
			s.logger.Warn("billing cycle: invoice generation failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("account_id", account.ID.String()),
				zap.String("frequency", string(frequency)),
				zap.Error(err))
			continue
		}
		result.Generated++
	}

	telemetry.SetAttributes(span,
		"generated", result.Generated,
		"skipped", result.Skipped,
		"failed", result.Failed)
	s.logger.Info("billing cycle completed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("frequency", string(frequency)),
		zap.Time("period_start", periodStart),
		zap.Time("period_end", periodEnd),
		zap.Int("generated", result.Generated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))

	return result, nil
}

// PreviousPeriod returns the most recent fully elapsed billing period for
// the frequency, as of the given instant. Daily is the previous UTC day,
// weekly the previous ISO week (Monday to Monday), monthly the previous
// calendar month.
func PreviousPeriod(frequency invoice.BillingFrequency, now time.Time) (time.Time, time.Time) {
	u := now.UTC()
	today := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)

	switch frequency {
	case invoice.FrequencyWeekly:
		offset := (int(today.Weekday()) + 6) % 7
		thisMonday := today.AddDate(0, 0, -offset)
		return thisMonday.AddDate(0, 0, -7), thisMonday
	case invoice.FrequencyMonthly:
		thisMonth := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
		return thisMonth.AddDate(0, -1, 0), thisMonth
	default:
		return today.AddDate(0, 0, -1), today
	}
}
