package billing

import (
	"context"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BillingMetricsRecorder receives billing activity observations. It is
// implemented by the telemetry layer; amounts are reported in minor units
// (cents) to keep the metric pipeline integer-only.
type BillingMetricsRecorder interface {
	RecordCharge(ctx context.Context, tenantID uuid.UUID, sourceKind, currency string, amountMinor int64)
	RecordPayment(ctx context.Context, tenantID uuid.UUID, sourceKind, currency string, amountMinor int64)
	RecordInvoiceGenerated(ctx context.Context, tenantID uuid.UUID, frequency string)
	RecordInvoiceVoided(ctx context.Context, tenantID uuid.UUID)
}

// MetricsEventHandler translates billing domain events into metric
// observations. It subscribes to ledger and invoice events on the in-process
// bus so instrumentation stays out of the command path.
type MetricsEventHandler struct {
	recorder BillingMetricsRecorder
	logger   *zap.Logger
}

// NewMetricsEventHandler creates a new handler for billing metric events
func NewMetricsEventHandler(recorder BillingMetricsRecorder, logger *zap.Logger) *MetricsEventHandler {
	return &MetricsEventHandler{
		recorder: recorder,
		logger:   logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *MetricsEventHandler) EventTypes() []string {
	return []string{
		ledger.EventTypeChargeRecorded,
		ledger.EventTypePaymentReceived,
		invoice.EventTypeInvoiceGenerated,
		invoice.EventTypeInvoiceVoided,
	}
}

// Handle records the metric matching the event type. Unknown event types are
// ignored so bus wiring changes never break metric collection.
func (h *MetricsEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *ledger.ChargeRecordedEvent:
		h.recorder.RecordCharge(ctx, e.TenantID(), string(ledger.SourceKindRide),
			string(e.Amount.Currency()), amountMinor(e.Amount))
	case *ledger.PaymentReceivedEvent:
		h.recorder.RecordPayment(ctx, e.TenantID(), string(ledger.SourceKindPayment),
			string(e.Amount.Currency()), amountMinor(e.Amount))
	case *invoice.InvoiceGeneratedEvent:
		h.recorder.RecordInvoiceGenerated(ctx, e.TenantID(), string(e.Frequency))
	case *invoice.InvoiceVoidedEvent:
		h.recorder.RecordInvoiceVoided(ctx, e.TenantID())
	default:
		h.logger.Debug("ignoring event without metric mapping",
			zap.String("event_type", event.EventType()),
		)
	}
	return nil
}

// amountMinor converts a monetary amount to integer minor units (cents)
func amountMinor(a valueobject.Amount) int64 {
	return a.Magnitude().Shift(2).IntPart()
}
