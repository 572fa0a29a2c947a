package event

import (
	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
)

// RegisterAllEvents registers all domain event types with the serializer.
// This is required for the OutboxProcessor to deserialize events from the
// outbox table.
func RegisterAllEvents(serializer *EventSerializer) {
	// Ledger events
	serializer.Register(ledger.EventTypeAccountCreated, &ledger.AccountCreatedEvent{})
	serializer.Register(ledger.EventTypeChargeRecorded, &ledger.ChargeRecordedEvent{})
	serializer.Register(ledger.EventTypePaymentReceived, &ledger.PaymentReceivedEvent{})
	serializer.Register(ledger.EventTypeAccountDeactivated, &ledger.AccountDeactivatedEvent{})

	// Invoice events
	serializer.Register(invoice.EventTypeInvoiceGenerated, &invoice.InvoiceGeneratedEvent{})
	serializer.Register(invoice.EventTypeInvoiceVoided, &invoice.InvoiceVoidedEvent{})
}
