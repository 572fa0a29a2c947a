package invoice

import (
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// Event type names for the invoice package
const (
	EventTypeInvoiceGenerated = "InvoiceGenerated"
	EventTypeInvoiceVoided    = "InvoiceVoided"
)

// AggregateTypeInvoice is the aggregate type name used in event envelopes
const AggregateTypeInvoice = "Invoice"

// InvoiceGeneratedEvent is raised when an invoice is derived from the ledger
type InvoiceGeneratedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID           `json:"invoice_id"`
	InvoiceNumber string              `json:"invoice_number"`
	AccountID     uuid.UUID           `json:"account_id"`
	Frequency     BillingFrequency    `json:"frequency"`
	PeriodStart   time.Time           `json:"period_start"`
	PeriodEnd     time.Time           `json:"period_end"`
	LineItemCount int                 `json:"line_item_count"`
	Subtotal      valueobject.Amount  `json:"subtotal"`
	Outstanding   valueobject.Balance `json:"outstanding"`
}

// EventType returns the event type name
func (e *InvoiceGeneratedEvent) EventType() string {
	return EventTypeInvoiceGenerated
}

// NewInvoiceGeneratedEvent creates a new InvoiceGeneratedEvent
func NewInvoiceGeneratedEvent(inv *Invoice, occurredAt time.Time) *InvoiceGeneratedEvent {
	return &InvoiceGeneratedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceGenerated, AggregateTypeInvoice, inv.ID, inv.TenantID, occurredAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		AccountID:       inv.AccountID,
		Frequency:       inv.Frequency,
		PeriodStart:     inv.PeriodStart,
		PeriodEnd:       inv.PeriodEnd,
		LineItemCount:   inv.LineItemCount(),
		Subtotal:        inv.Subtotal,
		Outstanding:     inv.Outstanding(),
	}
}

// InvoiceVoidedEvent is raised when an invoice is voided
type InvoiceVoidedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	AccountID     uuid.UUID `json:"account_id"`
	Reason        string    `json:"reason"`
	VoidedAt      time.Time `json:"voided_at"`
}

// EventType returns the event type name
func (e *InvoiceVoidedEvent) EventType() string {
	return EventTypeInvoiceVoided
}

// NewInvoiceVoidedEvent creates a new InvoiceVoidedEvent
func NewInvoiceVoidedEvent(inv *Invoice, reason string, occurredAt time.Time) *InvoiceVoidedEvent {
	return &InvoiceVoidedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceVoided, AggregateTypeInvoice, inv.ID, inv.TenantID, occurredAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		AccountID:       inv.AccountID,
		Reason:          reason,
		VoidedAt:        occurredAt,
	}
}
