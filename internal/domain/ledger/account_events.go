package ledger

import (
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// Event type names for the ledger package
const (
	EventTypeAccountCreated     = "AccountCreated"
	EventTypeChargeRecorded     = "ChargeRecorded"
	EventTypePaymentReceived    = "PaymentReceived"
	EventTypeAccountDeactivated = "AccountDeactivated"
)

// AggregateTypeAccount is the aggregate type name used in event envelopes
const AggregateTypeAccount = "Account"

// AccountCreatedEvent is raised when a new billing account is opened
type AccountCreatedEvent struct {
	shared.BaseDomainEvent
	AccountID uuid.UUID            `json:"account_id"`
	Name      string               `json:"name"`
	Category  AccountCategory      `json:"category"`
	Currency  valueobject.Currency `json:"currency"`
}

// EventType returns the event type name
func (e *AccountCreatedEvent) EventType() string {
	return EventTypeAccountCreated
}

// NewAccountCreatedEvent creates a new AccountCreatedEvent
func NewAccountCreatedEvent(a *Account, occurredAt time.Time) *AccountCreatedEvent {
	return &AccountCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAccountCreated, AggregateTypeAccount, a.ID, a.TenantID, occurredAt),
		AccountID:       a.ID,
		Name:            a.Name,
		Category:        a.Category,
		Currency:        a.Currency,
	}
}

// ChargeRecordedEvent is raised when a ride charge lands on the ledger. It
// carries both posting IDs so downstream consumers can correlate the
// double-entry pair.
type ChargeRecordedEvent struct {
	shared.BaseDomainEvent
	AccountID       uuid.UUID          `json:"account_id"`
	DebitPostingID  uuid.UUID          `json:"debit_posting_id"`
	CreditPostingID uuid.UUID          `json:"credit_posting_id"`
	RideID          string             `json:"ride_id"`
	FleetID         string             `json:"fleet_id,omitempty"`
	Amount          valueobject.Amount `json:"amount"`
	ServiceDate     time.Time          `json:"service_date"`
}

// EventType returns the event type name
func (e *ChargeRecordedEvent) EventType() string {
	return EventTypeChargeRecorded
}

// NewChargeRecordedEvent creates a new ChargeRecordedEvent
func NewChargeRecordedEvent(a *Account, debit, credit *Posting, occurredAt time.Time) *ChargeRecordedEvent {
	return &ChargeRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeChargeRecorded, AggregateTypeAccount, a.ID, a.TenantID, occurredAt),
		AccountID:       a.ID,
		DebitPostingID:  debit.ID(),
		CreditPostingID: credit.ID(),
		RideID:          debit.SourceRef(),
		FleetID:         debit.Metadata()[MetadataKeyFleetID],
		Amount:          debit.Amount(),
		ServiceDate:     debit.TransactionDate(),
	}
}

// PaymentReceivedEvent is raised when a payment lands on the ledger
type PaymentReceivedEvent struct {
	shared.BaseDomainEvent
	AccountID       uuid.UUID           `json:"account_id"`
	DebitPostingID  uuid.UUID           `json:"debit_posting_id"`
	CreditPostingID uuid.UUID           `json:"credit_posting_id"`
	PaymentRef      string              `json:"payment_ref"`
	Mode            PaymentMode         `json:"mode"`
	Amount          valueobject.Amount  `json:"amount"`
	PaymentDate     time.Time           `json:"payment_date"`
	Balance         valueobject.Balance `json:"balance"`
}

// EventType returns the event type name
func (e *PaymentReceivedEvent) EventType() string {
	return EventTypePaymentReceived
}

// NewPaymentReceivedEvent creates a new PaymentReceivedEvent
func NewPaymentReceivedEvent(a *Account, debit, credit *Posting, mode PaymentMode, occurredAt time.Time) *PaymentReceivedEvent {
	return &PaymentReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentReceived, AggregateTypeAccount, a.ID, a.TenantID, occurredAt),
		AccountID:       a.ID,
		DebitPostingID:  debit.ID(),
		CreditPostingID: credit.ID(),
		PaymentRef:      debit.SourceRef(),
		Mode:            mode,
		Amount:          debit.Amount(),
		PaymentDate:     debit.TransactionDate(),
		Balance:         a.Balance(),
	}
}

// AccountDeactivatedEvent is raised when an account is closed to new activity
type AccountDeactivatedEvent struct {
	shared.BaseDomainEvent
	AccountID     uuid.UUID `json:"account_id"`
	Name          string    `json:"name"`
	Reason        string    `json:"reason"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// EventType returns the event type name
func (e *AccountDeactivatedEvent) EventType() string {
	return EventTypeAccountDeactivated
}

// NewAccountDeactivatedEvent creates a new AccountDeactivatedEvent
func NewAccountDeactivatedEvent(a *Account, reason string, occurredAt time.Time) *AccountDeactivatedEvent {
	return &AccountDeactivatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAccountDeactivated, AggregateTypeAccount, a.ID, a.TenantID, occurredAt),
		AccountID:       a.ID,
		Name:            a.Name,
		Reason:          reason,
		DeactivatedAt:   occurredAt,
	}
}
