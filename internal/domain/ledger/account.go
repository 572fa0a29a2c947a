package ledger

import (
	"fmt"
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// AccountCategory distinguishes the kind of financially responsible party
type AccountCategory string

const (
	AccountCategoryOrganization AccountCategory = "ORGANIZATION"
	AccountCategoryIndividual   AccountCategory = "INDIVIDUAL"
)

// IsValid checks if the category is a valid AccountCategory
func (c AccountCategory) IsValid() bool {
	return c == AccountCategoryOrganization || c == AccountCategoryIndividual
}

// String returns the string representation of AccountCategory
func (c AccountCategory) String() string {
	return string(c)
}

// AccountStatus represents the lifecycle status of a billing account
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
)

// IsValid checks if the status is a valid AccountStatus
func (s AccountStatus) IsValid() bool {
	return s == AccountStatusActive || s == AccountStatusInactive
}

// PaymentMode is how a payment was made
type PaymentMode string

const (
	PaymentModeCard         PaymentMode = "CARD"
	PaymentModeBankTransfer PaymentMode = "BANK_TRANSFER"
	PaymentModeWallet       PaymentMode = "WALLET"
	PaymentModeCash         PaymentMode = "CASH"
)

// IsValid checks if the payment mode is valid
func (m PaymentMode) IsValid() bool {
	switch m {
	case PaymentModeCard, PaymentModeBankTransfer, PaymentModeWallet, PaymentModeCash:
		return true
	}
	return false
}

// Metadata keys attached to postings
const (
	MetadataKeyFleetID     = "fleet_id"
	MetadataKeyPaymentMode = "payment_mode"
)

// Domain error codes raised by Account commands
const (
	ErrCodeAccountInactive  = "ACCOUNT_INACTIVE"
	ErrCodeDuplicateCharge  = "DUPLICATE_CHARGE"
	ErrCodeDuplicatePayment = "DUPLICATE_PAYMENT"
)

// MaxAccountNameLength bounds the display name
const MaxAccountNameLength = 200

// Account is the billing ledger aggregate root for one financially
// responsible party. It owns an append-only list of postings; every charge
// and payment adds exactly two postings of equal magnitude, one debit and
// one credit (double-entry). Accounts are never physically deleted.
//
// Commands return the domain events they emitted. The caller persists the
// aggregate and forwards the events to the outbox in the same transaction.
type Account struct {
	shared.TenantAggregateRoot
	Name               string
	Category           AccountCategory
	Status             AccountStatus
	Currency           valueobject.Currency
	DeactivatedAt      *time.Time
	DeactivationReason string

	postings []*Posting
}

// NewAccount creates a new active billing account and emits AccountCreated
func NewAccount(
	tenantID uuid.UUID,
	name string,
	category AccountCategory,
	currency valueobject.Currency,
	createdBy uuid.UUID,
	now time.Time,
) (*Account, []shared.DomainEvent, error) {
	if name == "" {
		return nil, nil, shared.NewDomainError("INVALID_ACCOUNT_NAME", "Account name cannot be empty")
	}
	if len(name) > MaxAccountNameLength {
		return nil, nil, shared.NewDomainError("INVALID_ACCOUNT_NAME",
			fmt.Sprintf("Account name cannot exceed %d characters", MaxAccountNameLength))
	}
	if !category.IsValid() {
		return nil, nil, shared.NewDomainError("INVALID_ACCOUNT_CATEGORY", "Account category is not valid")
	}
	if tenantID == uuid.Nil {
		return nil, nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}

	a := &Account{
		TenantAggregateRoot: shared.NewTenantAggregateRootWithCreator(tenantID, createdBy, now),
		Name:                name,
		Category:            category,
		Status:              AccountStatusActive,
		Currency:            currency,
	}

	return a, []shared.DomainEvent{NewAccountCreatedEvent(a, now)}, nil
}

// RecordCharge records a ride charge as a debit to accounts receivable and a
// matching credit to revenue. At most one charge may exist per ride
// reference; replays fail with DUPLICATE_CHARGE. The in-memory check is
// best-effort only, the repository's uniqueness constraint on
// (account, source kind, source ref) is what rejects the losing writer when
// two copies of the aggregate race.
func (a *Account) RecordCharge(
	rideID string,
	amount valueobject.Amount,
	serviceDate time.Time,
	fleetID uuid.UUID,
	actor uuid.UUID,
	now time.Time,
) ([]shared.DomainEvent, error) {
	if a.Status != AccountStatusActive {
		return nil, shared.NewDomainError(ErrCodeAccountInactive,
			"Cannot record a charge against an inactive account")
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError(valueobject.ErrCodeInvalidAmount, "Charge amount must be positive")
	}
	if amount.Currency() != a.Currency {
		return nil, shared.NewDomainError(valueobject.ErrCodeInvalidAmount,
			fmt.Sprintf("Charge currency %s does not match account currency %s", amount.Currency(), a.Currency))
	}
	if a.hasPostingForSource(SourceKindRide, rideID) {
		return nil, shared.NewDomainError(ErrCodeDuplicateCharge,
			fmt.Sprintf("A charge already exists for ride %s", rideID))
	}

	metadata := map[string]string{}
	if fleetID != uuid.Nil {
		metadata[MetadataKeyFleetID] = fleetID.String()
	}

	debit, err := NewDebitPosting(a.ID, a.TenantID, LedgerAccountReceivable, amount,
		SourceKindRide, rideID, serviceDate, metadata, actor, now)
	if err != nil {
		return nil, err
	}
	credit, err := NewCreditPosting(a.ID, a.TenantID, LedgerAccountRevenue, amount,
		SourceKindRide, rideID, serviceDate, metadata, actor, now)
	if err != nil {
		return nil, err
	}

	a.postings = append(a.postings, debit, credit)
	a.UpdatedAt = now
	a.IncrementVersion()

	return []shared.DomainEvent{NewChargeRecordedEvent(a, debit, credit, now)}, nil
}

// RecordPayment records a received payment as a debit to cash and a matching
// credit to accounts receivable. Duplicate payment references are rejected
// account-wide. Overpayment is explicitly allowed: the aggregate never
// compares the payment against outstanding charges, so the balance may go
// negative (a credit balance).
func (a *Account) RecordPayment(
	paymentRef string,
	amount valueobject.Amount,
	paymentDate time.Time,
	mode PaymentMode,
	actor uuid.UUID,
	now time.Time,
) ([]shared.DomainEvent, error) {
	if a.Status != AccountStatusActive {
		return nil, shared.NewDomainError(ErrCodeAccountInactive,
			"Cannot record a payment against an inactive account")
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError(valueobject.ErrCodeInvalidAmount, "Payment amount must be positive")
	}
	if amount.Currency() != a.Currency {
		return nil, shared.NewDomainError(valueobject.ErrCodeInvalidAmount,
			fmt.Sprintf("Payment currency %s does not match account currency %s", amount.Currency(), a.Currency))
	}
	if !mode.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_MODE", "Payment mode is not valid")
	}
	if a.hasPostingForSource(SourceKindPayment, paymentRef) {
		return nil, shared.NewDomainError(ErrCodeDuplicatePayment,
			fmt.Sprintf("A payment already exists for reference %s", paymentRef))
	}

	metadata := map[string]string{MetadataKeyPaymentMode: string(mode)}

	debit, err := NewDebitPosting(a.ID, a.TenantID, LedgerAccountCash, amount,
		SourceKindPayment, paymentRef, paymentDate, metadata, actor, now)
	if err != nil {
		return nil, err
	}
	credit, err := NewCreditPosting(a.ID, a.TenantID, LedgerAccountReceivable, amount,
		SourceKindPayment, paymentRef, paymentDate, metadata, actor, now)
	if err != nil {
		return nil, err
	}

	a.postings = append(a.postings, debit, credit)
	a.UpdatedAt = now
	a.IncrementVersion()

	return []shared.DomainEvent{NewPaymentReceivedEvent(a, debit, credit, mode, now)}, nil
}

// Deactivate transitions the account to Inactive. The transition is one-way;
// there is no path back to Active. Calling it on an already inactive account
// succeeds without emitting another event.
func (a *Account) Deactivate(reason string, now time.Time) ([]shared.DomainEvent, error) {
	if a.Status == AccountStatusInactive {
		return nil, nil
	}
	if reason == "" {
		return nil, shared.NewDomainError("INVALID_REASON", "Deactivation reason is required")
	}

	a.Status = AccountStatusInactive
	a.DeactivatedAt = &now
	a.DeactivationReason = reason
	a.UpdatedAt = now
	a.IncrementVersion()

	return []shared.DomainEvent{NewAccountDeactivatedEvent(a, reason, now)}, nil
}

// Balance returns the signed accounts-receivable balance: the sum of AR
// debit magnitudes minus the sum of AR credit magnitudes. It may be negative
// after overpayment even though no stored posting ever carries a negative
// magnitude. Pure query, no side effects.
func (a *Account) Balance() valueobject.Balance {
	bal := valueobject.ZeroBalance(a.Currency)
	for _, p := range a.postings {
		if p.LedgerAccount() != LedgerAccountReceivable {
			continue
		}
		var err error
		if p.IsDebit() {
			bal, err = bal.AddAmount(p.Amount())
		} else {
			bal, err = bal.SubAmount(p.Amount())
		}
		shared.Invariant(err == nil, "account %s holds posting %s in foreign currency", a.ID, p.ID())
	}
	return bal
}

// Postings returns a copy of the ordered posting list
func (a *Account) Postings() []*Posting {
	out := make([]*Posting, len(a.postings))
	copy(out, a.postings)
	return out
}

// PostingCount returns the number of postings on the account
func (a *Account) PostingCount() int {
	return len(a.postings)
}

// ChargePostingsInPeriod returns the AR debit postings for rides with a
// transaction date in [start, end). This is the posting set invoice
// generation consumes.
func (a *Account) ChargePostingsInPeriod(start, end time.Time) []*Posting {
	var out []*Posting
	for _, p := range a.postings {
		if p.LedgerAccount() != LedgerAccountReceivable || !p.IsDebit() {
			continue
		}
		if p.SourceKind() != SourceKindRide {
			continue
		}
		if inPeriod(p.TransactionDate(), start, end) {
			out = append(out, p)
		}
	}
	return out
}

// PaymentsTotalInPeriod sums the AR credit postings for payments with a
// transaction date in [start, end).
func (a *Account) PaymentsTotalInPeriod(start, end time.Time) valueobject.Amount {
	total := valueobject.ZeroAmount(a.Currency)
	for _, p := range a.postings {
		if p.LedgerAccount() != LedgerAccountReceivable || !p.IsCredit() {
			continue
		}
		if p.SourceKind() != SourceKindPayment {
			continue
		}
		if !inPeriod(p.TransactionDate(), start, end) {
			continue
		}
		sum, err := total.Add(p.Amount())
		shared.Invariant(err == nil, "account %s holds posting %s in foreign currency", a.ID, p.ID())
		total = sum
	}
	return total
}

// IsActive returns true if the account can accept charges and payments
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

func (a *Account) hasPostingForSource(kind SourceKind, ref string) bool {
	for _, p := range a.postings {
		if p.SourceKind() == kind && p.SourceRef() == ref {
			return true
		}
	}
	return false
}

func inPeriod(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// AccountSnapshot carries the full, validated state of a stored account.
type AccountSnapshot struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	CreatedBy          *uuid.UUID
	Version            int
	Name               string
	Category           AccountCategory
	Status             AccountStatus
	Currency           valueobject.Currency
	DeactivatedAt      *time.Time
	DeactivationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Postings           []*Posting
}

// ReconstituteAccount rebuilds an Account from a persistence snapshot. This
// replaces any reflection-based rehydration: the snapshot is validated and
// the aggregate comes back through a front door.
func ReconstituteAccount(s AccountSnapshot) (*Account, error) {
	if s.ID == uuid.Nil {
		return nil, shared.NewDomainError("CORRUPT_ACCOUNT", "Account ID cannot be empty")
	}
	if !s.Category.IsValid() {
		return nil, shared.NewDomainError("CORRUPT_ACCOUNT", "Account category is not valid")
	}
	if !s.Status.IsValid() {
		return nil, shared.NewDomainError("CORRUPT_ACCOUNT", "Account status is not valid")
	}
	if s.Currency == "" {
		return nil, shared.NewDomainError("CORRUPT_ACCOUNT", "Account currency cannot be empty")
	}

	postings := make([]*Posting, len(s.Postings))
	copy(postings, s.Postings)

	return &Account{
		TenantAggregateRoot: shared.TenantAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: shared.BaseEntity{
					ID:        s.ID,
					CreatedAt: s.CreatedAt,
					UpdatedAt: s.UpdatedAt,
				},
				Version: s.Version,
			},
			TenantID:  s.TenantID,
			CreatedBy: s.CreatedBy,
		},
		Name:               s.Name,
		Category:           s.Category,
		Status:             s.Status,
		Currency:           s.Currency,
		DeactivatedAt:      s.DeactivatedAt,
		DeactivationReason: s.DeactivationReason,
		postings:           postings,
	}, nil
}
