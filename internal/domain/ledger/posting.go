package ledger

import (
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// LedgerAccount is the accounting category a posting belongs to
type LedgerAccount string

const (
	LedgerAccountReceivable LedgerAccount = "ACCOUNTS_RECEIVABLE"
	LedgerAccountRevenue    LedgerAccount = "REVENUE"
	LedgerAccountCash       LedgerAccount = "CASH"
)

// IsValid checks if the ledger account is valid
func (l LedgerAccount) IsValid() bool {
	switch l {
	case LedgerAccountReceivable, LedgerAccountRevenue, LedgerAccountCash:
		return true
	}
	return false
}

// String returns the string representation of LedgerAccount
func (l LedgerAccount) String() string {
	return string(l)
}

// SourceKind identifies the business document a posting originates from
type SourceKind string

const (
	SourceKindRide    SourceKind = "RIDE"
	SourceKindPayment SourceKind = "PAYMENT"
)

// IsValid checks if the source kind is valid
func (s SourceKind) IsValid() bool {
	return s == SourceKindRide || s == SourceKindPayment
}

// EntrySide distinguishes debit from credit postings
type EntrySide string

const (
	EntrySideDebit  EntrySide = "DEBIT"
	EntrySideCredit EntrySide = "CREDIT"
)

// Posting is one immutable debit-or-credit line in a billing account's
// ledger. Exactly one of the debit and credit slots is set. Postings carry no
// setters: a correction is a new posting, never an edit, so the ledger stays
// append-only for audit purposes.
type Posting struct {
	id              uuid.UUID
	accountID       uuid.UUID
	tenantID        uuid.UUID
	ledgerAccount   LedgerAccount
	debit           *valueobject.Amount
	credit          *valueobject.Amount
	sourceKind      SourceKind
	sourceRef       string
	transactionDate time.Time
	metadata        map[string]string
	createdAt       time.Time
	createdBy       uuid.UUID
}

// NewDebitPosting creates a posting with the debit slot populated
func NewDebitPosting(
	accountID, tenantID uuid.UUID,
	ledgerAccount LedgerAccount,
	amount valueobject.Amount,
	sourceKind SourceKind,
	sourceRef string,
	transactionDate time.Time,
	metadata map[string]string,
	createdBy uuid.UUID,
	now time.Time,
) (*Posting, error) {
	p, err := newPosting(accountID, tenantID, ledgerAccount, amount, sourceKind, sourceRef, transactionDate, metadata, createdBy, now)
	if err != nil {
		return nil, err
	}
	a := amount
	p.debit = &a
	return p, nil
}

// NewCreditPosting creates a posting with the credit slot populated
func NewCreditPosting(
	accountID, tenantID uuid.UUID,
	ledgerAccount LedgerAccount,
	amount valueobject.Amount,
	sourceKind SourceKind,
	sourceRef string,
	transactionDate time.Time,
	metadata map[string]string,
	createdBy uuid.UUID,
	now time.Time,
) (*Posting, error) {
	p, err := newPosting(accountID, tenantID, ledgerAccount, amount, sourceKind, sourceRef, transactionDate, metadata, createdBy, now)
	if err != nil {
		return nil, err
	}
	a := amount
	p.credit = &a
	return p, nil
}

func newPosting(
	accountID, tenantID uuid.UUID,
	ledgerAccount LedgerAccount,
	amount valueobject.Amount,
	sourceKind SourceKind,
	sourceRef string,
	transactionDate time.Time,
	metadata map[string]string,
	createdBy uuid.UUID,
	now time.Time,
) (*Posting, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !ledgerAccount.IsValid() {
		return nil, shared.NewDomainError("INVALID_LEDGER_ACCOUNT", "Ledger account is not valid")
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError(valueobject.ErrCodeInvalidAmount, "Posting amount must be positive")
	}
	if !sourceKind.IsValid() {
		return nil, shared.NewDomainError("INVALID_SOURCE_KIND", "Source kind is not valid")
	}
	if sourceRef == "" {
		return nil, shared.NewDomainError("INVALID_SOURCE_REF", "Source reference cannot be empty")
	}
	if transactionDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_TRANSACTION_DATE", "Transaction date cannot be zero")
	}
	if createdBy == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACTOR", "Creator cannot be empty")
	}

	return &Posting{
		id:              uuid.New(),
		accountID:       accountID,
		tenantID:        tenantID,
		ledgerAccount:   ledgerAccount,
		sourceKind:      sourceKind,
		sourceRef:       sourceRef,
		transactionDate: transactionDate.UTC(),
		metadata:        copyMetadata(metadata),
		createdAt:       now,
		createdBy:       createdBy,
	}, nil
}

// PostingSnapshot carries the full, validated state of a stored posting.
// It is the only way persistence rebuilds a Posting; there is no back-door
// into the struct's fields.
type PostingSnapshot struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	TenantID        uuid.UUID
	LedgerAccount   LedgerAccount
	Debit           *valueobject.Amount
	Credit          *valueobject.Amount
	SourceKind      SourceKind
	SourceRef       string
	TransactionDate time.Time
	Metadata        map[string]string
	CreatedAt       time.Time
	CreatedBy       uuid.UUID
}

// ReconstitutePosting rebuilds a Posting from a persistence snapshot,
// re-validating the exactly-one-amount invariant.
func ReconstitutePosting(s PostingSnapshot) (*Posting, error) {
	if (s.Debit == nil) == (s.Credit == nil) {
		return nil, shared.NewDomainError("CORRUPT_POSTING",
			"Posting must carry exactly one of debit and credit")
	}
	if !s.LedgerAccount.IsValid() {
		return nil, shared.NewDomainError("CORRUPT_POSTING", "Posting ledger account is not valid")
	}
	if !s.SourceKind.IsValid() {
		return nil, shared.NewDomainError("CORRUPT_POSTING", "Posting source kind is not valid")
	}
	return &Posting{
		id:              s.ID,
		accountID:       s.AccountID,
		tenantID:        s.TenantID,
		ledgerAccount:   s.LedgerAccount,
		debit:           s.Debit,
		credit:          s.Credit,
		sourceKind:      s.SourceKind,
		sourceRef:       s.SourceRef,
		transactionDate: s.TransactionDate,
		metadata:        copyMetadata(s.Metadata),
		createdAt:       s.CreatedAt,
		createdBy:       s.CreatedBy,
	}, nil
}

// Snapshot returns the posting's full state for persistence mapping
func (p *Posting) Snapshot() PostingSnapshot {
	return PostingSnapshot{
		ID:              p.id,
		AccountID:       p.accountID,
		TenantID:        p.tenantID,
		LedgerAccount:   p.ledgerAccount,
		Debit:           p.debit,
		Credit:          p.credit,
		SourceKind:      p.sourceKind,
		SourceRef:       p.sourceRef,
		TransactionDate: p.transactionDate,
		Metadata:        copyMetadata(p.metadata),
		CreatedAt:       p.createdAt,
		CreatedBy:       p.createdBy,
	}
}

// ID returns the posting identity
func (p *Posting) ID() uuid.UUID { return p.id }

// AccountID returns the owning billing account id
func (p *Posting) AccountID() uuid.UUID { return p.accountID }

// TenantID returns the owning tenant id
func (p *Posting) TenantID() uuid.UUID { return p.tenantID }

// LedgerAccount returns the accounting category
func (p *Posting) LedgerAccount() LedgerAccount { return p.ledgerAccount }

// IsDebit returns true if the debit slot is set
func (p *Posting) IsDebit() bool { return p.debit != nil }

// IsCredit returns true if the credit slot is set
func (p *Posting) IsCredit() bool { return p.credit != nil }

// Side returns which entry side the posting is on
func (p *Posting) Side() EntrySide {
	if p.IsDebit() {
		return EntrySideDebit
	}
	return EntrySideCredit
}

// Amount returns the magnitude of whichever slot is populated
func (p *Posting) Amount() valueobject.Amount {
	shared.Invariant((p.debit == nil) != (p.credit == nil),
		"posting %s must carry exactly one of debit and credit", p.id)
	if p.debit != nil {
		return *p.debit
	}
	return *p.credit
}

// SourceKind returns the kind of business document behind the posting
func (p *Posting) SourceKind() SourceKind { return p.sourceKind }

// SourceRef returns the external natural key of the source document
func (p *Posting) SourceRef() string { return p.sourceRef }

// TransactionDate returns the business date of the underlying transaction
func (p *Posting) TransactionDate() time.Time { return p.transactionDate }

// Metadata returns a copy of the free-form metadata
func (p *Posting) Metadata() map[string]string { return copyMetadata(p.metadata) }

// CreatedAt returns the audit creation timestamp
func (p *Posting) CreatedAt() time.Time { return p.createdAt }

// CreatedBy returns the identity that recorded the posting
func (p *Posting) CreatedBy() uuid.UUID { return p.createdBy }

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
