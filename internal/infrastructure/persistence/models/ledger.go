package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JSONMap stores a string map as a jsonb column.
type JSONMap map[string]string

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	return json.Unmarshal(data, m)
}

// BillingAccountModel is the persistence model for the billing Account
// aggregate root.
type BillingAccountModel struct {
	TenantAggregateModel
	Name               string                 `gorm:"type:varchar(200);not null;index"`
	Category           ledger.AccountCategory `gorm:"type:varchar(20);not null;index"`
	Status             ledger.AccountStatus   `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
	Currency           string                 `gorm:"type:varchar(3);not null"`
	DeactivatedAt      *time.Time
	DeactivationReason string         `gorm:"type:varchar(500)"`
	Postings           []PostingModel `gorm:"foreignKey:AccountID;references:ID"`
}

// TableName returns the table name for GORM
func (BillingAccountModel) TableName() string {
	return "billing_accounts"
}

// ToDomain converts the persistence model to a domain Account. The stored
// state is revalidated during reconstitution, so a corrupted row surfaces as
// an error instead of a half-built aggregate.
func (m *BillingAccountModel) ToDomain() (*ledger.Account, error) {
	postings := make([]*ledger.Posting, 0, len(m.Postings))
	for i := range m.Postings {
		p, err := m.Postings[i].ToDomain()
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}

	return ledger.ReconstituteAccount(ledger.AccountSnapshot{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		CreatedBy:          m.CreatedBy,
		Version:            m.Version,
		Name:               m.Name,
		Category:           m.Category,
		Status:             m.Status,
		Currency:           valueobject.Currency(m.Currency),
		DeactivatedAt:      m.DeactivatedAt,
		DeactivationReason: m.DeactivationReason,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		Postings:           postings,
	})
}

// FromDomain populates the persistence model from a domain Account,
// postings included.
func (m *BillingAccountModel) FromDomain(account *ledger.Account) {
	m.FromDomainTenantAggregateRoot(account.TenantAggregateRoot)
	m.Name = account.Name
	m.Category = account.Category
	m.Status = account.Status
	m.Currency = string(account.Currency)
	m.DeactivatedAt = account.DeactivatedAt
	m.DeactivationReason = account.DeactivationReason

	domainPostings := account.Postings()
	m.Postings = make([]PostingModel, len(domainPostings))
	for i, p := range domainPostings {
		m.Postings[i].FromDomain(p)
	}
}

// BillingAccountModelFromDomain creates a new persistence model from a domain Account.
func BillingAccountModelFromDomain(account *ledger.Account) *BillingAccountModel {
	m := &BillingAccountModel{}
	m.FromDomain(account)
	return m
}

// PostingModel is the persistence model for immutable ledger postings. The
// composite unique index backs the idempotency guarantee: a second posting
// for the same (account, source kind, source ref, side) is rejected by the
// database even when two requests race past the in-memory duplicate check.
type PostingModel struct {
	ID              uuid.UUID            `gorm:"type:uuid;primaryKey"`
	AccountID       uuid.UUID            `gorm:"type:uuid;not null;index;uniqueIndex:idx_posting_source,priority:1"`
	TenantID        uuid.UUID            `gorm:"type:uuid;not null;index"`
	LedgerAccount   ledger.LedgerAccount `gorm:"type:varchar(30);not null;index"`
	Side            ledger.EntrySide     `gorm:"type:varchar(10);not null;uniqueIndex:idx_posting_source,priority:4"`
	Amount          decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	Currency        string               `gorm:"type:varchar(3);not null"`
	SourceKind      ledger.SourceKind    `gorm:"type:varchar(20);not null;uniqueIndex:idx_posting_source,priority:2"`
	SourceRef       string               `gorm:"type:varchar(100);not null;uniqueIndex:idx_posting_source,priority:3"`
	TransactionDate time.Time            `gorm:"not null;index"`
	Metadata        JSONMap              `gorm:"type:jsonb;default:'{}'"`
	CreatedAt       time.Time            `gorm:"not null"`
	CreatedBy       uuid.UUID            `gorm:"type:uuid;not null"`
}

// TableName returns the table name for GORM
func (PostingModel) TableName() string {
	return "ledger_postings"
}

// ToDomain converts the persistence model to a domain Posting.
func (m *PostingModel) ToDomain() (*ledger.Posting, error) {
	amount, err := valueobject.NewAmount(m.Amount, valueobject.Currency(m.Currency))
	if err != nil {
		return nil, err
	}

	snapshot := ledger.PostingSnapshot{
		ID:              m.ID,
		AccountID:       m.AccountID,
		TenantID:        m.TenantID,
		LedgerAccount:   m.LedgerAccount,
		SourceKind:      m.SourceKind,
		SourceRef:       m.SourceRef,
		TransactionDate: m.TransactionDate,
		Metadata:        m.Metadata,
		CreatedAt:       m.CreatedAt,
		CreatedBy:       m.CreatedBy,
	}
	if m.Side == ledger.EntrySideDebit {
		snapshot.Debit = &amount
	} else {
		snapshot.Credit = &amount
	}

	return ledger.ReconstitutePosting(snapshot)
}

// FromDomain populates the persistence model from a domain Posting.
func (m *PostingModel) FromDomain(p *ledger.Posting) {
	s := p.Snapshot()
	m.ID = s.ID
	m.AccountID = s.AccountID
	m.TenantID = s.TenantID
	m.LedgerAccount = s.LedgerAccount
	m.SourceKind = s.SourceKind
	m.SourceRef = s.SourceRef
	m.TransactionDate = s.TransactionDate
	m.Metadata = s.Metadata
	m.CreatedAt = s.CreatedAt
	m.CreatedBy = s.CreatedBy

	if s.Debit != nil {
		m.Side = ledger.EntrySideDebit
		m.Amount = s.Debit.Magnitude()
		m.Currency = string(s.Debit.Currency())
	} else {
		m.Side = ledger.EntrySideCredit
		m.Amount = s.Credit.Magnitude()
		m.Currency = string(s.Credit.Currency())
	}
}
