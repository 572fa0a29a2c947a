package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UUIDSlice stores a list of UUIDs as a jsonb column.
type UUIDSlice []uuid.UUID

// Value implements driver.Valuer
func (s UUIDSlice) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *UUIDSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into UUIDSlice", value)
	}
	return json.Unmarshal(data, s)
}

// InvoiceModel is the persistence model for the Invoice aggregate root.
type InvoiceModel struct {
	TenantAggregateModel
	InvoiceNumber        string                   `gorm:"type:varchar(50);not null;uniqueIndex:idx_invoice_tenant_number,priority:2"`
	AccountID            uuid.UUID                `gorm:"type:uuid;not null;index"`
	Frequency            invoice.BillingFrequency `gorm:"type:varchar(20);not null;index"`
	PeriodStart          time.Time                `gorm:"not null;index"`
	PeriodEnd            time.Time                `gorm:"not null"`
	GeneratedAt          time.Time                `gorm:"not null"`
	Status               invoice.InvoiceStatus    `gorm:"type:varchar(20);not null;default:'GENERATED';index"`
	Subtotal             decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	TotalPaymentsApplied decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	Currency             string                   `gorm:"type:varchar(3);not null"`
	VoidedAt             *time.Time
	VoidReason           string                 `gorm:"type:varchar(500)"`
	LineItems            []InvoiceLineItemModel `gorm:"foreignKey:InvoiceID;references:ID"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice.
func (m *InvoiceModel) ToDomain() (*invoice.Invoice, error) {
	currency := valueobject.Currency(m.Currency)
	subtotal, err := valueobject.NewAmount(m.Subtotal, currency)
	if err != nil {
		return nil, err
	}
	payments, err := valueobject.NewAmount(m.TotalPaymentsApplied, currency)
	if err != nil {
		return nil, err
	}

	lineItems := make([]invoice.LineItem, len(m.LineItems))
	for i := range m.LineItems {
		item, err := m.LineItems[i].ToDomain(currency)
		if err != nil {
			return nil, err
		}
		lineItems[i] = item
	}

	return invoice.ReconstituteInvoice(invoice.InvoiceSnapshot{
		ID:                   m.ID,
		TenantID:             m.TenantID,
		CreatedBy:            m.CreatedBy,
		Version:              m.Version,
		AccountID:            m.AccountID,
		InvoiceNumber:        m.InvoiceNumber,
		Frequency:            m.Frequency,
		PeriodStart:          m.PeriodStart,
		PeriodEnd:            m.PeriodEnd,
		GeneratedAt:          m.GeneratedAt,
		Status:               m.Status,
		Subtotal:             subtotal,
		TotalPaymentsApplied: payments,
		VoidedAt:             m.VoidedAt,
		VoidReason:           m.VoidReason,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		LineItems:            lineItems,
	})
}

// FromDomain populates the persistence model from a domain Invoice,
// line items included.
func (m *InvoiceModel) FromDomain(inv *invoice.Invoice) {
	m.FromDomainTenantAggregateRoot(inv.TenantAggregateRoot)
	m.InvoiceNumber = inv.InvoiceNumber
	m.AccountID = inv.AccountID
	m.Frequency = inv.Frequency
	m.PeriodStart = inv.PeriodStart
	m.PeriodEnd = inv.PeriodEnd
	m.GeneratedAt = inv.GeneratedAt
	m.Status = inv.Status
	m.Subtotal = inv.Subtotal.Magnitude()
	m.TotalPaymentsApplied = inv.TotalPaymentsApplied.Magnitude()
	m.Currency = string(inv.Subtotal.Currency())
	m.VoidedAt = inv.VoidedAt
	m.VoidReason = inv.VoidReason

	items := inv.LineItems()
	m.LineItems = make([]InvoiceLineItemModel, len(items))
	for i := range items {
		m.LineItems[i].FromDomain(&items[i])
	}
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice.
func InvoiceModelFromDomain(inv *invoice.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// InvoiceLineItemModel is the persistence model for invoice line items.
// TracedPostingIDs keeps the link from each line back to the ledger postings
// it bills.
type InvoiceLineItemModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	GroupKey         string          `gorm:"type:varchar(100);not null"`
	ServiceDate      time.Time       `gorm:"not null"`
	Amount           decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Description      string          `gorm:"type:varchar(500);not null"`
	TracedPostingIDs UUIDSlice       `gorm:"type:jsonb;not null;default:'[]'"`
}

// TableName returns the table name for GORM
func (InvoiceLineItemModel) TableName() string {
	return "invoice_line_items"
}

// ToDomain converts the persistence model to a domain LineItem.
func (m *InvoiceLineItemModel) ToDomain(currency valueobject.Currency) (invoice.LineItem, error) {
	amount, err := valueobject.NewAmount(m.Amount, currency)
	if err != nil {
		return invoice.LineItem{}, err
	}
	return invoice.LineItem{
		ID:               m.ID,
		InvoiceID:        m.InvoiceID,
		GroupKey:         m.GroupKey,
		ServiceDate:      m.ServiceDate,
		Amount:           amount,
		Description:      m.Description,
		TracedPostingIDs: m.TracedPostingIDs,
	}, nil
}

// FromDomain populates the persistence model from a domain LineItem.
func (m *InvoiceLineItemModel) FromDomain(item *invoice.LineItem) {
	m.ID = item.ID
	m.InvoiceID = item.InvoiceID
	m.GroupKey = item.GroupKey
	m.ServiceDate = item.ServiceDate
	m.Amount = item.Amount.Magnitude()
	m.Description = item.Description
	m.TracedPostingIDs = item.TracedPostingIDs
}
