package invoice

import (
	"fmt"
	"sort"
	"time"

	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// BillingFrequency is the grouping granularity used when deriving an invoice
// from charge postings
type BillingFrequency string

const (
	FrequencyPerRide BillingFrequency = "PER_RIDE"
	FrequencyDaily   BillingFrequency = "DAILY"
	FrequencyWeekly  BillingFrequency = "WEEKLY"
	FrequencyMonthly BillingFrequency = "MONTHLY"
)

// IsValid checks if the frequency is a valid BillingFrequency
func (f BillingFrequency) IsValid() bool {
	switch f {
	case FrequencyPerRide, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// String returns the string representation of BillingFrequency
func (f BillingFrequency) String() string {
	return string(f)
}

// InvoiceStatus represents the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusGenerated InvoiceStatus = "GENERATED"
	InvoiceStatusVoided    InvoiceStatus = "VOIDED"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	return s == InvoiceStatusGenerated || s == InvoiceStatusVoided
}

// Domain error codes raised by Invoice commands
const (
	ErrCodeInvalidInvoice       = "INVALID_INVOICE"
	ErrCodeEmptyBillingPeriod   = "EMPTY_BILLING_PERIOD"
	ErrCodeInvoiceAlreadyVoided = "INVOICE_ALREADY_VOIDED"
)

// LineItem is one billed line on an invoice. It is fixed at generation time:
// the traced posting IDs record exactly which ledger postings produced the
// amount, and the set is never empty.
type LineItem struct {
	ID               uuid.UUID
	InvoiceID        uuid.UUID
	GroupKey         string
	ServiceDate      time.Time
	Amount           valueobject.Amount
	Description      string
	TracedPostingIDs []uuid.UUID
}

// Invoice is a billing document derived from a snapshot of an account's
// charge postings for one period. Line items and totals are immutable after
// generation; the only later mutation is the one-way transition to Voided.
type Invoice struct {
	shared.TenantAggregateRoot
	AccountID            uuid.UUID
	InvoiceNumber        string
	Frequency            BillingFrequency
	PeriodStart          time.Time
	PeriodEnd            time.Time
	GeneratedAt          time.Time
	Status               InvoiceStatus
	Subtotal             valueobject.Amount
	TotalPaymentsApplied valueobject.Amount
	VoidedAt             *time.Time
	VoidReason           string

	lineItems []LineItem
}

// GenerateInvoice builds an invoice from the supplied charge postings.
//
// The postings must be the accounts-receivable debit postings for rides whose
// transaction date falls in [periodStart, periodEnd); the caller selects them
// from the account (Account.ChargePostingsInPeriod) and separately supplies
// the total of payment credits in the same window. Payments are applied
// against the invoice total, never allocated to individual line items.
func GenerateInvoice(
	invoiceNumber string,
	accountID uuid.UUID,
	tenantID uuid.UUID,
	frequency BillingFrequency,
	periodStart, periodEnd time.Time,
	chargePostings []*ledger.Posting,
	totalPaymentsInPeriod valueobject.Amount,
	createdBy uuid.UUID,
	now time.Time,
) (*Invoice, []shared.DomainEvent, error) {
	if invoiceNumber == "" {
		return nil, nil, shared.NewDomainError(ErrCodeInvalidInvoice, "Invoice number cannot be empty")
	}
	if accountID == uuid.Nil {
		return nil, nil, shared.NewDomainError(ErrCodeInvalidInvoice, "Account ID cannot be empty")
	}
	if tenantID == uuid.Nil {
		return nil, nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !frequency.IsValid() {
		return nil, nil, shared.NewDomainError(ErrCodeInvalidInvoice, "Billing frequency is not valid")
	}
	if !periodStart.Before(periodEnd) {
		return nil, nil, shared.NewDomainError(ErrCodeInvalidInvoice, "Period start must be before period end")
	}
	if len(chargePostings) == 0 {
		return nil, nil, shared.NewDomainError(ErrCodeEmptyBillingPeriod,
			"Cannot generate an invoice from an empty posting set")
	}

	currency := chargePostings[0].Amount().Currency()
	for _, p := range chargePostings {
		if p.LedgerAccount() != ledger.LedgerAccountReceivable || !p.IsDebit() || p.SourceKind() != ledger.SourceKindRide {
			return nil, nil, shared.NewDomainError(ErrCodeInvalidInvoice,
				fmt.Sprintf("Posting %s is not a receivable ride charge", p.ID()))
		}
		txn := p.TransactionDate()
		if txn.Before(periodStart) || !txn.Before(periodEnd) {
			return nil, nil, shared.NewDomainError(ErrCodeInvalidInvoice,
				fmt.Sprintf("Posting %s falls outside the billing period", p.ID()))
		}
		if p.Amount().Currency() != currency {
			return nil, nil, shared.NewDomainError(valueobject.ErrCodeInvalidAmount,
				"Charge postings carry mixed currencies")
		}
	}
	if totalPaymentsInPeriod.Currency() != currency {
		return nil, nil, shared.NewDomainError(valueobject.ErrCodeInvalidAmount,
			"Payments total currency does not match the charge currency")
	}

	inv := &Invoice{
		TenantAggregateRoot:  shared.NewTenantAggregateRootWithCreator(tenantID, createdBy, now),
		AccountID:            accountID,
		InvoiceNumber:        invoiceNumber,
		Frequency:            frequency,
		PeriodStart:          periodStart.UTC(),
		PeriodEnd:            periodEnd.UTC(),
		GeneratedAt:          now,
		Status:               InvoiceStatusGenerated,
		TotalPaymentsApplied: totalPaymentsInPeriod,
	}

	items, subtotal, err := buildLineItems(inv.ID, frequency, periodStart, chargePostings, currency)
	if err != nil {
		return nil, nil, err
	}
	inv.lineItems = items
	inv.Subtotal = subtotal

	return inv, []shared.DomainEvent{NewInvoiceGeneratedEvent(inv, now)}, nil
}

// buildLineItems groups the postings per the billing frequency. Line items
// come out ordered by service date, then by group key for determinism.
func buildLineItems(
	invoiceID uuid.UUID,
	frequency BillingFrequency,
	periodStart time.Time,
	postings []*ledger.Posting,
	currency valueobject.Currency,
) ([]LineItem, valueobject.Amount, error) {
	zero := valueobject.ZeroAmount(currency)

	if frequency == FrequencyPerRide {
		items := make([]LineItem, 0, len(postings))
		subtotal := zero
		for _, p := range postings {
			sum, err := subtotal.Add(p.Amount())
			if err != nil {
				return nil, zero, err
			}
			subtotal = sum
			items = append(items, LineItem{
				ID:               uuid.New(),
				InvoiceID:        invoiceID,
				GroupKey:         p.SourceRef(),
				ServiceDate:      p.TransactionDate(),
				Amount:           p.Amount(),
				Description:      fmt.Sprintf("Ride %s", p.SourceRef()),
				TracedPostingIDs: []uuid.UUID{p.ID()},
			})
		}
		sortLineItems(items)
		return items, subtotal, nil
	}

	if frequency == FrequencyMonthly {
		subtotal := zero
		traced := make([]uuid.UUID, 0, len(postings))
		for _, p := range postings {
			sum, err := subtotal.Add(p.Amount())
			if err != nil {
				return nil, zero, err
			}
			subtotal = sum
			traced = append(traced, p.ID())
		}
		item := LineItem{
			ID:               uuid.New(),
			InvoiceID:        invoiceID,
			GroupKey:         string(FrequencyMonthly),
			ServiceDate:      periodStart.UTC(),
			Amount:           subtotal,
			Description:      fmt.Sprintf("Monthly charges (%d rides)", len(postings)),
			TracedPostingIDs: traced,
		}
		return []LineItem{item}, subtotal, nil
	}

	// Daily and weekly bucket by a derived date
	type bucket struct {
		date   time.Time
		amount valueobject.Amount
		traced []uuid.UUID
		nRides int
	}
	buckets := make(map[time.Time]*bucket)
	subtotal := zero
	for _, p := range postings {
		var key time.Time
		if frequency == FrequencyDaily {
			key = utcDate(p.TransactionDate())
		} else {
			key = isoWeekMonday(p.TransactionDate())
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{date: key, amount: zero}
			buckets[key] = b
		}
		sum, err := b.amount.Add(p.Amount())
		if err != nil {
			return nil, zero, err
		}
		b.amount = sum
		b.traced = append(b.traced, p.ID())
		b.nRides++

		total, err := subtotal.Add(p.Amount())
		if err != nil {
			return nil, zero, err
		}
		subtotal = total
	}

	tag := string(FrequencyDaily)
	noun := "Daily"
	if frequency == FrequencyWeekly {
		tag = string(FrequencyWeekly)
		noun = "Week of"
	}

	items := make([]LineItem, 0, len(buckets))
	for _, b := range buckets {
		desc := fmt.Sprintf("%s %s (%d rides)", noun, b.date.Format("2006-01-02"), b.nRides)
		if frequency == FrequencyDaily {
			desc = fmt.Sprintf("Charges for %s (%d rides)", b.date.Format("2006-01-02"), b.nRides)
		}
		items = append(items, LineItem{
			ID:               uuid.New(),
			InvoiceID:        invoiceID,
			GroupKey:         tag,
			ServiceDate:      b.date,
			Amount:           b.amount,
			Description:      desc,
			TracedPostingIDs: b.traced,
		})
	}
	sortLineItems(items)
	return items, subtotal, nil
}

func sortLineItems(items []LineItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ServiceDate.Equal(items[j].ServiceDate) {
			return items[i].ServiceDate.Before(items[j].ServiceDate)
		}
		return items[i].GroupKey < items[j].GroupKey
	})
}

// utcDate truncates a timestamp to its UTC calendar date
func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// isoWeekMonday returns the UTC midnight of the Monday starting the ISO week
// containing t
func isoWeekMonday(t time.Time) time.Time {
	d := utcDate(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Void transitions the invoice to Voided. Voiding an already voided invoice
// is a conflict, not a no-op: the caller is telling us to change state that
// has already changed.
func (i *Invoice) Void(reason string, now time.Time) ([]shared.DomainEvent, error) {
	if i.Status == InvoiceStatusVoided {
		return nil, shared.NewDomainError(ErrCodeInvoiceAlreadyVoided,
			fmt.Sprintf("Invoice %s is already voided", i.InvoiceNumber))
	}

	i.Status = InvoiceStatusVoided
	i.VoidedAt = &now
	i.VoidReason = reason
	i.UpdatedAt = now
	i.IncrementVersion()

	return []shared.DomainEvent{NewInvoiceVoidedEvent(i, reason, now)}, nil
}

// Outstanding is the signed amount still owed: subtotal minus payments
// applied. Negative when the period's payments exceed its charges.
func (i *Invoice) Outstanding() valueobject.Balance {
	out, err := i.Subtotal.Diff(i.TotalPaymentsApplied)
	shared.Invariant(err == nil, "invoice %s mixes currencies", i.InvoiceNumber)
	return out
}

// LineItems returns a copy of the ordered line items
func (i *Invoice) LineItems() []LineItem {
	out := make([]LineItem, len(i.lineItems))
	copy(out, i.lineItems)
	return out
}

// LineItemCount returns the number of line items
func (i *Invoice) LineItemCount() int {
	return len(i.lineItems)
}

// IsVoided returns true if the invoice has been voided
func (i *Invoice) IsVoided() bool {
	return i.Status == InvoiceStatusVoided
}

// InvoiceSnapshot carries the full, validated state of a stored invoice.
type InvoiceSnapshot struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	CreatedBy            *uuid.UUID
	Version              int
	AccountID            uuid.UUID
	InvoiceNumber        string
	Frequency            BillingFrequency
	PeriodStart          time.Time
	PeriodEnd            time.Time
	GeneratedAt          time.Time
	Status               InvoiceStatus
	Subtotal             valueobject.Amount
	TotalPaymentsApplied valueobject.Amount
	VoidedAt             *time.Time
	VoidReason           string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	LineItems            []LineItem
}

// ReconstituteInvoice rebuilds an Invoice from a persistence snapshot
func ReconstituteInvoice(s InvoiceSnapshot) (*Invoice, error) {
	if s.ID == uuid.Nil {
		return nil, shared.NewDomainError("CORRUPT_INVOICE", "Invoice ID cannot be empty")
	}
	if s.InvoiceNumber == "" {
		return nil, shared.NewDomainError("CORRUPT_INVOICE", "Invoice number cannot be empty")
	}
	if !s.Frequency.IsValid() {
		return nil, shared.NewDomainError("CORRUPT_INVOICE", "Billing frequency is not valid")
	}
	if !s.Status.IsValid() {
		return nil, shared.NewDomainError("CORRUPT_INVOICE", "Invoice status is not valid")
	}
	if len(s.LineItems) == 0 {
		return nil, shared.NewDomainError("CORRUPT_INVOICE", "Invoice must carry at least one line item")
	}
	for _, li := range s.LineItems {
		if len(li.TracedPostingIDs) == 0 {
			return nil, shared.NewDomainError("CORRUPT_INVOICE",
				fmt.Sprintf("Line item %s has no traced postings", li.ID))
		}
	}

	items := make([]LineItem, len(s.LineItems))
	copy(items, s.LineItems)

	return &Invoice{
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
		AccountID:            s.AccountID,
		InvoiceNumber:        s.InvoiceNumber,
		Frequency:            s.Frequency,
		PeriodStart:          s.PeriodStart,
		PeriodEnd:            s.PeriodEnd,
		GeneratedAt:          s.GeneratedAt,
		Status:               s.Status,
		Subtotal:             s.Subtotal,
		TotalPaymentsApplied: s.TotalPaymentsApplied,
		VoidedAt:             s.VoidedAt,
		VoidReason:           s.VoidReason,
		lineItems:            items,
	}, nil
}
