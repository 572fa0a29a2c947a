package invoice

import (
	"context"
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// InvoiceFilter defines filtering options for invoice queries
type InvoiceFilter struct {
	shared.Filter
	AccountID *uuid.UUID        // Filter by billing account
	Status    *InvoiceStatus    // Filter by lifecycle status
	Frequency *BillingFrequency // Filter by billing frequency
	FromDate  *time.Time        // Filter by period start range start
	ToDate    *time.Time        // Filter by period start range end
}

// InvoiceRepository defines the interface for invoice persistence
type InvoiceRepository interface {
	// FindByID finds an invoice by ID, line items included
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByIDForTenant finds an invoice by ID for a specific tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)

	// FindByInvoiceNumber finds by invoice number for a tenant
	FindByInvoiceNumber(ctx context.Context, tenantID uuid.UUID, invoiceNumber string) (*Invoice, error)

	// FindAllForTenant finds all invoices for a tenant with filtering
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter InvoiceFilter) ([]Invoice, error)

	// FindByAccount finds invoices for a billing account
	FindByAccount(ctx context.Context, tenantID, accountID uuid.UUID, filter InvoiceFilter) ([]Invoice, error)

	// CountForTenant counts invoices for a tenant with optional filters
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter InvoiceFilter) (int64, error)

	// ExistsForPeriod reports whether a non-voided invoice already covers the
	// given account, frequency and period start. Scheduled billing runs use
	// this to stay idempotent across restarts.
	ExistsForPeriod(ctx context.Context, tenantID, accountID uuid.UUID, frequency BillingFrequency, periodStart time.Time) (bool, error)

	// Save persists a new or updated invoice with its line items
	Save(ctx context.Context, inv *Invoice) error

	// SaveWithLock saves with optimistic locking (version check)
	SaveWithLock(ctx context.Context, inv *Invoice) error

	// SaveWithEvents persists the invoice and writes the supplied domain
	// events to the outbox in the same transaction
	SaveWithEvents(ctx context.Context, inv *Invoice, events []shared.DomainEvent) error
}

// NumberAllocator produces unique, tenant-scoped invoice numbers in the form
// INV-YYYYMMDD-NNNNN. Allocation happens in the same transaction that saves
// the invoice so numbers never collide and gaps only appear on rollback.
type NumberAllocator interface {
	NextInvoiceNumber(ctx context.Context, tenantID uuid.UUID, date time.Time) (string, error)
}
