package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// invoiceSortFields contains allowed sort fields for invoices
var invoiceSortFields = map[string]bool{
	"id":             true,
	"created_at":     true,
	"updated_at":     true,
	"invoice_number": true,
	"period_start":   true,
	"generated_at":   true,
	"status":         true,
	"subtotal":       true,
}

// GormInvoiceRepository implements invoice.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver // optional, for transactional outbox pattern
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// SetOutboxEventSaver sets the outbox event saver for transactional event publishing
func (r *GormInvoiceRepository) SetOutboxEventSaver(saver shared.OutboxEventSaver) {
	r.outboxSaver = saver
}

// FindByID finds an invoice by its ID, line items included
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Preload("LineItems", lineItemOrder).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByIDForTenant finds an invoice by ID within a tenant
func (r *GormInvoiceRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*invoice.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Preload("LineItems", lineItemOrder).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByInvoiceNumber finds by invoice number for a tenant
func (r *GormInvoiceRepository) FindByInvoiceNumber(ctx context.Context, tenantID uuid.UUID, invoiceNumber string) (*invoice.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Preload("LineItems", lineItemOrder).
		Where("tenant_id = ? AND invoice_number = ?", tenantID, invoiceNumber).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindAllForTenant finds all invoices for a tenant with filtering
func (r *GormInvoiceRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter invoice.InvoiceFilter) ([]invoice.Invoice, error) {
	var invoiceModels []models.InvoiceModel
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Preload("LineItems", lineItemOrder).
		Where("tenant_id = ?", tenantID)
	query = r.applyInvoiceFilter(query, filter)

	if err := query.Find(&invoiceModels).Error; err != nil {
		return nil, err
	}
	return toDomainInvoices(invoiceModels)
}

// FindByAccount finds invoices for a billing account
func (r *GormInvoiceRepository) FindByAccount(ctx context.Context, tenantID, accountID uuid.UUID, filter invoice.InvoiceFilter) ([]invoice.Invoice, error) {
	var invoiceModels []models.InvoiceModel
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Preload("LineItems", lineItemOrder).
		Where("tenant_id = ? AND account_id = ?", tenantID, accountID)
	query = r.applyInvoiceFilter(query, filter)

	if err := query.Find(&invoiceModels).Error; err != nil {
		return nil, err
	}
	return toDomainInvoices(invoiceModels)
}

// CountForTenant counts invoices for a tenant with optional filters
func (r *GormInvoiceRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter invoice.InvoiceFilter) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("tenant_id = ?", tenantID)
	query = r.applyInvoiceFilterWithoutPagination(query, filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ExistsForPeriod reports whether a non-voided invoice already covers the
// given account, frequency and period start. Billing cycle runs use this to
// stay idempotent.
func (r *GormInvoiceRepository) ExistsForPeriod(ctx context.Context, tenantID, accountID uuid.UUID, frequency invoice.BillingFrequency, periodStart time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("tenant_id = ? AND account_id = ? AND frequency = ? AND period_start = ? AND status <> ?",
			tenantID, accountID, frequency, periodStart, invoice.InvoiceStatusVoided).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save creates or updates an invoice with its line items
func (r *GormInvoiceRepository) Save(ctx context.Context, inv *invoice.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.persist(tx, inv)
	})
}

// SaveWithLock saves with optimistic locking
func (r *GormInvoiceRepository) SaveWithLock(ctx context.Context, inv *invoice.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.persistLocked(tx, inv)
	})
}

// SaveWithEvents persists the invoice and writes the supplied domain events
// to the outbox in the same transaction
func (r *GormInvoiceRepository) SaveWithEvents(ctx context.Context, inv *invoice.Invoice, events []shared.DomainEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.persistLocked(tx, inv); err != nil {
			return err
		}
		if r.outboxSaver != nil && len(events) > 0 {
			if err := r.outboxSaver.SaveEvents(ctx, tx, events...); err != nil {
				return fmt.Errorf("failed to save events to outbox: %w", err)
			}
		}
		return nil
	})
}

// persist creates or replaces the invoice row and its line items without a
// version check.
func (r *GormInvoiceRepository) persist(tx *gorm.DB, inv *invoice.Invoice) error {
	model := models.InvoiceModelFromDomain(inv)
	if err := tx.Omit("LineItems").Save(model).Error; err != nil {
		return translateUniqueViolation(err)
	}
	return r.saveLineItems(tx, model)
}

// persistLocked creates the invoice when it does not exist yet, otherwise
// updates it with an optimistic version check. Line items are immutable after
// generation and only written on the initial insert.
func (r *GormInvoiceRepository) persistLocked(tx *gorm.DB, inv *invoice.Invoice) error {
	model := models.InvoiceModelFromDomain(inv)

	var currentVersion int
	result := tx.Model(&models.InvoiceModel{}).
		Where("id = ?", inv.ID).
		Select("version").
		Scan(&currentVersion)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if err := tx.Omit("LineItems").Create(model).Error; err != nil {
			return translateUniqueViolation(err)
		}
		return r.saveLineItems(tx, model)
	}

	if currentVersion != inv.Version-1 {
		return shared.NewDomainError("CONCURRENT_MODIFICATION", "The invoice has been modified by another transaction")
	}

	update := tx.Model(&models.InvoiceModel{}).
		Where("id = ? AND version = ?", inv.ID, currentVersion).
		Updates(map[string]interface{}{
			"status":      model.Status,
			"voided_at":   model.VoidedAt,
			"void_reason": model.VoidReason,
			"version":     model.Version,
			"updated_at":  model.UpdatedAt,
		})
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected == 0 {
		return shared.NewDomainError("CONCURRENT_MODIFICATION", "The invoice has been modified by another transaction")
	}
	return nil
}

func (r *GormInvoiceRepository) saveLineItems(tx *gorm.DB, model *models.InvoiceModel) error {
	for i := range model.LineItems {
		model.LineItems[i].InvoiceID = model.ID
		if err := tx.Save(&model.LineItems[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

// applyInvoiceFilter applies filter options to the query
func (r *GormInvoiceRepository) applyInvoiceFilter(query *gorm.DB, filter invoice.InvoiceFilter) *gorm.DB {
	query = r.applyInvoiceFilterWithoutPagination(query, filter)

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	orderBy := ValidateSortField(filter.OrderBy, invoiceSortFields, "generated_at")
	return query.Order(orderBy + " " + ValidateSortOrder(filter.OrderDir))
}

// applyInvoiceFilterWithoutPagination applies filter options without pagination
func (r *GormInvoiceRepository) applyInvoiceFilterWithoutPagination(query *gorm.DB, filter invoice.InvoiceFilter) *gorm.DB {
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Frequency != nil {
		query = query.Where("frequency = ?", *filter.Frequency)
	}
	if filter.FromDate != nil {
		query = query.Where("period_start >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("period_start <= ?", *filter.ToDate)
	}
	return query
}

// lineItemOrder keeps preloaded line items in the order they were generated
func lineItemOrder(db *gorm.DB) *gorm.DB {
	return db.Order("service_date ASC, group_key ASC")
}

func toDomainInvoices(invoiceModels []models.InvoiceModel) ([]invoice.Invoice, error) {
	invoices := make([]invoice.Invoice, len(invoiceModels))
	for i := range invoiceModels {
		inv, err := invoiceModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		invoices[i] = *inv
	}
	return invoices, nil
}

// GormInvoiceNumberAllocator allocates sequential invoice numbers in the
// format INV-YYYYMMDD-NNNNN, per tenant per day.
type GormInvoiceNumberAllocator struct {
	db *gorm.DB
}

// NewGormInvoiceNumberAllocator creates a new GormInvoiceNumberAllocator
func NewGormInvoiceNumberAllocator(db *gorm.DB) *GormInvoiceNumberAllocator {
	return &GormInvoiceNumberAllocator{db: db}
}

// NextInvoiceNumber returns the next free invoice number for the tenant on
// the given date. Uniqueness is enforced by the invoice number index; a
// collision under concurrency fails the invoice insert, not the allocation.
func (a *GormInvoiceNumberAllocator) NextInvoiceNumber(ctx context.Context, tenantID uuid.UUID, date time.Time) (string, error) {
	prefix := fmt.Sprintf("INV-%s-", date.UTC().Format("20060102"))

	var maxNumber string
	if err := a.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("tenant_id = ? AND invoice_number LIKE ?", tenantID, prefix+"%").
		Order("invoice_number DESC").
		Limit(1).
		Pluck("invoice_number", &maxNumber).Error; err != nil {
		return "", err
	}

	var nextNum int
	if maxNumber != "" {
		parts := strings.Split(maxNumber, "-")
		if len(parts) == 3 {
			fmt.Sscanf(parts[2], "%d", &nextNum)
		}
	}
	nextNum++

	return fmt.Sprintf("%s%05d", prefix, nextNum), nil
}
