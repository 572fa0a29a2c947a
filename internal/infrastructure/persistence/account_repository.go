package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations
const pgUniqueViolation = "23505"

// postingSourceConstraint is the unique index on
// (account_id, source_kind, source_ref, side) that backs the aggregate's
// duplicate checks under concurrency.
const postingSourceConstraint = "idx_posting_source"

// accountSortFields contains allowed sort fields for billing accounts
var accountSortFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"category":   true,
	"status":     true,
}

// postingSortFields contains allowed sort fields for ledger postings
var postingSortFields = map[string]bool{
	"id":               true,
	"created_at":       true,
	"transaction_date": true,
	"ledger_account":   true,
	"amount":           true,
}

// GormAccountRepository implements ledger.AccountRepository using GORM.
//
// The idx_posting_source unique index on ledger_postings backs the aggregate's
// in-memory duplicate checks: when two requests replay the same source ref
// concurrently, the loser fails the insert and the violation is surfaced as
// DUPLICATE_CHARGE or DUPLICATE_PAYMENT, matching what the aggregate raises
// on the fast path.
type GormAccountRepository struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver // optional, for transactional outbox pattern
}

// NewGormAccountRepository creates a new GormAccountRepository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// SetOutboxEventSaver sets the outbox event saver for transactional event publishing
func (r *GormAccountRepository) SetOutboxEventSaver(saver shared.OutboxEventSaver) {
	r.outboxSaver = saver
}

// FindByID finds an account by its ID, postings included
func (r *GormAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	var model models.BillingAccountModel
	if err := r.db.WithContext(ctx).
		Preload("Postings", postingOrder).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByIDForTenant finds an account by ID within a tenant
func (r *GormAccountRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Account, error) {
	var model models.BillingAccountModel
	if err := r.db.WithContext(ctx).
		Preload("Postings", postingOrder).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindAllForTenant finds all accounts for a tenant with filtering
func (r *GormAccountRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter ledger.AccountFilter) ([]ledger.Account, error) {
	var accountModels []models.BillingAccountModel
	query := r.db.WithContext(ctx).Model(&models.BillingAccountModel{}).
		Preload("Postings", postingOrder).
		Where("tenant_id = ?", tenantID)
	query = r.applyAccountFilter(query, filter)

	if err := query.Find(&accountModels).Error; err != nil {
		return nil, err
	}
	return toDomainAccounts(accountModels)
}

// CountForTenant counts accounts for a tenant with optional filters
func (r *GormAccountRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter ledger.AccountFilter) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.BillingAccountModel{}).
		Where("tenant_id = ?", tenantID)
	query = r.applyAccountFilterWithoutPagination(query, filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindActiveForTenant finds all active accounts for a tenant, ordered by
// creation time so billing cycle runs process accounts deterministically
func (r *GormAccountRepository) FindActiveForTenant(ctx context.Context, tenantID uuid.UUID) ([]ledger.Account, error) {
	var accountModels []models.BillingAccountModel
	if err := r.db.WithContext(ctx).
		Preload("Postings", postingOrder).
		Where("tenant_id = ? AND status = ?", tenantID, ledger.AccountStatusActive).
		Order("created_at ASC").
		Find(&accountModels).Error; err != nil {
		return nil, err
	}
	return toDomainAccounts(accountModels)
}

// TenantIDs returns the distinct tenants that own billing accounts. The
// billing cycle scheduler uses this to enumerate cycle runs.
func (r *GormAccountRepository) TenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var tenantIDs []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.BillingAccountModel{}).
		Distinct("tenant_id").
		Order("tenant_id ASC").
		Pluck("tenant_id", &tenantIDs).Error; err != nil {
		return nil, err
	}
	return tenantIDs, nil
}

// OutstandingReceivables returns the net accounts-receivable balance per
// currency for a tenant (AR debits minus AR credits). Feeds the periodic
// receivables gauge.
func (r *GormAccountRepository) OutstandingReceivables(ctx context.Context, tenantID uuid.UUID) (map[string]decimal.Decimal, error) {
	var rows []struct {
		Currency string
		Net      decimal.Decimal
	}
	if err := r.db.WithContext(ctx).
		Model(&models.PostingModel{}).
		Select("currency, COALESCE(SUM(CASE WHEN side = ? THEN amount ELSE -amount END), 0) AS net",
			ledger.EntrySideDebit).
		Where("tenant_id = ? AND ledger_account = ?", tenantID, ledger.LedgerAccountReceivable).
		Group("currency").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		balances[row.Currency] = row.Net
	}
	return balances, nil
}

// FindPostings lists postings for an account with filtering
func (r *GormAccountRepository) FindPostings(ctx context.Context, tenantID, accountID uuid.UUID, filter ledger.PostingFilter) ([]ledger.Posting, error) {
	var postingModels []models.PostingModel
	query := r.db.WithContext(ctx).Model(&models.PostingModel{}).
		Where("tenant_id = ? AND account_id = ?", tenantID, accountID)
	query = r.applyPostingFilter(query, filter)

	if err := query.Find(&postingModels).Error; err != nil {
		return nil, err
	}

	postings := make([]ledger.Posting, len(postingModels))
	for i := range postingModels {
		p, err := postingModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		postings[i] = *p
	}
	return postings, nil
}

// Save creates or updates an account together with any postings appended
// since it was loaded. Postings are append-only; existing rows are never
// touched.
func (r *GormAccountRepository) Save(ctx context.Context, account *ledger.Account) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.persist(tx, account)
	})
}

// SaveWithLock saves with optimistic locking. The domain command has already
// incremented the aggregate version, so the stored row must still be at
// Version-1.
func (r *GormAccountRepository) SaveWithLock(ctx context.Context, account *ledger.Account) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.persistLocked(tx, account)
	})
}

// SaveWithEvents persists the account and writes the supplied domain events
// to the outbox in the same transaction. This implements the transactional
// outbox pattern: either the ledger change and its events both commit, or
// neither does.
func (r *GormAccountRepository) SaveWithEvents(ctx context.Context, account *ledger.Account, events []shared.DomainEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.persistLocked(tx, account); err != nil {
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

// persist creates or replaces the account row and inserts new postings
// without a version check.
func (r *GormAccountRepository) persist(tx *gorm.DB, account *ledger.Account) error {
	model := models.BillingAccountModelFromDomain(account)
	if err := tx.Omit("Postings").Save(model).Error; err != nil {
		return translateUniqueViolation(err)
	}
	return r.insertNewPostings(tx, model)
}

// persistLocked creates the account when it does not exist yet, otherwise
// updates it with an optimistic version check.
func (r *GormAccountRepository) persistLocked(tx *gorm.DB, account *ledger.Account) error {
	model := models.BillingAccountModelFromDomain(account)

	var currentVersion int
	result := tx.Model(&models.BillingAccountModel{}).
		Where("id = ?", account.ID).
		Select("version").
		Scan(&currentVersion)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if err := tx.Omit("Postings").Create(model).Error; err != nil {
			return translateUniqueViolation(err)
		}
		return r.insertNewPostings(tx, model)
	}

	if currentVersion != account.Version-1 {
		return shared.NewDomainError("CONCURRENT_MODIFICATION", "The account has been modified by another transaction")
	}

	update := tx.Model(&models.BillingAccountModel{}).
		Where("id = ? AND version = ?", account.ID, currentVersion).
		Updates(map[string]interface{}{
			"name":                model.Name,
			"category":            model.Category,
			"status":              model.Status,
			"currency":            model.Currency,
			"deactivated_at":      model.DeactivatedAt,
			"deactivation_reason": model.DeactivationReason,
			"version":             model.Version,
			"updated_at":          model.UpdatedAt,
		})
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected == 0 {
		return shared.NewDomainError("CONCURRENT_MODIFICATION", "The account has been modified by another transaction")
	}

	return r.insertNewPostings(tx, model)
}

// insertNewPostings inserts postings that are not yet stored. Postings are
// immutable, so rows already present are left untouched.
func (r *GormAccountRepository) insertNewPostings(tx *gorm.DB, model *models.BillingAccountModel) error {
	if len(model.Postings) == 0 {
		return nil
	}

	var existingIDs []uuid.UUID
	if err := tx.Model(&models.PostingModel{}).
		Where("account_id = ?", model.ID).
		Pluck("id", &existingIDs).Error; err != nil {
		return err
	}
	existing := make(map[uuid.UUID]bool, len(existingIDs))
	for _, id := range existingIDs {
		existing[id] = true
	}

	for i := range model.Postings {
		if existing[model.Postings[i].ID] {
			continue
		}
		if err := tx.Create(&model.Postings[i]).Error; err != nil {
			return translatePostingUniqueViolation(err, &model.Postings[i])
		}
	}
	return nil
}

// applyAccountFilter applies filter options to the query
func (r *GormAccountRepository) applyAccountFilter(query *gorm.DB, filter ledger.AccountFilter) *gorm.DB {
	query = r.applyAccountFilterWithoutPagination(query, filter)

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	orderBy := ValidateSortField(filter.OrderBy, accountSortFields, "created_at")
	return query.Order(orderBy + " " + ValidateSortOrder(filter.OrderDir))
}

// applyAccountFilterWithoutPagination applies filter options without pagination
func (r *GormAccountRepository) applyAccountFilterWithoutPagination(query *gorm.DB, filter ledger.AccountFilter) *gorm.DB {
	if filter.Name != nil && *filter.Name != "" {
		query = query.Where("name ILIKE ?", *filter.Name+"%")
	}
	if filter.Category != nil {
		query = query.Where("category = ?", *filter.Category)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.FromDate != nil {
		query = query.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("created_at <= ?", *filter.ToDate)
	}
	return query
}

// applyPostingFilter applies filter options to a posting query. The date
// range is half-open: FromDate inclusive, ToDate exclusive, matching the
// billing period convention.
func (r *GormAccountRepository) applyPostingFilter(query *gorm.DB, filter ledger.PostingFilter) *gorm.DB {
	if filter.LedgerAccount != nil {
		query = query.Where("ledger_account = ?", *filter.LedgerAccount)
	}
	if filter.Side != nil {
		query = query.Where("side = ?", *filter.Side)
	}
	if filter.SourceKind != nil {
		query = query.Where("source_kind = ?", *filter.SourceKind)
	}
	if filter.FromDate != nil {
		query = query.Where("transaction_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("transaction_date < ?", *filter.ToDate)
	}

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	orderBy := ValidateSortField(filter.OrderBy, postingSortFields, "transaction_date")
	if filter.OrderBy == "" {
		return query.Order("transaction_date ASC, created_at ASC")
	}
	return query.Order(orderBy + " " + ValidateSortOrder(filter.OrderDir))
}

// postingOrder keeps preloaded postings in chronological order so replayed
// duplicate checks and balance sums are deterministic.
func postingOrder(db *gorm.DB) *gorm.DB {
	return db.Order("transaction_date ASC, created_at ASC")
}

func toDomainAccounts(accountModels []models.BillingAccountModel) ([]ledger.Account, error) {
	accounts := make([]ledger.Account, len(accountModels))
	for i := range accountModels {
		account, err := accountModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		accounts[i] = *account
	}
	return accounts, nil
}

// translateUniqueViolation maps database uniqueness errors onto
// shared.ErrAlreadyExists so callers can treat a concurrent replay the same
// way as an in-memory duplicate.
func translateUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return shared.ErrAlreadyExists
	}
	return err
}

// translatePostingUniqueViolation maps an idx_posting_source violation onto
// the duplicate codes the aggregate itself raises, so a replayed charge or
// payment is rejected with the same code whether the in-memory check or the
// database catches it. Violations of any other constraint keep the generic
// shared.ErrAlreadyExists mapping.
func translatePostingUniqueViolation(err error, posting *models.PostingModel) error {
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" && pgErr.ConstraintName != postingSourceConstraint {
		return shared.ErrAlreadyExists
	}
	if posting.SourceKind == ledger.SourceKindPayment {
		return shared.NewDomainError(ledger.ErrCodeDuplicatePayment,
			fmt.Sprintf("A payment already exists for reference %s", posting.SourceRef))
	}
	return shared.NewDomainError(ledger.ErrCodeDuplicateCharge,
		fmt.Sprintf("A charge already exists for ride %s", posting.SourceRef))
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
