package ledger

import (
	"context"
	"time"

	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// AccountFilter defines filtering options for account queries
type AccountFilter struct {
	shared.Filter
	Category *AccountCategory // Filter by party category
	Status   *AccountStatus   // Filter by lifecycle status
	Name     *string          // Filter by name (prefix match)
	FromDate *time.Time       // Filter by creation date range start
	ToDate   *time.Time       // Filter by creation date range end
}

// PostingFilter defines filtering options for posting queries
type PostingFilter struct {
	shared.Filter
	LedgerAccount *LedgerAccount // Filter by ledger account
	Side          *EntrySide     // Filter by debit/credit side
	SourceKind    *SourceKind    // Filter by originating source kind
	FromDate      *time.Time     // Filter by transaction date range start (inclusive)
	ToDate        *time.Time     // Filter by transaction date range end (exclusive)
}

// AccountRepository defines the interface for billing account persistence.
//
// Implementations must load an account together with its postings so the
// aggregate's duplicate-reference and balance checks see the full ledger,
// and must back the in-memory duplicate checks with a uniqueness constraint
// on (account_id, source_kind, source_ref, side) so a concurrent replay is
// rejected at commit time with DUPLICATE_CHARGE or DUPLICATE_PAYMENT, the
// same codes the aggregate raises on the fast path.
type AccountRepository interface {
	// FindByID finds an account by ID, postings included
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByIDForTenant finds an account by ID for a specific tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Account, error)

	// FindAllForTenant finds all accounts for a tenant with filtering
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter AccountFilter) ([]Account, error)

	// CountForTenant counts accounts for a tenant with optional filters
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter AccountFilter) (int64, error)

	// FindActiveForTenant finds all active accounts for a tenant. Billing
	// cycle runs use this to enumerate invoice candidates.
	FindActiveForTenant(ctx context.Context, tenantID uuid.UUID) ([]Account, error)

	// FindPostings lists postings for an account with filtering, ordered by
	// transaction date then creation time
	FindPostings(ctx context.Context, tenantID, accountID uuid.UUID, filter PostingFilter) ([]Posting, error)

	// Save persists a new or updated account together with any postings
	// appended since it was loaded
	Save(ctx context.Context, account *Account) error

	// SaveWithLock saves with optimistic locking (version check)
	SaveWithLock(ctx context.Context, account *Account) error

	// SaveWithEvents persists the account and writes the supplied domain
	// events to the outbox in the same transaction
	SaveWithEvents(ctx context.Context, account *Account, events []shared.DomainEvent) error
}
