package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseAggregateRoot adds an optimistic-lock version to BaseEntity.
//
// Commands on an aggregate return the domain events they produced instead of
// accumulating them on the aggregate itself; the caller is responsible for
// handing those events to the outbox in the same unit of work that persists
// the aggregate. This keeps the event hand-off explicit and the aggregate
// free of hidden mutable state.
type BaseAggregateRoot struct {
	BaseEntity
	Version int
}

// GetVersion returns the aggregate version for optimistic locking
func (a *BaseAggregateRoot) GetVersion() int {
	return a.Version
}

// IncrementVersion is called by every state-changing command; repositories
// compare the incremented value against the stored row to detect a stale
// aggregate.
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

// TenantAggregateRoot scopes an aggregate to a tenant and records who
// created it. Every aggregate in this service is tenant-scoped.
type TenantAggregateRoot struct {
	BaseAggregateRoot
	TenantID  uuid.UUID
	CreatedBy *uuid.UUID
}

// NewTenantAggregateRootWithCreator builds a fresh tenant-scoped root at
// version 1.
func NewTenantAggregateRootWithCreator(tenantID, createdBy uuid.UUID, now time.Time) TenantAggregateRoot {
	return TenantAggregateRoot{
		BaseAggregateRoot: BaseAggregateRoot{
			BaseEntity: NewBaseEntity(now),
			Version:    1,
		},
		TenantID:  tenantID,
		CreatedBy: &createdBy,
	}
}
