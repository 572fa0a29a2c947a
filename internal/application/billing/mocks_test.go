package billing

import (
	"context"
	"time"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockAccountRepository is a mock implementation of ledger.AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter ledger.AccountFilter) ([]ledger.Account, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).([]ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter ledger.AccountFilter) (int64, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountRepository) FindActiveForTenant(ctx context.Context, tenantID uuid.UUID) ([]ledger.Account, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).([]ledger.Account), args.Error(1)
}

func (m *MockAccountRepository) FindPostings(ctx context.Context, tenantID, accountID uuid.UUID, filter ledger.PostingFilter) ([]ledger.Posting, error) {
	args := m.Called(ctx, tenantID, accountID, filter)
	return args.Get(0).([]ledger.Posting), args.Error(1)
}

func (m *MockAccountRepository) Save(ctx context.Context, account *ledger.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) SaveWithLock(ctx context.Context, account *ledger.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) SaveWithEvents(ctx context.Context, account *ledger.Account, events []shared.DomainEvent) error {
	args := m.Called(ctx, account, events)
	return args.Error(0)
}

// MockInvoiceRepository is a mock implementation of invoice.InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoice.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*invoice.Invoice, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoice.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByInvoiceNumber(ctx context.Context, tenantID uuid.UUID, invoiceNumber string) (*invoice.Invoice, error) {
	args := m.Called(ctx, tenantID, invoiceNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoice.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter invoice.InvoiceFilter) ([]invoice.Invoice, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).([]invoice.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByAccount(ctx context.Context, tenantID, accountID uuid.UUID, filter invoice.InvoiceFilter) ([]invoice.Invoice, error) {
	args := m.Called(ctx, tenantID, accountID, filter)
	return args.Get(0).([]invoice.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter invoice.InvoiceFilter) (int64, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInvoiceRepository) ExistsForPeriod(ctx context.Context, tenantID, accountID uuid.UUID, frequency invoice.BillingFrequency, periodStart time.Time) (bool, error) {
	args := m.Called(ctx, tenantID, accountID, frequency, periodStart)
	return args.Get(0).(bool), args.Error(1)
}

func (m *MockInvoiceRepository) Save(ctx context.Context, inv *invoice.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockInvoiceRepository) SaveWithLock(ctx context.Context, inv *invoice.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockInvoiceRepository) SaveWithEvents(ctx context.Context, inv *invoice.Invoice, events []shared.DomainEvent) error {
	args := m.Called(ctx, inv, events)
	return args.Error(0)
}

// MockNumberAllocator is a mock implementation of invoice.NumberAllocator
type MockNumberAllocator struct {
	mock.Mock
}

func (m *MockNumberAllocator) NextInvoiceNumber(ctx context.Context, tenantID uuid.UUID, date time.Time) (string, error) {
	args := m.Called(ctx, tenantID, date)
	return args.String(0), args.Error(1)
}
