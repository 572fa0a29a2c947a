package billing

import (
	"context"
	"time"

	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/domain/shared/valueobject"
	"github.com/fleetbill/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

// endSpan records err on the span, if any, before ending it. Meant to be
// deferred by service methods with a named error return.
func endSpan(span trace.Span, err error) {
	telemetry.RecordError(span, err)
	span.End()
}

// AccountService provides application-level billing account operations.
// Every operation takes the tenant ID explicitly; there is no ambient tenant
// state on the service.
type AccountService struct {
	accountRepo ledger.AccountRepository
	clock       shared.Clock
}

// NewAccountService creates a new AccountService
func NewAccountService(accountRepo ledger.AccountRepository, clock shared.Clock) *AccountService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &AccountService{
		accountRepo: accountRepo,
		clock:       clock,
	}
}

// AccountResponse represents a billing account in API responses
type AccountResponse struct {
	ID                 uuid.UUID       `json:"id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	Name               string          `json:"name"`
	Category           string          `json:"category"`
	Status             string          `json:"status"`
	Currency           string          `json:"currency"`
	Balance            decimal.Decimal `json:"balance"`
	PostingCount       int             `json:"posting_count"`
	DeactivatedAt      *time.Time      `json:"deactivated_at,omitempty"`
	DeactivationReason string          `json:"deactivation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
}

// PostingResponse represents a ledger posting in API responses
type PostingResponse struct {
	ID              uuid.UUID         `json:"id"`
	AccountID       uuid.UUID         `json:"account_id"`
	LedgerAccount   string            `json:"ledger_account"`
	Side            string            `json:"side"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	SourceKind      string            `json:"source_kind"`
	SourceRef       string            `json:"source_ref"`
	TransactionDate time.Time         `json:"transaction_date"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// BalanceResponse represents an account balance in API responses
type BalanceResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	AsOf      time.Time       `json:"as_of"`
}

// CreateAccountRequest carries the inputs for opening a billing account
type CreateAccountRequest struct {
	Name      string     `json:"name"`
	Category  string     `json:"category"`
	Currency  string     `json:"currency"`
	CreatedBy *uuid.UUID `json:"-"` // Set from JWT context, not from request body
}

// RecordChargeRequest carries the inputs for recording a ride charge
type RecordChargeRequest struct {
	RideID      string          `json:"ride_id"`
	Amount      decimal.Decimal `json:"amount"`
	ServiceDate time.Time       `json:"service_date"`
	FleetID     *uuid.UUID      `json:"fleet_id,omitempty"`
	Actor       *uuid.UUID      `json:"-"` // Set from JWT context
}

// RecordPaymentRequest carries the inputs for recording a payment
type RecordPaymentRequest struct {
	PaymentRef  string          `json:"payment_ref"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
	Mode        string          `json:"mode"`
	Actor       *uuid.UUID      `json:"-"` // Set from JWT context
}

// DeactivateAccountRequest carries the inputs for deactivating an account
type DeactivateAccountRequest struct {
	Reason string `json:"reason"`
}

// AccountListFilter defines filtering options for account list queries
type AccountListFilter struct {
	Category string     `form:"category"`
	Status   string     `form:"status"`
	Name     string     `form:"name"`
	FromDate *time.Time `form:"from_date" time_format:"2006-01-02"`
	ToDate   *time.Time `form:"to_date" time_format:"2006-01-02"`
	Page     int        `form:"page"`
	PageSize int        `form:"page_size"`
}

// PostingListFilter defines filtering options for posting list queries
type PostingListFilter struct {
	LedgerAccount string     `form:"ledger_account"`
	Side          string     `form:"side"`
	SourceKind    string     `form:"source_kind"`
	FromDate      *time.Time `form:"from_date" time_format:"2006-01-02"`
	ToDate        *time.Time `form:"to_date" time_format:"2006-01-02"`
	Page          int        `form:"page"`
	PageSize      int        `form:"page_size"`
}

// CreateAccount opens a new billing account
func (s *AccountService) CreateAccount(ctx context.Context, tenantID uuid.UUID, req CreateAccountRequest) (_ *AccountResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing_account", "create",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID))
	defer func() { endSpan(span, err) }()

	createdBy := uuid.Nil
	if req.CreatedBy != nil {
		createdBy = *req.CreatedBy
	}

	account, events, err := ledger.NewAccount(
		tenantID,
		req.Name,
		ledger.AccountCategory(req.Category),
		valueobject.Currency(req.Currency),
		createdBy,
		s.clock.Now(),
	)
	if err != nil {
		return nil, err
	}

	if err := s.accountRepo.SaveWithEvents(ctx, account, events); err != nil {
		return nil, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrAccountID, account.ID)
	return toAccountResponse(account), nil
}

// RecordCharge records a ride charge on an account
func (s *AccountService) RecordCharge(ctx context.Context, tenantID, accountID uuid.UUID, req RecordChargeRequest) (_ *AccountResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing_account", "record_charge",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, accountID),
		telemetry.WithAttribute(telemetry.SpanAttrSourceRef, req.RideID))
	defer func() { endSpan(span, err) }()

	account, err := s.accountRepo.FindByIDForTenant(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	amount, err := valueobject.NewAmount(req.Amount, account.Currency)
	if err != nil {
		return nil, err
	}

	fleetID := uuid.Nil
	if req.FleetID != nil {
		fleetID = *req.FleetID
	}
	actor := uuid.Nil
	if req.Actor != nil {
		actor = *req.Actor
	}

	events, err := account.RecordCharge(req.RideID, amount, req.ServiceDate, fleetID, actor, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.accountRepo.SaveWithEvents(ctx, account, events); err != nil {
		return nil, err
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrAmount, req.Amount,
		telemetry.SpanAttrCurrency, string(account.Currency))
	return toAccountResponse(account), nil
}

// RecordPayment records a received payment on an account
func (s *AccountService) RecordPayment(ctx context.Context, tenantID, accountID uuid.UUID, req RecordPaymentRequest) (_ *AccountResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing_account", "record_payment",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, accountID),
		telemetry.WithAttribute(telemetry.SpanAttrSourceRef, req.PaymentRef))
	defer func() { endSpan(span, err) }()

	account, err := s.accountRepo.FindByIDForTenant(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	amount, err := valueobject.NewAmount(req.Amount, account.Currency)
	if err != nil {
		return nil, err
	}

	actor := uuid.Nil
	if req.Actor != nil {
		actor = *req.Actor
	}

	events, err := account.RecordPayment(req.PaymentRef, amount, req.PaymentDate,
		ledger.PaymentMode(req.Mode), actor, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.accountRepo.SaveWithEvents(ctx, account, events); err != nil {
		return nil, err
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrAmount, req.Amount,
		telemetry.SpanAttrCurrency, string(account.Currency))
	return toAccountResponse(account), nil
}

// DeactivateAccount closes an account to new charges and payments
func (s *AccountService) DeactivateAccount(ctx context.Context, tenantID, accountID uuid.UUID, req DeactivateAccountRequest) (_ *AccountResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing_account", "deactivate",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, accountID))
	defer func() { endSpan(span, err) }()

	account, err := s.accountRepo.FindByIDForTenant(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	events, err := account.Deactivate(req.Reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	// Idempotent replay: nothing changed, nothing to save
	if len(events) == 0 {
		return toAccountResponse(account), nil
	}

	if err := s.accountRepo.SaveWithEvents(ctx, account, events); err != nil {
		return nil, err
	}

	return toAccountResponse(account), nil
}

// GetAccount gets a billing account by ID
func (s *AccountService) GetAccount(ctx context.Context, tenantID, accountID uuid.UUID) (*AccountResponse, error) {
	account, err := s.accountRepo.FindByIDForTenant(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	return toAccountResponse(account), nil
}

// GetBalance computes the current receivable balance of an account
func (s *AccountService) GetBalance(ctx context.Context, tenantID, accountID uuid.UUID) (*BalanceResponse, error) {
	account, err := s.accountRepo.FindByIDForTenant(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	bal := account.Balance()
	return &BalanceResponse{
		AccountID: account.ID,
		Balance:   bal.Amount(),
		Currency:  string(bal.Currency()),
		AsOf:      s.clock.Now(),
	}, nil
}

// ListAccounts lists accounts with filtering
func (s *AccountService) ListAccounts(ctx context.Context, tenantID uuid.UUID, filter AccountListFilter) ([]AccountResponse, int64, error) {
	domainFilter := ledger.AccountFilter{
		FromDate: filter.FromDate,
		ToDate:   filter.ToDate,
	}
	domainFilter.Page = filter.Page
	domainFilter.PageSize = filter.PageSize

	if filter.Category != "" {
		category := ledger.AccountCategory(filter.Category)
		domainFilter.Category = &category
	}
	if filter.Status != "" {
		status := ledger.AccountStatus(filter.Status)
		domainFilter.Status = &status
	}
	if filter.Name != "" {
		domainFilter.Name = &filter.Name
	}

	accounts, err := s.accountRepo.FindAllForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.accountRepo.CountForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]AccountResponse, len(accounts))
	for i := range accounts {
		responses[i] = *toAccountResponse(&accounts[i])
	}

	return responses, total, nil
}

// ListPostings lists an account's ledger postings with filtering
func (s *AccountService) ListPostings(ctx context.Context, tenantID, accountID uuid.UUID, filter PostingListFilter) ([]PostingResponse, error) {
	domainFilter := ledger.PostingFilter{
		FromDate: filter.FromDate,
		ToDate:   filter.ToDate,
	}
	domainFilter.Page = filter.Page
	domainFilter.PageSize = filter.PageSize

	if filter.LedgerAccount != "" {
		la := ledger.LedgerAccount(filter.LedgerAccount)
		domainFilter.LedgerAccount = &la
	}
	if filter.Side != "" {
		side := ledger.EntrySide(filter.Side)
		domainFilter.Side = &side
	}
	if filter.SourceKind != "" {
		kind := ledger.SourceKind(filter.SourceKind)
		domainFilter.SourceKind = &kind
	}

	postings, err := s.accountRepo.FindPostings(ctx, tenantID, accountID, domainFilter)
	if err != nil {
		return nil, err
	}

	responses := make([]PostingResponse, len(postings))
	for i := range postings {
		responses[i] = *toPostingResponse(&postings[i])
	}
	return responses, nil
}

func toAccountResponse(a *ledger.Account) *AccountResponse {
	return &AccountResponse{
		ID:                 a.ID,
		TenantID:           a.TenantID,
		Name:               a.Name,
		Category:           string(a.Category),
		Status:             string(a.Status),
		Currency:           string(a.Currency),
		Balance:            a.Balance().Amount(),
		PostingCount:       a.PostingCount(),
		DeactivatedAt:      a.DeactivatedAt,
		DeactivationReason: a.DeactivationReason,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		Version:            a.GetVersion(),
	}
}

func toPostingResponse(p *ledger.Posting) *PostingResponse {
	return &PostingResponse{
		ID:              p.ID(),
		AccountID:       p.AccountID(),
		LedgerAccount:   p.LedgerAccount().String(),
		Side:            string(p.Side()),
		Amount:          p.Amount().Magnitude(),
		Currency:        string(p.Amount().Currency()),
		SourceKind:      string(p.SourceKind()),
		SourceRef:       p.SourceRef(),
		TransactionDate: p.TransactionDate(),
		Metadata:        p.Metadata(),
		CreatedAt:       p.CreatedAt(),
	}
}
