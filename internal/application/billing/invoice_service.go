package billing

import (
	"context"
	"time"

	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/domain/ledger"
	"github.com/fleetbill/backend/internal/domain/shared"
	"github.com/fleetbill/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceService provides application-level invoice operations
type InvoiceService struct {
	accountRepo     ledger.AccountRepository
	invoiceRepo     invoice.InvoiceRepository
	numberAllocator invoice.NumberAllocator
	clock           shared.Clock
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	accountRepo ledger.AccountRepository,
	invoiceRepo invoice.InvoiceRepository,
	numberAllocator invoice.NumberAllocator,
	clock shared.Clock,
) *InvoiceService {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &InvoiceService{
		accountRepo:     accountRepo,
		invoiceRepo:     invoiceRepo,
		numberAllocator: numberAllocator,
		clock:           clock,
	}
}

// InvoiceResponse represents an invoice in API responses
type InvoiceResponse struct {
	ID                   uuid.UUID          `json:"id"`
	TenantID             uuid.UUID          `json:"tenant_id"`
	AccountID            uuid.UUID          `json:"account_id"`
	InvoiceNumber        string             `json:"invoice_number"`
	Frequency            string             `json:"frequency"`
	PeriodStart          time.Time          `json:"period_start"`
	PeriodEnd            time.Time          `json:"period_end"`
	GeneratedAt          time.Time          `json:"generated_at"`
	Status               string             `json:"status"`
	Subtotal             decimal.Decimal    `json:"subtotal"`
	TotalPaymentsApplied decimal.Decimal    `json:"total_payments_applied"`
	Outstanding          decimal.Decimal    `json:"outstanding"`
	Currency             string             `json:"currency"`
	LineItems            []LineItemResponse `json:"line_items,omitempty"`
	VoidedAt             *time.Time         `json:"voided_at,omitempty"`
	VoidReason           string             `json:"void_reason,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	Version              int                `json:"version"`
}

// LineItemResponse represents an invoice line item in API responses
type LineItemResponse struct {
	ID               uuid.UUID       `json:"id"`
	GroupKey         string          `json:"group_key"`
	ServiceDate      time.Time       `json:"service_date"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	TracedPostingIDs []uuid.UUID     `json:"traced_posting_ids"`
}

// GenerateInvoiceRequest carries the inputs for generating an invoice
type GenerateInvoiceRequest struct {
	AccountID   uuid.UUID  `json:"account_id"`
	Frequency   string     `json:"frequency"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	CreatedBy   *uuid.UUID `json:"-"` // Set from JWT context
}

// VoidInvoiceRequest carries the inputs for voiding an invoice
type VoidInvoiceRequest struct {
	Reason string `json:"reason"`
}

// InvoiceListFilter defines filtering options for invoice list queries
type InvoiceListFilter struct {
	AccountID *uuid.UUID `form:"account_id"`
	Status    string     `form:"status"`
	Frequency string     `form:"frequency"`
	FromDate  *time.Time `form:"from_date" time_format:"2006-01-02"`
	ToDate    *time.Time `form:"to_date" time_format:"2006-01-02"`
	Page      int        `form:"page"`
	PageSize  int        `form:"page_size"`
}

// GenerateInvoice derives an invoice from an account's charge postings in
// [PeriodStart, PeriodEnd). The payments total applied against the invoice is
// the sum of payment credits in the same window; the invoice number comes
// from the tenant-scoped allocator.
func (s *InvoiceService) GenerateInvoice(ctx context.Context, tenantID uuid.UUID, req GenerateInvoiceRequest) (_ *InvoiceResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "generate",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, req.AccountID),
		telemetry.WithAttribute(telemetry.SpanAttrFrequency, req.Frequency))
	defer func() { endSpan(span, err) }()

	account, err := s.accountRepo.FindByIDForTenant(ctx, tenantID, req.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	charges := account.ChargePostingsInPeriod(req.PeriodStart, req.PeriodEnd)
	payments := account.PaymentsTotalInPeriod(req.PeriodStart, req.PeriodEnd)

	number, err := s.numberAllocator.NextInvoiceNumber(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}

	createdBy := uuid.Nil
	if req.CreatedBy != nil {
		createdBy = *req.CreatedBy
	}

	inv, events, err := invoice.GenerateInvoice(
		number,
		account.ID,
		tenantID,
		invoice.BillingFrequency(req.Frequency),
		req.PeriodStart,
		req.PeriodEnd,
		charges,
		payments,
		createdBy,
		now,
	)
	if err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithEvents(ctx, inv, events); err != nil {
		return nil, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrInvoiceNumber, inv.InvoiceNumber)
	return toInvoiceResponse(inv, true), nil
}

// VoidInvoice voids a generated invoice
func (s *InvoiceService) VoidInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID, req VoidInvoiceRequest) (_ *InvoiceResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "void",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrInvoiceID, invoiceID))
	defer func() { endSpan(span, err) }()

	inv, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	events, err := inv.Void(req.Reason, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithEvents(ctx, inv, events); err != nil {
		return nil, err
	}

	return toInvoiceResponse(inv, true), nil
}

// GetInvoice gets an invoice by ID with its line items
func (s *InvoiceService) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv, true), nil
}

// GetInvoiceByNumber gets an invoice by its tenant-scoped number
func (s *InvoiceService) GetInvoiceByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByInvoiceNumber(ctx, tenantID, number)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv, true), nil
}

// ListInvoices lists invoices with filtering. Line items are omitted from
// list responses.
func (s *InvoiceService) ListInvoices(ctx context.Context, tenantID uuid.UUID, filter InvoiceListFilter) ([]InvoiceResponse, int64, error) {
	domainFilter := invoice.InvoiceFilter{
		AccountID: filter.AccountID,
		FromDate:  filter.FromDate,
		ToDate:    filter.ToDate,
	}
	domainFilter.Page = filter.Page
	domainFilter.PageSize = filter.PageSize

	if filter.Status != "" {
		status := invoice.InvoiceStatus(filter.Status)
		domainFilter.Status = &status
	}
	if filter.Frequency != "" {
		frequency := invoice.BillingFrequency(filter.Frequency)
		domainFilter.Frequency = &frequency
	}

	invoices, err := s.invoiceRepo.FindAllForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.invoiceRepo.CountForTenant(ctx, tenantID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]InvoiceResponse, len(invoices))
	for i := range invoices {
		responses[i] = *toInvoiceResponse(&invoices[i], false)
	}

	return responses, total, nil
}

func toInvoiceResponse(inv *invoice.Invoice, withItems bool) *InvoiceResponse {
	resp := &InvoiceResponse{
		ID:                   inv.ID,
		TenantID:             inv.TenantID,
		AccountID:            inv.AccountID,
		InvoiceNumber:        inv.InvoiceNumber,
		Frequency:            string(inv.Frequency),
		PeriodStart:          inv.PeriodStart,
		PeriodEnd:            inv.PeriodEnd,
		GeneratedAt:          inv.GeneratedAt,
		Status:               string(inv.Status),
		Subtotal:             inv.Subtotal.Magnitude(),
		TotalPaymentsApplied: inv.TotalPaymentsApplied.Magnitude(),
		Outstanding:          inv.Outstanding().Amount(),
		Currency:             string(inv.Subtotal.Currency()),
		VoidedAt:             inv.VoidedAt,
		VoidReason:           inv.VoidReason,
		CreatedAt:            inv.CreatedAt,
		UpdatedAt:            inv.UpdatedAt,
		Version:              inv.GetVersion(),
	}

	if withItems {
		items := inv.LineItems()
		resp.LineItems = make([]LineItemResponse, len(items))
		for i, item := range items {
			resp.LineItems[i] = LineItemResponse{
				ID:               item.ID,
				GroupKey:         item.GroupKey,
				ServiceDate:      item.ServiceDate,
				Amount:           item.Amount.Magnitude(),
				Description:      item.Description,
				TracedPostingIDs: item.TracedPostingIDs,
			}
		}
	}

	return resp
}
