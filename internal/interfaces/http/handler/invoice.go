package handler

import (
	"time"

	billingapp "github.com/fleetbill/backend/internal/application/billing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// InvoiceHandler handles invoice API endpoints
type InvoiceHandler struct {
	BaseHandler
	invoiceService *billingapp.InvoiceService
}

// NewInvoiceHandler creates a new InvoiceHandler
func NewInvoiceHandler(invoiceService *billingapp.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
	}
}

// GenerateInvoiceRequest represents a request to generate an invoice
// @Description Request body for generating an invoice over a billing period
type GenerateInvoiceRequest struct {
	AccountID   string    `json:"account_id" binding:"required,uuid" example:"7f9c3a2e-1d44-4b1a-a2cf-08f1b07d2a10"`
	Frequency   string    `json:"frequency" binding:"required,oneof=PER_RIDE DAILY WEEKLY MONTHLY" example:"WEEKLY"`
	PeriodStart time.Time `json:"period_start" binding:"required" example:"2026-08-24T00:00:00Z"`
	PeriodEnd   time.Time `json:"period_end" binding:"required" example:"2026-08-31T00:00:00Z"`
}

// VoidInvoiceRequest represents a request to void an invoice
// @Description Request body for voiding an issued invoice
type VoidInvoiceRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500" example:"Duplicate billing period"`
}

// Generate godoc
// @ID           generateInvoice
// @Summary      Generate an invoice
// @Description  Generate an invoice from the unbilled charges of an account over a billing period
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        request body GenerateInvoiceRequest true "Invoice generation request"
// @Success      201 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/invoices [post]
func (h *InvoiceHandler) Generate(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req GenerateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	appReq := billingapp.GenerateInvoiceRequest{
		AccountID:   accountID,
		Frequency:   req.Frequency,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	}
	if userID, err := getUserID(c); err == nil && userID != uuid.Nil {
		appReq.CreatedBy = &userID
	}

	invoice, err := h.invoiceService.GenerateInvoice(c.Request.Context(), tenantID, appReq)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, invoice)
}

// GetByID godoc
// @ID           getInvoiceById
// @Summary      Get invoice by ID
// @Description  Retrieve an invoice with its line items and payment totals
// @Tags         invoices
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/invoices/{id} [get]
func (h *InvoiceHandler) GetByID(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// GetByNumber godoc
// @ID           getInvoiceByNumber
// @Summary      Get invoice by number
// @Description  Retrieve an invoice by its human-readable invoice number
// @Tags         invoices
// @Produce      json
// @Param        number path string true "Invoice number" example(INV-20260831-00042)
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/invoices/by-number/{number} [get]
func (h *InvoiceHandler) GetByNumber(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	number := c.Param("number")
	if number == "" {
		h.BadRequest(c, "Invoice number is required")
		return
	}

	invoice, err := h.invoiceService.GetInvoiceByNumber(c.Request.Context(), tenantID, number)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}

// List godoc
// @ID           listInvoices
// @Summary      List invoices
// @Description  Retrieve a paginated list of invoices with optional filtering
// @Tags         invoices
// @Produce      json
// @Param        account_id query string false "Account ID" format(uuid)
// @Param        status query string false "Invoice status" Enums(GENERATED, VOIDED)
// @Param        frequency query string false "Billing frequency" Enums(PER_RIDE, DAILY, WEEKLY, MONTHLY)
// @Param        from_date query string false "Issue date lower bound (inclusive)" format(date)
// @Param        to_date query string false "Issue date upper bound (exclusive)" format(date)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var filter billingapp.InvoiceListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	invoices, total, err := h.invoiceService.ListInvoices(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, invoices, total, filter.Page, filter.PageSize)
}

// Void godoc
// @ID           voidInvoice
// @Summary      Void an invoice
// @Description  Void an issued invoice so its charges become billable again
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        id path string true "Invoice ID" format(uuid)
// @Param        request body VoidInvoiceRequest true "Void request"
// @Success      200 {object} APIResponse[billingapp.InvoiceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/invoices/{id}/void [post]
func (h *InvoiceHandler) Void(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req VoidInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.invoiceService.VoidInvoice(c.Request.Context(), tenantID, invoiceID,
		billingapp.VoidInvoiceRequest{Reason: req.Reason})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, invoice)
}
