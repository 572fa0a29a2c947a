package handler

import (
	"time"

	billingapp "github.com/fleetbill/backend/internal/application/billing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountHandler handles billing account API endpoints
type AccountHandler struct {
	BaseHandler
	accountService *billingapp.AccountService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accountService *billingapp.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

// CreateAccountRequest represents a request to open a billing account
// @Description Request body for opening a billing account
type CreateAccountRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=200" example:"Downtown Fleet 12"`
	Category string `json:"category" binding:"required,oneof=INDIVIDUAL ORGANIZATION" example:"ORGANIZATION"`
	Currency string `json:"currency" binding:"required,currency" example:"USD"`
}

// RecordChargeRequest represents a request to record a ride charge
// @Description Request body for recording a completed ride charge
type RecordChargeRequest struct {
	RideID      string    `json:"ride_id" binding:"required,min=1,max=100" example:"ride-2026-08-001942"`
	Amount      float64   `json:"amount" binding:"required,gt=0" example:"23.50"`
	ServiceDate time.Time `json:"service_date" binding:"required" example:"2026-08-30T18:04:05Z"`
	FleetID     *string   `json:"fleet_id" binding:"omitempty,uuid" example:"0b5fa1f6-6f0b-4f9f-9be2-54a9b0ddc501"`
}

// RecordPaymentRequest represents a request to record a payment
// @Description Request body for applying a payment against an account
type RecordPaymentRequest struct {
	PaymentRef  string    `json:"payment_ref" binding:"required,min=1,max=100" example:"pay-20260830-8812"`
	Amount      float64   `json:"amount" binding:"required,gt=0" example:"150.00"`
	PaymentDate time.Time `json:"payment_date" binding:"required" example:"2026-08-30T19:00:00Z"`
	Mode        string    `json:"mode" binding:"required,oneof=CARD BANK_TRANSFER WALLET CASH" example:"CARD"`
}

// DeactivateAccountRequest represents a request to deactivate an account
// @Description Request body for deactivating a billing account
type DeactivateAccountRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500" example:"Fleet contract terminated"`
}

// Create godoc
// @ID           createBillingAccount
// @Summary      Open a billing account
// @Description  Open a new billing account for a rider or fleet
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request body CreateAccountRequest true "Account creation request"
// @Success      201 {object} APIResponse[billingapp.AccountResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	appReq := billingapp.CreateAccountRequest{
		Name:     req.Name,
		Category: req.Category,
		Currency: req.Currency,
	}
	if userID, err := getUserID(c); err == nil && userID != uuid.Nil {
		appReq.CreatedBy = &userID
	}

	account, err := h.accountService.CreateAccount(c.Request.Context(), tenantID, appReq)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, account)
}

// GetByID godoc
// @ID           getBillingAccountById
// @Summary      Get billing account by ID
// @Description  Retrieve a billing account with its balance and posting count
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID" format(uuid)
// @Success      200 {object} APIResponse[billingapp.AccountResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts/{id} [get]
func (h *AccountHandler) GetByID(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), tenantID, accountID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, account)
}

// List godoc
// @ID           listBillingAccounts
// @Summary      List billing accounts
// @Description  Retrieve a paginated list of billing accounts with optional filtering
// @Tags         accounts
// @Produce      json
// @Param        category query string false "Account category" Enums(INDIVIDUAL, ORGANIZATION)
// @Param        status query string false "Account status" Enums(ACTIVE, INACTIVE)
// @Param        name query string false "Name search term"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]billingapp.AccountResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var filter billingapp.AccountListFilter
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

	accounts, total, err := h.accountService.ListAccounts(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, accounts, total, filter.Page, filter.PageSize)
}

// RecordCharge godoc
// @ID           recordAccountCharge
// @Summary      Record a ride charge
// @Description  Record a double-entry charge posting (AR debit, revenue credit) for a completed ride
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id path string true "Account ID" format(uuid)
// @Param        request body RecordChargeRequest true "Charge request"
// @Success      201 {object} APIResponse[billingapp.AccountResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts/{id}/charges [post]
func (h *AccountHandler) RecordCharge(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	var req RecordChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	appReq := billingapp.RecordChargeRequest{
		RideID:      req.RideID,
		Amount:      toDecimal(req.Amount),
		ServiceDate: req.ServiceDate,
	}
	if req.FleetID != nil {
		fleetID, err := uuid.Parse(*req.FleetID)
		if err != nil {
			h.BadRequest(c, "Invalid fleet ID format")
			return
		}
		appReq.FleetID = &fleetID
	}
	if userID, err := getUserID(c); err == nil && userID != uuid.Nil {
		appReq.Actor = &userID
	}

	account, err := h.accountService.RecordCharge(c.Request.Context(), tenantID, accountID, appReq)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, account)
}

// RecordPayment godoc
// @ID           recordAccountPayment
// @Summary      Record a payment
// @Description  Record a double-entry payment posting (cash debit, AR credit) against an account
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id path string true "Account ID" format(uuid)
// @Param        request body RecordPaymentRequest true "Payment request"
// @Success      201 {object} APIResponse[billingapp.AccountResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts/{id}/payments [post]
func (h *AccountHandler) RecordPayment(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	appReq := billingapp.RecordPaymentRequest{
		PaymentRef:  req.PaymentRef,
		Amount:      toDecimal(req.Amount),
		PaymentDate: req.PaymentDate,
		Mode:        req.Mode,
	}
	if userID, err := getUserID(c); err == nil && userID != uuid.Nil {
		appReq.Actor = &userID
	}

	account, err := h.accountService.RecordPayment(c.Request.Context(), tenantID, accountID, appReq)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, account)
}

// Deactivate godoc
// @ID           deactivateBillingAccount
// @Summary      Deactivate a billing account
// @Description  Deactivate an account so it no longer accepts charges; payments stay allowed
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id path string true "Account ID" format(uuid)
// @Param        request body DeactivateAccountRequest true "Deactivation request"
// @Success      200 {object} APIResponse[billingapp.AccountResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts/{id}/deactivate [post]
func (h *AccountHandler) Deactivate(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	var req DeactivateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	account, err := h.accountService.DeactivateAccount(c.Request.Context(), tenantID, accountID,
		billingapp.DeactivateAccountRequest{Reason: req.Reason})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, account)
}

// GetBalance godoc
// @ID           getAccountBalance
// @Summary      Get account balance
// @Description  Retrieve the current net balance of a billing account
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID" format(uuid)
// @Success      200 {object} APIResponse[billingapp.BalanceResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts/{id}/balance [get]
func (h *AccountHandler) GetBalance(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	balance, err := h.accountService.GetBalance(c.Request.Context(), tenantID, accountID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, balance)
}

// ListPostings godoc
// @ID           listAccountPostings
// @Summary      List account postings
// @Description  Retrieve the ledger postings of an account with optional filtering
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID" format(uuid)
// @Param        ledger_account query string false "Ledger account" Enums(ACCOUNTS_RECEIVABLE, REVENUE, CASH)
// @Param        side query string false "Posting side" Enums(DEBIT, CREDIT)
// @Param        source_kind query string false "Source kind" Enums(RIDE, PAYMENT)
// @Param        from_date query string false "Transaction date lower bound (inclusive)" format(date)
// @Param        to_date query string false "Transaction date upper bound (exclusive)" format(date)
// @Success      200 {object} APIResponse[[]billingapp.PostingResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/accounts/{id}/postings [get]
func (h *AccountHandler) ListPostings(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	var filter billingapp.PostingListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	postings, err := h.accountService.ListPostings(c.Request.Context(), tenantID, accountID, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, postings)
}
