package handler

import (
	billingapp "github.com/fleetbill/backend/internal/application/billing"
	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/gin-gonic/gin"
)

// BillingCycleHandler handles on-demand billing cycle runs
type BillingCycleHandler struct {
	BaseHandler
	cycleService *billingapp.BillingCycleService
}

// NewBillingCycleHandler creates a new BillingCycleHandler
func NewBillingCycleHandler(cycleService *billingapp.BillingCycleService) *BillingCycleHandler {
	return &BillingCycleHandler{
		cycleService: cycleService,
	}
}

// RunCycleRequest represents a request to run a billing cycle
// @Description Request body for triggering a billing cycle run
type RunCycleRequest struct {
	Frequency string `json:"frequency" binding:"required,oneof=DAILY WEEKLY MONTHLY" example:"DAILY"`
}

// Run godoc
// @ID           runBillingCycle
// @Summary      Run a billing cycle
// @Description  Generate invoices for all active accounts over the most recent completed period of the given frequency
// @Tags         billing-cycles
// @Accept       json
// @Produce      json
// @Param        request body RunCycleRequest true "Cycle run request"
// @Success      200 {object} APIResponse[billingapp.CycleResult]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /billing/cycles/run [post]
func (h *BillingCycleHandler) Run(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req RunCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.cycleService.RunCycle(c.Request.Context(), tenantID, invoice.BillingFrequency(req.Frequency))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}
