package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/service"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
	"github.com/eduforge/eduforge-api/pkg/response"
)

// PaymentHandler exposes payment and dispute endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param requestId query string false "Filter by request"
// @Param reference query string false "Filter by reference"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	var filter models.PaymentFilter
	filter.RequestID = c.Query("requestId")
	filter.Reference = strings.TrimSpace(c.Query("reference"))
	if statuses := c.Query("status"); statuses != "" {
		for _, s := range strings.Split(statuses, ",") {
			filter.Status = append(filter.Status, models.PaymentStatus(strings.TrimSpace(s)))
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	payments, pagination, err := h.payments.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Get godoc
// @Summary Get one payment
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Submit godoc
// @Summary Submit proof of payment
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.SubmitPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Submit(c *gin.Context) {
	var req service.SubmitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.payments.Submit(c.Request.Context(), actorFromContext(c), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Review godoc
// @Summary Review a payment
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.ReviewPaymentRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/review [put]
func (h *PaymentHandler) Review(c *gin.Context) {
	var req service.ReviewPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.payments.Review(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// FileDispute godoc
// @Summary Dispute a rejected payment
// @Tags Disputes
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.FileDisputeRequest true "Dispute payload"
// @Success 201 {object} response.Envelope
// @Router /payments/{id}/dispute [post]
func (h *PaymentHandler) FileDispute(c *gin.Context) {
	var req service.FileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	dispute, err := h.payments.FileDispute(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dispute)
}

// GetDispute godoc
// @Summary Get the dispute on a payment
// @Tags Disputes
// @Security BearerAuth
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/dispute [get]
func (h *PaymentHandler) GetDispute(c *gin.Context) {
	dispute, err := h.payments.GetDispute(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dispute, nil)
}

// ListDisputes godoc
// @Summary List disputes
// @Tags Disputes
// @Security BearerAuth
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /disputes [get]
func (h *PaymentHandler) ListDisputes(c *gin.Context) {
	var statuses []models.DisputeStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, models.DisputeStatus(strings.TrimSpace(s)))
		}
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	disputes, pagination, err := h.payments.ListDisputes(c.Request.Context(), actorFromContext(c), statuses, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, disputes, pagination)
}

// ResolveDispute godoc
// @Summary Resolve a dispute
// @Tags Disputes
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Dispute ID"
// @Param payload body service.ResolveDisputeRequest true "Resolution payload"
// @Success 200 {object} response.Envelope
// @Router /disputes/{id}/resolve [put]
func (h *PaymentHandler) ResolveDispute(c *gin.Context) {
	var req service.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	dispute, err := h.payments.ResolveDispute(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dispute, nil)
}
