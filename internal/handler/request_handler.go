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

// RequestHandler exposes request lifecycle endpoints.
type RequestHandler struct {
	requests *service.RequestService
}

// NewRequestHandler constructs RequestHandler.
func NewRequestHandler(requests *service.RequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

// List godoc
// @Summary List requests
// @Tags Requests
// @Security BearerAuth
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param serviceId query string false "Filter by catalog service"
// @Param search query string false "Search by title"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var filter models.RequestFilter
	filter.ServiceID = c.Query("serviceId")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if statuses := c.Query("status"); statuses != "" {
		for _, s := range strings.Split(statuses, ",") {
			filter.Status = append(filter.Status, models.RequestStatus(strings.TrimSpace(s)))
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	requests, pagination, err := h.requests.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Get godoc
// @Summary Get one request
// @Tags Requests
// @Security BearerAuth
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.requests.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Create godoc
// @Summary Open a request
// @Tags Requests
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var req service.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	created, err := h.requests.Create(c.Request.Context(), actorFromContext(c), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// UpdateStatus godoc
// @Summary Transition a request status
// @Tags Requests
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.UpdateRequestStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/status [put]
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateRequestStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	updated, err := h.requests.UpdateStatus(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}
