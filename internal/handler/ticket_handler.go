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

// TicketHandler exposes support ticket endpoints.
type TicketHandler struct {
	tickets *service.TicketService
}

// NewTicketHandler constructs TicketHandler.
func NewTicketHandler(tickets *service.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// List godoc
// @Summary List support tickets
// @Tags Tickets
// @Security BearerAuth
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param priority query string false "Priority filter"
// @Param requestId query string false "Filter by request"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /tickets [get]
func (h *TicketHandler) List(c *gin.Context) {
	var filter models.TicketFilter
	filter.RequestID = c.Query("requestId")
	if statuses := c.Query("status"); statuses != "" {
		for _, s := range strings.Split(statuses, ",") {
			filter.Status = append(filter.Status, models.TicketStatus(strings.TrimSpace(s)))
		}
	}
	if raw := c.Query("priority"); raw != "" {
		priority := models.TicketPriority(strings.TrimSpace(raw))
		filter.Priority = &priority
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))

	tickets, pagination, err := h.tickets.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tickets, pagination)
}

// Get godoc
// @Summary Get one ticket
// @Tags Tickets
// @Security BearerAuth
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} response.Envelope
// @Router /tickets/{id} [get]
func (h *TicketHandler) Get(c *gin.Context) {
	ticket, err := h.tickets.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ticket, nil)
}

// Create godoc
// @Summary Open a support ticket
// @Tags Tickets
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.CreateTicketRequest true "Ticket payload"
// @Success 201 {object} response.Envelope
// @Router /tickets [post]
func (h *TicketHandler) Create(c *gin.Context) {
	var req service.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	ticket, err := h.tickets.Create(c.Request.Context(), actorFromContext(c), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ticket)
}

// UpdateStatus godoc
// @Summary Update ticket status
// @Tags Tickets
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Param payload body service.UpdateTicketStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /tickets/{id}/status [put]
func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateTicketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	ticket, err := h.tickets.UpdateStatus(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ticket, nil)
}

// Replies godoc
// @Summary List replies on a ticket
// @Tags Tickets
// @Security BearerAuth
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} response.Envelope
// @Router /tickets/{id}/replies [get]
func (h *TicketHandler) Replies(c *gin.Context) {
	replies, err := h.tickets.Replies(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, replies, nil)
}

// AddReply godoc
// @Summary Reply to a ticket
// @Tags Tickets
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Param payload body service.AddTicketReplyRequest true "Reply payload"
// @Success 201 {object} response.Envelope
// @Router /tickets/{id}/replies [post]
func (h *TicketHandler) AddReply(c *gin.Context) {
	var req service.AddTicketReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	reply, err := h.tickets.AddReply(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reply)
}
