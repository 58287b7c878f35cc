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

// CatalogHandler exposes catalog endpoints.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// List godoc
// @Summary List catalog services
// @Tags Catalog
// @Security BearerAuth
// @Produce json
// @Param search query string false "Search by title"
// @Param active query bool false "Filter by active state (admin only)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /services [get]
func (h *CatalogHandler) List(c *gin.Context) {
	var filter models.CatalogFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if active := c.Query("active"); active != "" {
		if v, err := strconv.ParseBool(active); err == nil {
			filter.Active = &v
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	services, pagination, err := h.catalog.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, services, pagination)
}

// Get godoc
// @Summary Get one catalog service
// @Tags Catalog
// @Security BearerAuth
// @Produce json
// @Param id path string true "Service ID"
// @Success 200 {object} response.Envelope
// @Router /services/{id} [get]
func (h *CatalogHandler) Get(c *gin.Context) {
	svc, err := h.catalog.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, svc, nil)
}

// Create godoc
// @Summary Add a catalog service
// @Tags Catalog
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.CreateCatalogServiceRequest true "Service payload"
// @Success 201 {object} response.Envelope
// @Router /services [post]
func (h *CatalogHandler) Create(c *gin.Context) {
	var req service.CreateCatalogServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	svc, err := h.catalog.Create(c.Request.Context(), actorFromContext(c), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, svc)
}

// Update godoc
// @Summary Update a catalog service
// @Tags Catalog
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Service ID"
// @Param payload body service.UpdateCatalogServiceRequest true "Service payload"
// @Success 200 {object} response.Envelope
// @Router /services/{id} [put]
func (h *CatalogHandler) Update(c *gin.Context) {
	var req service.UpdateCatalogServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	svc, err := h.catalog.Update(c.Request.Context(), actorFromContext(c), c.Param("id"), req, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, svc, nil)
}

// Delete godoc
// @Summary Remove a catalog service
// @Tags Catalog
// @Security BearerAuth
// @Produce json
// @Param id path string true "Service ID"
// @Success 204
// @Router /services/{id} [delete]
func (h *CatalogHandler) Delete(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), actorFromContext(c), c.Param("id"), metaFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
