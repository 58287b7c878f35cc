package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eduforge/eduforge-api/internal/service"
	"github.com/eduforge/eduforge-api/pkg/response"
)

// MetricsHandler exposes Prometheus scraping and an admin snapshot.
type MetricsHandler struct {
	metrics *service.MetricsService
}

// NewMetricsHandler constructs MetricsHandler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Prometheus serves the Prometheus exposition endpoint.
func (h *MetricsHandler) Prometheus() gin.HandlerFunc {
	return gin.WrapH(h.metrics.Handler())
}

// Snapshot godoc
// @Summary Read aggregated system metrics
// @Tags Metrics
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metrics/summary [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
