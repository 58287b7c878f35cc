package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/service"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
	"github.com/eduforge/eduforge-api/pkg/response"
)

// AuditHandler exposes the audit trail and its export jobs.
type AuditHandler struct {
	audits  *service.AuditService
	exports *service.ExportService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audits *service.AuditService, exports *service.ExportService) *AuditHandler {
	return &AuditHandler{audits: audits, exports: exports}
}

func auditFilterFromQuery(c *gin.Context) (models.AuditFilter, error) {
	var filter models.AuditFilter
	filter.Action = c.Query("action")
	filter.Resource = c.Query("resource")
	filter.UserID = c.Query("userId")
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid from timestamp")
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid to timestamp")
		}
		filter.To = &to
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	return filter, nil
}

// List godoc
// @Summary List audit log entries
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param action query string false "Action filter"
// @Param resource query string false "Resource filter"
// @Param userId query string false "Acting user filter"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	logs, pagination, err := h.audits.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// Get godoc
// @Summary Get one audit entry
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param id path string true "Audit log ID"
// @Success 200 {object} response.Envelope
// @Router /audit/{id} [get]
func (h *AuditHandler) Get(c *gin.Context) {
	entry, err := h.audits.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

type requestExportPayload struct {
	Format string `json:"format" binding:"required"`
}

// RequestExport godoc
// @Summary Queue an audit export
// @Tags Audit
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body requestExportPayload true "Export payload"
// @Success 202 {object} response.Envelope
// @Router /audit/exports [post]
func (h *AuditHandler) RequestExport(c *gin.Context) {
	var req requestExportPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := models.ExportFormat(strings.ToUpper(strings.TrimSpace(req.Format)))
	job, err := h.exports.Request(c.Request.Context(), actorFromContext(c), format, filter, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// ExportStatus godoc
// @Summary Check an export job
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param id path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Router /audit/exports/{id} [get]
func (h *AuditHandler) ExportStatus(c *gin.Context) {
	job, err := h.exports.Status(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// ExportDownloadURL godoc
// @Summary Mint a signed download link for a completed export
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param id path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Router /audit/exports/{id}/url [get]
func (h *AuditHandler) ExportDownloadURL(c *gin.Context) {
	result, err := h.exports.DownloadURL(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DownloadExport godoc
// @Summary Download an export via a signed token
// @Tags Audit
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Router /audit/exports/download/{token} [get]
func (h *AuditHandler) DownloadExport(c *gin.Context) {
	jobID, relPath, _, err := h.exports.ParseToken(c.Param("token"), false)
	if err != nil {
		response.Error(c, err)
		return
	}
	body, err := h.exports.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export file not found"))
		return
	}
	defer body.Close()

	stat, err := body.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}

	contentType := "application/octet-stream"
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".csv":
		contentType = "text/csv"
	case ".pdf":
		contentType = "application/pdf"
	}
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("audit_export_%s%s", jobID, filepath.Ext(relPath))),
	}
	c.DataFromReader(http.StatusOK, stat.Size(), contentType, body, headers)
}
