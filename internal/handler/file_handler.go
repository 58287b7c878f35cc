package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/service"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
	"github.com/eduforge/eduforge-api/pkg/response"
)

// FileHandler exposes request file uploads and downloads.
type FileHandler struct {
	files *service.FileService
}

// NewFileHandler constructs FileHandler.
func NewFileHandler(files *service.FileService) *FileHandler {
	return &FileHandler{files: files}
}

// Upload godoc
// @Summary Upload a file onto a request
// @Tags Files
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Request ID"
// @Param file formData file true "File to upload"
// @Param kind formData string false "RECEIPT or DELIVERABLE"
// @Success 201 {object} response.Envelope
// @Router /requests/{id}/files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "missing file field"))
		return
	}

	src, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to open uploaded file"))
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read uploaded file"))
		return
	}

	kind := models.RequestFileKind(strings.ToUpper(c.DefaultPostForm("kind", string(models.RequestFileKindReceipt))))
	payload := service.UploadFileRequest{
		RequestID: c.Param("id"),
		Filename:  header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		Kind:      kind,
		Data:      data,
	}
	file, err := h.files.Upload(c.Request.Context(), actorFromContext(c), payload, metaFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, file)
}

// ListByRequest godoc
// @Summary List files on a request
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/files [get]
func (h *FileHandler) ListByRequest(c *gin.Context) {
	files, err := h.files.ListByRequest(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, files, nil)
}

// Download godoc
// @Summary Download a file
// @Tags Files
// @Security BearerAuth
// @Produce octet-stream
// @Param id path string true "File ID"
// @Success 200 {file} file
// @Router /files/{id}/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	download, err := h.files.Download(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, download)
}

// SignedURL godoc
// @Summary Mint a time-limited download link
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/signed-url [get]
func (h *FileHandler) SignedURL(c *gin.Context) {
	url, expiresAt, err := h.files.SignedURL(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"url": url, "expires_at": expiresAt.Format(time.RFC3339)}, nil)
}

// DownloadSigned godoc
// @Summary Download a file via a signed token
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Router /files/download/{token} [get]
func (h *FileHandler) DownloadSigned(c *gin.Context) {
	download, err := h.files.OpenSigned(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, download)
}

func streamFile(c *gin.Context, download *service.FileDownload) {
	defer download.Body.Close()

	stat, err := download.Body.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file"))
		return
	}
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.File.Filename),
	}
	contentType := download.File.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, stat.Size(), contentType, download.Body, headers)
}
