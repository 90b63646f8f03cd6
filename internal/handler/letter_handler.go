package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/dto"
	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/internal/service"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
	"github.com/noah-isme/patra-api/pkg/response"
	"github.com/noah-isme/patra-api/pkg/storage"
)

// Multipart field names.
const (
	formOriginal        = "original"
	formCoveringLetter  = "documents"
	formReports         = "reports"
	formReferenceNumber = "reference_number"
)

const defaultMaxUploadBytes int64 = 64 << 20

type letterService interface {
	Create(ctx context.Context, actor *models.Identity, req dto.CreateLetterRequest, original *service.Upload) (*dto.LetterView, error)
	List(ctx context.Context, actor *models.Identity, query dto.LetterQuery) ([]dto.LetterView, *models.Pagination, error)
	Get(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error)
	Forward(ctx context.Context, actor *models.Identity, id string, req dto.ForwardLetterRequest) (*dto.LetterView, error)
	SendToHead(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error)
	Sign(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error)
	Decide(ctx context.Context, actor *models.Identity, id string, req dto.DecisionRequest) (*dto.LetterView, error)
	CloseCase(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error)
	AttachCoveringLetter(ctx context.Context, actor *models.Identity, id string, files []service.Upload, meta dto.CoveringLetterMetadata) (*models.CoveringLetter, error)
	DeleteCoveringLetter(ctx context.Context, actor *models.Identity, id, coveringLetterID string) error
	UploadReports(ctx context.Context, actor *models.Identity, id string, files []service.Upload) (*dto.LetterView, error)
	ResolveDownload(ctx context.Context, token string) (io.ReadCloser, storage.ObjectInfo, string, error)
	DownloadMerged(ctx context.Context, actor *models.Identity, id string) ([]byte, string, error)
	ExportRegister(ctx context.Context, actor *models.Identity, query dto.LetterQuery, format service.ExportFormat) ([]byte, string, error)
}

// LetterHandler exposes the letter lifecycle over HTTP.
type LetterHandler struct {
	service        letterService
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewLetterHandler constructs a LetterHandler. maxUploadBytes bounds a whole
// multipart request; zero selects the default.
func NewLetterHandler(svc letterService, logger *zap.Logger, maxUploadBytes int64) *LetterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &LetterHandler{service: svc, logger: logger, maxUploadBytes: maxUploadBytes}
}

// List godoc
// @Summary List letters
// @Description Letters visible to the calling desk, newest first
// @Tags Letters
// @Produce json
// @Param status query []string false "Status filter" collectionFormat(multi)
// @Param held_by query []string false "Holding desk filter" collectionFormat(multi)
// @Param search query string false "Search reference, subject or sender"
// @Param include_closed query bool false "Include closed cases"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /letters [get]
func (h *LetterHandler) List(c *gin.Context) {
	letters, pagination, err := h.service.List(c.Request.Context(), identityFromContext(c), letterQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, letters, pagination)
}

// Get godoc
// @Summary Get letter
// @Tags Letters
// @Produce json
// @Param id path string true "Letter ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /letters/{id} [get]
func (h *LetterHandler) Get(c *gin.Context) {
	letter, err := h.service.Get(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, letter, nil)
}

// Create godoc
// @Summary Register inward letter
// @Tags Letters
// @Accept mpfd
// @Produce json
// @Param reference_number formData string true "Reference number"
// @Param subject formData string true "Subject"
// @Param sender formData string true "Sender"
// @Param original formData file false "Scanned original"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /letters [post]
func (h *LetterHandler) Create(c *gin.Context) {
	var req dto.CreateLetterRequest
	var original *service.Upload

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := h.multipartForm(c)
		if err != nil {
			response.Error(c, err)
			return
		}
		req = dto.CreateLetterRequest{
			ReferenceNumber: firstValue(form, formReferenceNumber),
			Subject:         firstValue(form, "subject"),
			Sender:          firstValue(form, "sender"),
		}
		uploads, closeAll, err := openUploads(form.File[formOriginal])
		if err != nil {
			response.Error(c, err)
			return
		}
		defer closeAll()
		if len(uploads) > 0 {
			original = &uploads[0]
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid letter payload"))
		return
	}

	letter, err := h.service.Create(c.Request.Context(), identityFromContext(c), req, original)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, letter)
}

// Forward godoc
// @Summary Forward letter
// @Tags Letters
// @Accept json
// @Produce json
// @Param id path string true "Letter ID"
// @Param payload body dto.ForwardLetterRequest true "Target desk"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /letters/{id}/forward [post]
func (h *LetterHandler) Forward(c *gin.Context) {
	var req dto.ForwardLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid forward payload"))
		return
	}
	h.respond(c, func(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
		return h.service.Forward(ctx, actor, id, req)
	})
}

// SendToHead godoc
// @Summary Send letter to the head for signature
// @Tags Letters
// @Produce json
// @Param id path string true "Letter ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /letters/{id}/send-to-head [post]
func (h *LetterHandler) SendToHead(c *gin.Context) {
	h.respond(c, h.service.SendToHead)
}

// Sign godoc
// @Summary Sign the covering letter
// @Tags Letters
// @Produce json
// @Param id path string true "Letter ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /letters/{id}/sign [post]
func (h *LetterHandler) Sign(c *gin.Context) {
	h.respond(c, h.service.Sign)
}

// Decide godoc
// @Summary Approve or reject a letter
// @Tags Letters
// @Accept json
// @Produce json
// @Param id path string true "Letter ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /letters/{id}/decision [post]
func (h *LetterHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	h.respond(c, func(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
		return h.service.Decide(ctx, actor, id, req)
	})
}

// CloseCase godoc
// @Summary Close the case
// @Tags Letters
// @Produce json
// @Param id path string true "Letter ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /letters/{id}/close [post]
func (h *LetterHandler) CloseCase(c *gin.Context) {
	h.respond(c, h.service.CloseCase)
}

// AttachCoveringLetter godoc
// @Summary Attach covering letter
// @Tags Letters
// @Accept mpfd
// @Produce json
// @Param id path string true "Letter ID"
// @Param reference_number formData string false "Covering letter reference"
// @Param documents formData file true "Covering letter documents"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /letters/{id}/covering-letter [post]
func (h *LetterHandler) AttachCoveringLetter(c *gin.Context) {
	form, err := h.multipartForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	uploads, closeAll, err := openUploads(form.File[formCoveringLetter])
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeAll()

	meta := dto.CoveringLetterMetadata{ReferenceNumber: firstValue(form, formReferenceNumber)}
	doc, err := h.service.AttachCoveringLetter(c.Request.Context(), identityFromContext(c), c.Param("id"), uploads, meta)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// DeleteCoveringLetter godoc
// @Summary Remove the unsigned covering letter
// @Tags Letters
// @Param id path string true "Letter ID"
// @Param coveringLetterId path string true "Covering letter ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /letters/{id}/covering-letter/{coveringLetterId} [delete]
func (h *LetterHandler) DeleteCoveringLetter(c *gin.Context) {
	if err := h.service.DeleteCoveringLetter(c.Request.Context(), identityFromContext(c), c.Param("id"), c.Param("coveringLetterId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UploadReports godoc
// @Summary Upload reports
// @Tags Letters
// @Accept mpfd
// @Produce json
// @Param id path string true "Letter ID"
// @Param reports formData file true "Report files"
// @Success 200 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /letters/{id}/reports [post]
func (h *LetterHandler) UploadReports(c *gin.Context) {
	form, err := h.multipartForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	uploads, closeAll, err := openUploads(form.File[formReports])
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeAll()

	letter, err := h.service.UploadReports(c.Request.Context(), identityFromContext(c), c.Param("id"), uploads)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, letter, nil)
}

// DownloadMerged godoc
// @Summary Download routing slip
// @Description PDF with the letter header, covering letter, reports and movement trail
// @Tags Letters
// @Produce application/pdf
// @Param id path string true "Letter ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /letters/{id}/merged-pdf [get]
func (h *LetterHandler) DownloadMerged(c *gin.Context) {
	body, filename, err := h.service.DownloadMerged(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, "application/pdf", int64(len(body)), bytes.NewReader(body))
}

// Export godoc
// @Summary Export letter register
// @Tags Letters
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /letters/export [get]
func (h *LetterHandler) Export(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportCSV))))
	body, contentType, err := h.service.ExportRegister(c.Request.Context(), identityFromContext(c), letterQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "letter-register."+string(format), contentType, int64(len(body)), bytes.NewReader(body))
}

// DownloadFile godoc
// @Summary Download a stored file
// @Description Resolves a signed link issued in a letter view
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{token} [get]
func (h *LetterHandler) DownloadFile(c *gin.Context) {
	body, info, name, err := h.service.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer body.Close() //nolint:errcheck
	response.Attachment(c, name, info.ContentType, info.Size, body)
}

type letterAction func(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error)

func (h *LetterHandler) respond(c *gin.Context, action letterAction) {
	letter, err := action(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, letter, nil)
}

func (h *LetterHandler) multipartForm(c *gin.Context) (*multipart.Form, error) {
	if c.Request.ContentLength > h.maxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrTooLarge, "upload exceeds the request size limit")
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, appErrors.Clone(appErrors.ErrTooLarge, "upload exceeds the request size limit")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart form")
	}
	return form, nil
}

func letterQuery(c *gin.Context) dto.LetterQuery {
	query := dto.LetterQuery{Search: c.Query("search")}
	for _, raw := range c.QueryArray("status") {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				query.Status = append(query.Status, models.LetterStatus(status))
			}
		}
	}
	for _, raw := range c.QueryArray("held_by") {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				query.HeldBy = append(query.HeldBy, models.RoleID(role))
			}
		}
	}
	if closed, err := strconv.ParseBool(c.DefaultQuery("include_closed", "false")); err == nil {
		query.IncludeClosed = closed
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		query.PageSize = size
	}
	return query
}

func firstValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// openUploads opens every file header. The returned func closes them all.
func openUploads(headers []*multipart.FileHeader) ([]service.Upload, func(), error) {
	uploads := make([]service.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, file := range files {
			_ = file.Close()
		}
	}
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read uploaded file")
		}
		files = append(files, file)
		uploads = append(uploads, service.Upload{Filename: header.Filename, Size: header.Size, Content: file})
	}
	return uploads, closeAll, nil
}
