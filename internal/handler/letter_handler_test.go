package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/patra-api/internal/dto"
	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/internal/service"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
	"github.com/noah-isme/patra-api/pkg/storage"
)

type letterServiceMock struct {
	err       error
	actor     *models.Identity
	query     dto.LetterQuery
	created   dto.CreateLetterRequest
	original  string
	forwardTo models.RoleID
	decision  models.LetterStatus
	uploads   []string
	meta      dto.CoveringLetterMetadata
	deleted   string
	format    service.ExportFormat
}

func (m *letterServiceMock) view(id string) *dto.LetterView {
	return &dto.LetterView{Letter: models.Letter{ID: id, ReferenceNumber: "IN/1", LetterStatus: models.StatusPending}}
}

func (m *letterServiceMock) readUploads(files []service.Upload) {
	for _, f := range files {
		content, _ := io.ReadAll(f.Content)
		m.uploads = append(m.uploads, f.Filename+":"+string(content))
	}
}

func (m *letterServiceMock) Create(ctx context.Context, actor *models.Identity, req dto.CreateLetterRequest, original *service.Upload) (*dto.LetterView, error) {
	m.actor, m.created = actor, req
	if original != nil {
		content, _ := io.ReadAll(original.Content)
		m.original = original.Filename + ":" + string(content)
	}
	return m.view("l-1"), m.err
}

func (m *letterServiceMock) List(ctx context.Context, actor *models.Identity, query dto.LetterQuery) ([]dto.LetterView, *models.Pagination, error) {
	m.actor, m.query = actor, query
	if m.err != nil {
		return nil, nil, m.err
	}
	return []dto.LetterView{*m.view("l-1")}, &models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: 1}, nil
}

func (m *letterServiceMock) Get(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	m.actor = actor
	if m.err != nil {
		return nil, m.err
	}
	return m.view(id), nil
}

func (m *letterServiceMock) Forward(ctx context.Context, actor *models.Identity, id string, req dto.ForwardLetterRequest) (*dto.LetterView, error) {
	m.forwardTo = req.ForwardTo
	return m.Get(ctx, actor, id)
}

func (m *letterServiceMock) SendToHead(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	return m.Get(ctx, actor, id)
}

func (m *letterServiceMock) Sign(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	return m.Get(ctx, actor, id)
}

func (m *letterServiceMock) Decide(ctx context.Context, actor *models.Identity, id string, req dto.DecisionRequest) (*dto.LetterView, error) {
	m.decision = req.Status
	return m.Get(ctx, actor, id)
}

func (m *letterServiceMock) CloseCase(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	return m.Get(ctx, actor, id)
}

func (m *letterServiceMock) AttachCoveringLetter(ctx context.Context, actor *models.Identity, id string, files []service.Upload, meta dto.CoveringLetterMetadata) (*models.CoveringLetter, error) {
	m.readUploads(files)
	m.meta = meta
	if m.err != nil {
		return nil, m.err
	}
	return &models.CoveringLetter{ID: "cl-1", ReferenceNumber: meta.ReferenceNumber}, nil
}

func (m *letterServiceMock) DeleteCoveringLetter(ctx context.Context, actor *models.Identity, id, coveringLetterID string) error {
	m.deleted = id + "/" + coveringLetterID
	return m.err
}

func (m *letterServiceMock) UploadReports(ctx context.Context, actor *models.Identity, id string, files []service.Upload) (*dto.LetterView, error) {
	m.readUploads(files)
	return m.Get(ctx, actor, id)
}

func (m *letterServiceMock) ResolveDownload(ctx context.Context, token string) (io.ReadCloser, storage.ObjectInfo, string, error) {
	if m.err != nil {
		return nil, storage.ObjectInfo{}, "", m.err
	}
	body := "%PDF-1.4 " + token
	return io.NopCloser(strings.NewReader(body)), storage.ObjectInfo{Size: int64(len(body)), ContentType: "application/pdf"}, "original.pdf", nil
}

func (m *letterServiceMock) DownloadMerged(ctx context.Context, actor *models.Identity, id string) ([]byte, string, error) {
	return []byte("%PDF-1.3"), "IN_1-routing.pdf", m.err
}

func (m *letterServiceMock) ExportRegister(ctx context.Context, actor *models.Identity, query dto.LetterQuery, format service.ExportFormat) ([]byte, string, error) {
	m.format = format
	return []byte("reference_number\nIN/1\n"), "text/csv", m.err
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, field string, files map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	for name, content := range files {
		part, err := writer.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestLetterHandlerListParsesFilters(t *testing.T) {
	env := newRouteEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/letters?status=pending,approved&held_by=sp&search=land&include_closed=true&page=2&page_size=5", nil), "sp-token")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []models.LetterStatus{models.StatusPending, models.StatusApproved}, env.letters.query.Status)
	assert.Equal(t, []models.RoleID{models.RoleSP}, env.letters.query.HeldBy)
	assert.Equal(t, "land", env.letters.query.Search)
	assert.True(t, env.letters.query.IncludeClosed)
	assert.Equal(t, 2, env.letters.query.Page)
	assert.Equal(t, 5, env.letters.query.PageSize)
	assert.Equal(t, models.RoleSP, env.letters.actor.Role)

	var payload struct {
		Data       []dto.LetterView  `json:"data"`
		Pagination models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 1)
	assert.Equal(t, 1, payload.Pagination.TotalCount)
}

func TestLetterHandlerCreateMultipart(t *testing.T) {
	env := newRouteEnv(t)

	req := multipartRequest(t, http.MethodPost, "/api/v1/letters", map[string]string{
		formReferenceNumber: "IN/2024/17",
		"subject":           "Land dispute",
		"sender":            "Collector",
	}, formOriginal, map[string]string{"scan.pdf": "%PDF-1.4"})
	rec := env.do(req, "inward-token")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "IN/2024/17", env.letters.created.ReferenceNumber)
	assert.Equal(t, "Collector", env.letters.created.Sender)
	assert.Equal(t, "scan.pdf:%PDF-1.4", env.letters.original)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/letters", strings.NewReader(`{"referenceNumber":"IN/2","subject":"s","sender":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = env.do(req, "sp-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLetterHandlerTransitions(t *testing.T) {
	env := newRouteEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/letters/l-1/forward", strings.NewReader(`{"forwardTo":"dm"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req, "sp-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleDM, env.letters.forwardTo)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/letters/l-1/decision", strings.NewReader(`{"status":"approved"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = env.do(req, "sp-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusApproved, env.letters.decision)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/letters/l-1/forward", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	rec = env.do(req, "sp-token")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.letters.err = appErrors.Clone(appErrors.ErrSignedImmutable, "covering letter already signed")
	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/v1/letters/l-1/sign", nil), "head-token")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "SIGNED_IMMUTABLE")
}

func TestLetterHandlerAttachments(t *testing.T) {
	env := newRouteEnv(t)

	req := multipartRequest(t, http.MethodPost, "/api/v1/letters/l-1/covering-letter",
		map[string]string{formReferenceNumber: "CL/9"}, formCoveringLetter, map[string]string{"cover.pdf": "cover"})
	rec := env.do(req, "sp-token")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "CL/9", env.letters.meta.ReferenceNumber)
	assert.Equal(t, []string{"cover.pdf:cover"}, env.letters.uploads)

	env.letters.uploads = nil
	req = multipartRequest(t, http.MethodPost, "/api/v1/letters/l-1/reports", nil, formReports, map[string]string{"report.pdf": "report"})
	rec = env.do(req, "sp-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"report.pdf:report"}, env.letters.uploads)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/letters/l-1/covering-letter/cl-1", nil), "sp-token")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "l-1/cl-1", env.letters.deleted)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/letters/l-1/reports", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rec = env.do(req, "sp-token")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLetterHandlerUploadLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	letters := &letterServiceMock{}
	h := NewLetterHandler(letters, nil, 64)

	req := multipartRequest(t, http.MethodPost, "/letters/l-1/reports", nil, formReports, map[string]string{"big.pdf": strings.Repeat("x", 1024)})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "l-1"}}

	h.UploadReports(c)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, letters.uploads)
}

func TestLetterHandlerDownloads(t *testing.T) {
	env := newRouteEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/files/tok-1", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "original.pdf")
	assert.Equal(t, "%PDF-1.4 tok-1", rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/letters/l-1/merged-pdf", nil), "sp-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "IN_1-routing.pdf")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/letters/export?format=CSV", nil), "inward-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ExportCSV, env.letters.format)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Len(t, env.audit.entries, 1)
	assert.Equal(t, models.AuditActionRegisterExport, env.audit.entries[0].Action)

	env.letters.err = appErrors.Clone(appErrors.ErrForbidden, "link expired")
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/files/tok-2", nil), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
