package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/noah-isme/patra-api/internal/dto"
	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/internal/service"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

// Form field names shared with the gateway's multipart handlers.
const (
	FieldOriginal        = "original"
	FieldCoveringLetter  = "documents"
	FieldReports         = "reports"
	FieldReferenceNumber = "reference_number"
)

var (
	_ service.LetterGateway    = (*Client)(nil)
	_ service.IdentityVerifier = (*Client)(nil)
)

// ListLetters returns the letters visible to the session.
func (c *Client) ListLetters(ctx context.Context, filter models.LetterFilter) ([]models.Letter, error) {
	query := url.Values{}
	for _, status := range filter.Status {
		query.Add("status", string(status))
	}
	for _, role := range filter.HeldBy {
		query.Add("held_by", string(role))
	}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.IncludeClosed {
		query.Set("include_closed", "true")
	}
	if filter.Limit > 0 {
		query.Set("page_size", strconv.Itoa(filter.Limit))
		query.Set("page", strconv.Itoa(filter.Offset/filter.Limit+1))
	}

	var views []dto.LetterView
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/letters", query: query, auth: true}, &views); err != nil {
		return nil, err
	}
	letters := make([]models.Letter, 0, len(views))
	for _, view := range views {
		letters = append(letters, view.Letter)
	}
	return letters, nil
}

// GetLetter fetches one letter.
func (c *Client) GetLetter(ctx context.Context, id string) (*models.Letter, error) {
	return c.letter(ctx, request{method: http.MethodGet, path: letterPath(id, ""), auth: true})
}

// CreateLetter registers an inward letter with an optional scanned original.
func (c *Client) CreateLetter(ctx context.Context, req dto.CreateLetterRequest, original *service.Upload) (*models.Letter, error) {
	fields := map[string]string{
		FieldReferenceNumber: req.ReferenceNumber,
		"subject":            req.Subject,
		"sender":             req.Sender,
	}
	var files []service.Upload
	if original != nil {
		files = append(files, *original)
	}
	body, contentType, err := multipartBody(fields, FieldOriginal, files)
	if err != nil {
		return nil, err
	}
	return c.letter(ctx, request{method: http.MethodPost, path: "/letters", body: body, contentType: contentType, auth: true})
}

// ForwardLetter hands the letter to target.
func (c *Client) ForwardLetter(ctx context.Context, id string, target models.RoleID) (*models.Letter, error) {
	body, err := jsonBody(dto.ForwardLetterRequest{ForwardTo: target})
	if err != nil {
		return nil, err
	}
	return c.letter(ctx, request{method: http.MethodPost, path: letterPath(id, "/forward"), body: body, contentType: "application/json", auth: true})
}

// SendToHead hands the letter to the head for signature.
func (c *Client) SendToHead(ctx context.Context, id string) (*models.Letter, error) {
	return c.letter(ctx, request{method: http.MethodPost, path: letterPath(id, "/send-to-head"), auth: true})
}

// SignCoveringLetter signs the attached covering letter.
func (c *Client) SignCoveringLetter(ctx context.Context, id string) (*models.Letter, error) {
	return c.letter(ctx, request{method: http.MethodPost, path: letterPath(id, "/sign"), auth: true})
}

// AttachCoveringLetter uploads files as the covering letter of id.
func (c *Client) AttachCoveringLetter(ctx context.Context, id string, files []service.Upload, meta dto.CoveringLetterMetadata) (*models.CoveringLetter, error) {
	body, contentType, err := multipartBody(map[string]string{FieldReferenceNumber: meta.ReferenceNumber}, FieldCoveringLetter, files)
	if err != nil {
		return nil, err
	}
	var doc models.CoveringLetter
	if _, err := c.do(ctx, request{method: http.MethodPost, path: letterPath(id, "/covering-letter"), body: body, contentType: contentType, auth: true}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteCoveringLetter removes the unsigned covering letter.
func (c *Client) DeleteCoveringLetter(ctx context.Context, id, coveringLetterID string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: letterPath(id, "/covering-letter/"+url.PathEscape(coveringLetterID)), auth: true}, nil)
	return err
}

// UploadReports appends report files.
func (c *Client) UploadReports(ctx context.Context, id string, files []service.Upload) (*models.Letter, error) {
	body, contentType, err := multipartBody(nil, FieldReports, files)
	if err != nil {
		return nil, err
	}
	return c.letter(ctx, request{method: http.MethodPost, path: letterPath(id, "/reports"), body: body, contentType: contentType, auth: true})
}

// CloseCase closes the case.
func (c *Client) CloseCase(ctx context.Context, id string) (*models.Letter, error) {
	return c.letter(ctx, request{method: http.MethodPost, path: letterPath(id, "/close"), auth: true})
}

// DecideLetter approves or rejects the letter.
func (c *Client) DecideLetter(ctx context.Context, id string, status models.LetterStatus) (*models.Letter, error) {
	body, err := jsonBody(dto.DecisionRequest{Status: status})
	if err != nil {
		return nil, err
	}
	return c.letter(ctx, request{method: http.MethodPost, path: letterPath(id, "/decision"), body: body, contentType: "application/json", auth: true})
}

// DownloadMerged streams the routing slip PDF. The caller closes the body.
func (c *Client) DownloadMerged(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, path: letterPath(id, "/merged-pdf"), auth: true})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ExportRegister downloads the register in format ("csv" or "pdf").
func (c *Client) ExportRegister(ctx context.Context, format string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, path: "/letters/export", query: url.Values{"format": {format}}, auth: true})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) letter(ctx context.Context, req request) (*models.Letter, error) {
	var view dto.LetterView
	if _, err := c.do(ctx, req, &view); err != nil {
		return nil, err
	}
	if view.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrServerRejected, "gateway returned no letter")
	}
	letter := view.Letter
	return &letter, nil
}

func letterPath(id, suffix string) string {
	return "/letters/" + url.PathEscape(id) + suffix
}

// multipartBody buffers fields and files into a multipart form.
func multipartBody(fields map[string]string, fileField string, files []service.Upload) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode form")
		}
	}
	for _, file := range files {
		if file.Content == nil {
			return nil, "", appErrors.Clone(appErrors.ErrValidation, "file content is required")
		}
		part, err := writer.CreateFormFile(fileField, file.Filename)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode form")
		}
		if _, err := file.Content.Seek(0, io.SeekStart); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewind upload")
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode form")
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode form")
	}
	return buf, writer.FormDataContentType(), nil
}
