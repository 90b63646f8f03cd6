package service

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

// DefaultReportMaxBytes is the report size ceiling.
const DefaultReportMaxBytes int64 = 10 << 20

var documentTypes = map[string]bool{
	"application/pdf":               true,
	"application/msword":            true,
	"application/rtf":               true,
	"text/rtf":                      true,
	"text/plain":                    true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
}

var documentPrefixes = []string{
	"application/vnd.openxmlformats-officedocument.",
	"application/vnd.oasis.opendocument.",
}

// IsAllowedType reports whether mimeType is in the document or image family.
func IsAllowedType(mimeType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if base == "" {
		return false
	}
	if strings.HasPrefix(base, "image/") || documentTypes[base] {
		return true
	}
	for _, prefix := range documentPrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

// Upload is a file offered for attachment before it is stored.
type Upload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// AttachmentManager owns the covering letter and report invariants. Every
// method returns a new Letter and leaves its input untouched.
type AttachmentManager struct {
	maxReportBytes int64
	now            func() time.Time
}

// AttachmentOption customises the manager.
type AttachmentOption func(*AttachmentManager)

// WithReportMaxBytes overrides the report size ceiling.
func WithReportMaxBytes(limit int64) AttachmentOption {
	return func(m *AttachmentManager) {
		if limit > 0 {
			m.maxReportBytes = limit
		}
	}
}

// WithAttachmentClock overrides the clock used for timestamps.
func WithAttachmentClock(now func() time.Time) AttachmentOption {
	return func(m *AttachmentManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewAttachmentManager constructs an AttachmentManager.
func NewAttachmentManager(opts ...AttachmentOption) *AttachmentManager {
	m := &AttachmentManager{
		maxReportBytes: DefaultReportMaxBytes,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxReportBytes returns the configured size ceiling.
func (m *AttachmentManager) MaxReportBytes() int64 {
	return m.maxReportBytes
}

// ValidateUpload sniffs the content type and checks the kind and size of an
// upload. The content is rewound afterwards.
func (m *AttachmentManager) ValidateUpload(upload Upload) (models.Attachment, error) {
	if upload.Content == nil {
		return models.Attachment{}, appErrors.Clone(appErrors.ErrValidation, "file content is required")
	}
	detected, err := mimetype.DetectReader(upload.Content)
	if err != nil {
		return models.Attachment{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return models.Attachment{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewind upload")
	}
	meta := models.Attachment{
		OriginalName: upload.Filename,
		Size:         upload.Size,
		MimeType:     strings.SplitN(detected.String(), ";", 2)[0],
		UploadedAt:   m.now(),
	}
	if err := m.checkFile(meta); err != nil {
		return models.Attachment{}, err
	}
	return meta, nil
}

// AttachCoveringLetter sets the covering letter. A letter holds at most one;
// the existing one must be removed first.
func (m *AttachmentManager) AttachCoveringLetter(letter *models.Letter, doc models.CoveringLetter) (*models.Letter, error) {
	if letter == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "letter not found")
	}
	if letter.IsClosed() {
		return nil, appErrors.Clone(appErrors.ErrCaseClosed, fmt.Sprintf("letter %s is closed", letter.ReferenceNumber))
	}
	if letter.CoveringLetter != nil {
		return nil, appErrors.Clone(appErrors.ErrAlreadyExists, "remove the existing covering letter first")
	}
	next := letter.Clone()
	doc.IsSigned = false
	doc.SignedAt = nil
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = m.now()
	}
	if doc.ReferenceNumber == "" {
		doc.ReferenceNumber = letter.ReferenceNumber
	}
	doc.DocumentURLs = append([]string(nil), doc.DocumentURLs...)
	doc.StorageKeys = append([]string(nil), doc.StorageKeys...)
	next.CoveringLetter = &doc
	next.UpdatedAt = m.now()
	return next, nil
}

// RemoveCoveringLetter detaches an unsigned covering letter.
func (m *AttachmentManager) RemoveCoveringLetter(letter *models.Letter) (*models.Letter, error) {
	if letter == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "letter not found")
	}
	if letter.IsClosed() {
		return nil, appErrors.Clone(appErrors.ErrCaseClosed, fmt.Sprintf("letter %s is closed", letter.ReferenceNumber))
	}
	if letter.CoveringLetter == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "letter has no covering letter")
	}
	if letter.CoveringLetter.IsSigned {
		return nil, appErrors.Clone(appErrors.ErrSignedImmutable, "signed covering letter cannot be removed")
	}
	next := letter.Clone()
	next.CoveringLetter = nil
	next.UpdatedAt = m.now()
	return next, nil
}

// MarkSigned is the only write to CoveringLetter.IsSigned. It never unsets it.
func (m *AttachmentManager) MarkSigned(letter *models.Letter) (*models.Letter, error) {
	if letter == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "letter not found")
	}
	if letter.CoveringLetter == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no covering letter to sign")
	}
	if letter.CoveringLetter.IsSigned {
		return nil, appErrors.Clone(appErrors.ErrSignedImmutable, "covering letter already signed")
	}
	next := letter.Clone()
	signedAt := m.now()
	next.CoveringLetter.IsSigned = true
	next.CoveringLetter.SignedAt = &signedAt
	next.UpdatedAt = signedAt
	return next, nil
}

// AddReport appends a report file.
func (m *AttachmentManager) AddReport(letter *models.Letter, file models.Attachment) (*models.Letter, error) {
	if letter == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "letter not found")
	}
	if letter.IsClosed() {
		return nil, appErrors.Clone(appErrors.ErrCaseClosed, fmt.Sprintf("letter %s is closed", letter.ReferenceNumber))
	}
	if err := m.checkFile(file); err != nil {
		return nil, err
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = m.now()
	}
	next := letter.Clone()
	next.ReportFiles = append(next.ReportFiles, file)
	next.UpdatedAt = m.now()
	return next, nil
}

// ListReports returns the reports in upload order.
func (m *AttachmentManager) ListReports(letter *models.Letter) []models.Attachment {
	if letter == nil || len(letter.ReportFiles) == 0 {
		return []models.Attachment{}
	}
	return append([]models.Attachment(nil), letter.ReportFiles...)
}

func (m *AttachmentManager) checkFile(file models.Attachment) error {
	if !IsAllowedType(file.MimeType) {
		return appErrors.Clone(appErrors.ErrUnsupportedType, fmt.Sprintf("%s is not a document or image", file.MimeType))
	}
	if file.Size > m.maxReportBytes {
		return appErrors.Clone(appErrors.ErrTooLarge, fmt.Sprintf("%s exceeds %d bytes", file.OriginalName, m.maxReportBytes))
	}
	if file.Size <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is empty", file.OriginalName))
	}
	return nil
}
