package service

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

var fixedNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestAttachments() *AttachmentManager {
	return NewAttachmentManager(WithAttachmentClock(func() time.Time { return fixedNow }))
}

func pdfReport(name string, size int64) models.Attachment {
	return models.Attachment{OriginalName: name, Size: size, MimeType: "application/pdf", StorageURL: "/files/" + name}
}

func TestIsAllowedType(t *testing.T) {
	for _, mt := range []string{
		"application/pdf",
		"image/png",
		"image/jpeg",
		"text/plain; charset=utf-8",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.oasis.opendocument.text",
	} {
		assert.True(t, IsAllowedType(mt), mt)
	}
	for _, mt := range []string{"", "application/zip", "video/mp4", "application/x-msdownload"} {
		assert.False(t, IsAllowedType(mt), mt)
	}
}

func TestAttachCoveringLetterSingularity(t *testing.T) {
	manager := newTestAttachments()
	letter := &models.Letter{ID: "l-1", ReferenceNumber: "IN/1"}

	withCover, err := manager.AttachCoveringLetter(letter, models.CoveringLetter{ID: "cl-1", DocumentURLs: []string{"u"}, IsSigned: true})
	require.NoError(t, err)
	require.NotNil(t, withCover.CoveringLetter)
	assert.False(t, withCover.CoveringLetter.IsSigned)
	assert.Equal(t, "IN/1", withCover.CoveringLetter.ReferenceNumber)
	assert.Nil(t, letter.CoveringLetter)

	_, err = manager.AttachCoveringLetter(withCover, models.CoveringLetter{ID: "cl-2"})
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyExists))
	assert.Equal(t, "cl-1", withCover.CoveringLetter.ID)

	removed, err := manager.RemoveCoveringLetter(withCover)
	require.NoError(t, err)
	again, err := manager.AttachCoveringLetter(removed, models.CoveringLetter{ID: "cl-2"})
	require.NoError(t, err)
	assert.Equal(t, "cl-2", again.CoveringLetter.ID)
}

func TestSignatureIsMonotonic(t *testing.T) {
	manager := newTestAttachments()
	letter, err := manager.AttachCoveringLetter(&models.Letter{ID: "l-1"}, models.CoveringLetter{ID: "cl-1"})
	require.NoError(t, err)

	signed, err := manager.MarkSigned(letter)
	require.NoError(t, err)
	require.True(t, signed.CoveringLetter.IsSigned)
	require.NotNil(t, signed.CoveringLetter.SignedAt)

	_, err = manager.MarkSigned(signed)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSignedImmutable))

	_, err = manager.RemoveCoveringLetter(signed)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSignedImmutable))

	withReport, err := manager.AddReport(signed, pdfReport("r.pdf", 1024))
	require.NoError(t, err)
	assert.True(t, withReport.CoveringLetter.IsSigned)
}

func TestMarkSignedWithoutCoveringLetter(t *testing.T) {
	_, err := newTestAttachments().MarkSigned(&models.Letter{ID: "l-1"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed))
}

func TestAddReportValidation(t *testing.T) {
	manager := newTestAttachments()
	letter := &models.Letter{ID: "l-1"}

	_, err := manager.AddReport(letter, models.Attachment{OriginalName: "a.zip", Size: 10, MimeType: "application/zip"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnsupportedType))

	_, err = manager.AddReport(letter, pdfReport("big.pdf", DefaultReportMaxBytes+1))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTooLarge))

	ok, err := manager.AddReport(letter, pdfReport("edge.pdf", DefaultReportMaxBytes))
	require.NoError(t, err)
	assert.Len(t, ok.ReportFiles, 1)
	assert.Equal(t, fixedNow, ok.ReportFiles[0].UploadedAt)

	closed := &models.Letter{ID: "l-2", InwardPatraClose: true}
	_, err = manager.AddReport(closed, models.Attachment{OriginalName: "a.zip", MimeType: "application/zip"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCaseClosed))
}

func TestListReportsKeepsInsertionOrder(t *testing.T) {
	manager := newTestAttachments()
	letter := &models.Letter{ID: "l-1"}
	for _, name := range []string{"c.pdf", "a.pdf", "b.pdf"} {
		var err error
		letter, err = manager.AddReport(letter, pdfReport(name, 10))
		require.NoError(t, err)
	}
	reports := manager.ListReports(letter)
	require.Len(t, reports, 3)
	assert.Equal(t, []string{"c.pdf", "a.pdf", "b.pdf"}, []string{reports[0].OriginalName, reports[1].OriginalName, reports[2].OriginalName})

	reports[0].OriginalName = "mutated"
	assert.Equal(t, "c.pdf", letter.ReportFiles[0].OriginalName)
	assert.Empty(t, manager.ListReports(&models.Letter{}))
}

func TestValidateUploadSniffsContent(t *testing.T) {
	manager := newTestAttachments()
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF")
	content := bytes.NewReader(pdf)

	meta, err := manager.ValidateUpload(Upload{Filename: "report.txt", Size: int64(len(pdf)), Content: content})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", meta.MimeType)
	assert.Equal(t, "report.txt", meta.OriginalName)

	pos, err := content.Seek(0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	exe := []byte("MZ\x90\x00\x03\x00\x00\x00\x04\x00\x00\x00\xff\xff")
	_, err = manager.ValidateUpload(Upload{Filename: "report.pdf", Size: int64(len(exe)), Content: bytes.NewReader(exe)})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnsupportedType))

	small := NewAttachmentManager(WithReportMaxBytes(8))
	_, err = small.ValidateUpload(Upload{Filename: "r.pdf", Size: int64(len(pdf)), Content: bytes.NewReader(pdf)})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTooLarge))
}
