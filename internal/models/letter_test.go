package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]LetterStatus{
		"pending":            StatusPending,
		"Forwarded":          StatusPending,
		"प्रमुखांकडे पाठवले": StatusSentToHead,
		"sent_to_head":       StatusSentToHead,
		"Sent to head":       StatusSentToHead,
		"processed":          StatusApproved,
		"APPROVED":           StatusApproved,
		"मंजूर":              StatusApproved,
		"अमान्य":             StatusRejected,
		"rejected":           StatusRejected,
		"Case Closed":        StatusCaseClosed,
		"बंद":                StatusCaseClosed,
		"":                   StatusPending,
		"something else":     StatusPending,
		"closed":             StatusCaseClosed,
		"case_closed":        StatusCaseClosed,
		"Close":              StatusCaseClosed,
		"rejected by head":   StatusRejected,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeStatus(raw), "raw=%q", raw)
	}
}

func TestNormalizeStatusIgnoresEmbeddedCloseWords(t *testing.T) {
	cases := map[string]LetterStatus{
		"forwarded with documents enclosed": StatusPending,
		"disclosed to applicant":            StatusPending,
		"enclosure pending":                 StatusPending,
		"approved, copy enclosed":           StatusApproved,
		"closed after hearing":              StatusCaseClosed,
		"file closed":                       StatusCaseClosed,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeStatus(raw), "raw=%q", raw)
	}
	assert.False(t, (&Letter{LetterStatus: "forwarded with documents enclosed"}).IsClosed())
}

func TestNormalizeStatusIdempotent(t *testing.T) {
	for _, raw := range []string{"processed", "प्रमुखांकडे पाठवले", "closed", "x", "rejected by head"} {
		once := NormalizeStatus(raw)
		assert.Equal(t, once, once.Normalize())
	}
}

func TestLetterOwner(t *testing.T) {
	letter := &Letter{}
	assert.Equal(t, RoleInwardUser, letter.Owner())

	letter.ForwardTo = RolePtr("Superintendent")
	assert.Equal(t, RoleSP, letter.Owner())
}

func TestLetterStage(t *testing.T) {
	letter := &Letter{LetterStatus: "pending"}
	assert.Equal(t, StageCreated, letter.Stage())

	letter.ForwardTo = RolePtr(RoleSP)
	assert.Equal(t, StageForwarded, letter.Stage())

	letter.LetterStatus = "प्रमुखांकडे पाठवले"
	letter.ForwardTo = RolePtr(RoleHead)
	assert.Equal(t, StageSentToHead, letter.Stage())

	letter.CoveringLetter = &CoveringLetter{ID: "cl-1", IsSigned: true}
	assert.Equal(t, StageSigned, letter.Stage())

	letter.ReportFiles = ReportFiles{{OriginalName: "r.pdf"}}
	assert.Equal(t, StageReported, letter.Stage())

	letter.InwardPatraClose = true
	assert.Equal(t, StageCaseClosed, letter.Stage())
}

func TestLetterCloneIsDeep(t *testing.T) {
	signedAt := time.Now()
	original := &Letter{
		ID:             "l-1",
		ForwardTo:      RolePtr(RoleSP),
		CoveringLetter: &CoveringLetter{ID: "cl-1", DocumentURLs: []string{"a"}, SignedAt: &signedAt},
		UploadedFile:   &Attachment{OriginalName: "in.pdf"},
		ReportFiles:    ReportFiles{{OriginalName: "r1.pdf"}},
	}
	clone := original.Clone()
	require.NotNil(t, clone)

	*clone.ForwardTo = RoleHead
	clone.CoveringLetter.DocumentURLs[0] = "b"
	clone.CoveringLetter.IsSigned = true
	clone.UploadedFile.OriginalName = "changed"
	clone.ReportFiles[0].OriginalName = "changed"

	assert.Equal(t, RoleSP, *original.ForwardTo)
	assert.Equal(t, "a", original.CoveringLetter.DocumentURLs[0])
	assert.False(t, original.CoveringLetter.IsSigned)
	assert.Equal(t, "in.pdf", original.UploadedFile.OriginalName)
	assert.Equal(t, "r1.pdf", original.ReportFiles[0].OriginalName)
	assert.Nil(t, (*Letter)(nil).Clone())
}

func TestReportFilesScan(t *testing.T) {
	var files ReportFiles
	require.NoError(t, files.Scan([]byte(`[{"originalName":"a.pdf","size":10}]`)))
	require.Len(t, files, 1)
	assert.Equal(t, "a.pdf", files[0].OriginalName)

	require.NoError(t, files.Scan(nil))
	assert.Nil(t, files)

	value, err := ReportFiles(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), value)
}
