package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

func newTestEngine() *LifecycleEngine {
	return NewLifecycleEngine(newTestAttachments(), WithLifecycleClock(func() time.Time { return fixedNow }))
}

func pendingLetter() *models.Letter {
	return &models.Letter{ID: "l-1", ReferenceNumber: "IN/2024/1", LetterStatus: "pending", Version: 1}
}

// signedLetter walks a letter from the inward desk through the sp desk to a
// signed covering letter.
func signedLetter(t *testing.T, engine *LifecycleEngine) *models.Letter {
	t.Helper()
	letter, err := engine.Forward(pendingLetter(), models.RoleInwardUser, models.RoleSP)
	require.NoError(t, err)
	letter, err = engine.AttachCoveringLetter(letter, models.RoleSP, models.CoveringLetter{ID: "cl-1", DocumentURLs: []string{"/files/cl"}})
	require.NoError(t, err)
	letter, err = engine.SendToHead(letter, models.RoleSP)
	require.NoError(t, err)
	letter, err = engine.Sign(letter, models.RoleHead)
	require.NoError(t, err)
	return letter
}

func TestScenarioForwardToSP(t *testing.T) {
	engine := newTestEngine()
	original := pendingLetter()

	forwarded, err := engine.Forward(original, models.RoleInwardUser, "Superintendent")
	require.NoError(t, err)
	require.NotNil(t, forwarded.ForwardTo)
	assert.Equal(t, models.RoleSP, *forwarded.ForwardTo)
	assert.Equal(t, models.StatusPending, forwarded.Status())
	assert.Equal(t, models.StageForwarded, forwarded.Stage())
	assert.False(t, forwarded.IsClosed())
	assert.Nil(t, original.ForwardTo)
}

func TestForwardGuards(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Forward(pendingLetter(), models.RoleSP, models.RoleDM)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPermissionDenied))

	_, err = engine.Forward(pendingLetter(), models.RoleInwardUser, "inward")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	_, err = engine.Forward(pendingLetter(), models.RoleInwardUser, "clerk")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	signed := signedLetter(t, engine)
	_, err = engine.Forward(signed, models.RoleSP, models.RoleDM)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))
}

func TestScenarioSignWithoutCoveringLetter(t *testing.T) {
	engine := newTestEngine()
	letter := pendingLetter()
	letter.LetterStatus = "प्रमुखांकडे पाठवले"
	letter.ForwardTo = models.RolePtr(models.RoleHead)

	_, err := engine.Sign(letter, models.RoleHead)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed))
}

func TestSendToHeadRecordsSenderAndSignReturnsOwnership(t *testing.T) {
	engine := newTestEngine()
	letter, err := engine.Forward(pendingLetter(), models.RoleInwardUser, models.RoleSP)
	require.NoError(t, err)
	letter, err = engine.AttachCoveringLetter(letter, models.RoleSP, models.CoveringLetter{ID: "cl-1"})
	require.NoError(t, err)

	sent, err := engine.SendToHead(letter, models.RoleSP)
	require.NoError(t, err)
	assert.Equal(t, models.StageSentToHead, sent.Stage())
	assert.Equal(t, models.RoleHead, sent.Owner())
	require.NotNil(t, sent.SentToHeadBy)
	assert.Equal(t, models.RoleSP, *sent.SentToHeadBy)

	_, err = engine.SendToHead(sent, models.RoleHead)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))

	_, err = engine.Sign(sent, models.RoleSP)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPermissionDenied))

	signed, err := engine.Sign(sent, "HOD")
	require.NoError(t, err)
	assert.True(t, signed.IsSigned())
	assert.Equal(t, models.StageSigned, signed.Stage())
	assert.Equal(t, models.RoleSP, signed.Owner())
	assert.False(t, sent.IsSigned())
}

func TestScenarioSignedCoveringLetterCannotBeRemoved(t *testing.T) {
	engine := newTestEngine()
	signed := signedLetter(t, engine)

	_, err := engine.RemoveCoveringLetter(signed, models.RoleSP)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSignedImmutable))
	_, err = engine.RemoveCoveringLetter(signed, models.RoleDM)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSignedImmutable))

	_, err = engine.SendToHead(signed, models.RoleSP)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSignedImmutable))

	_, err = engine.Sign(signed, models.RoleHead)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSignedImmutable))
}

func TestScenarioReportThenClose(t *testing.T) {
	engine := newTestEngine()
	signed := signedLetter(t, engine)

	_, err := engine.CloseCase(signed, models.RoleSP)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed))

	reported, err := engine.UploadReports(signed, models.RoleSP, []models.Attachment{pdfReport("report.pdf", 2<<20)})
	require.NoError(t, err)
	assert.Len(t, reported.ReportFiles, 1)
	assert.Equal(t, models.StageReported, reported.Stage())

	_, err = engine.CloseCase(reported, models.RoleDM)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPermissionDenied))

	closed, err := engine.CloseCase(reported, models.RoleSP)
	require.NoError(t, err)
	assert.True(t, closed.InwardPatraClose)
	assert.Equal(t, models.StageCaseClosed, closed.Stage())
	assert.False(t, reported.InwardPatraClose)
}

func TestScenarioClosedLetterIsFrozen(t *testing.T) {
	engine := newTestEngine()
	signed := signedLetter(t, engine)
	reported, err := engine.UploadReports(signed, models.RoleSP, []models.Attachment{pdfReport("report.pdf", 2<<20)})
	require.NoError(t, err)
	closed, err := engine.CloseCase(reported, models.RoleSP)
	require.NoError(t, err)

	_, err = engine.UploadReports(closed, models.RoleSP, []models.Attachment{pdfReport("late.pdf", 10)})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCaseClosed))

	intents := []Intent{
		{Action: ActionForward, Target: models.RoleDM},
		{Action: ActionSendToHead},
		{Action: ActionSign},
		{Action: ActionUploadReports, Reports: []models.Attachment{pdfReport("x.pdf", 10)}},
		{Action: ActionCloseCase},
		{Action: ActionApprove},
		{Action: ActionReject},
		{Action: ActionAttachCovering, CoveringLetter: &models.CoveringLetter{ID: "cl-2"}},
		{Action: ActionRemoveCovering},
	}
	for _, actor := range []models.RoleID{models.RoleSP, models.RoleHead, models.RoleInwardUser} {
		for _, intent := range intents {
			_, err := engine.Apply(closed, actor, intent)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrCaseClosed), "%s by %s", intent.Action, actor)
		}
	}

	reports := engine.Attachments().ListReports(closed)
	require.Len(t, reports, 1)
	assert.Equal(t, "report.pdf", reports[0].OriginalName)
}

func TestUploadReportsIsAllOrNothing(t *testing.T) {
	engine := newTestEngine()
	signed := signedLetter(t, engine)

	_, err := engine.UploadReports(signed, models.RoleSP, nil)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	_, err = engine.UploadReports(signed, models.RoleSP, []models.Attachment{
		pdfReport("ok.pdf", 10),
		{OriginalName: "bad.exe", Size: 10, MimeType: "application/x-msdownload"},
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnsupportedType))
	assert.Empty(t, signed.ReportFiles)

	_, err = engine.UploadReports(pendingLetter(), models.RoleInwardUser, []models.Attachment{pdfReport("early.pdf", 10)})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))
}

func TestApproveAndRejectBranches(t *testing.T) {
	engine := newTestEngine()

	approved, err := engine.Approve(pendingLetter(), models.RoleInwardUser)
	require.NoError(t, err)
	assert.Equal(t, models.StageApproved, approved.Stage())

	_, err = engine.SendToHead(approved, models.RoleInwardUser)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))
	_, err = engine.Reject(approved, models.RoleInwardUser)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))

	forwarded, err := engine.Forward(pendingLetter(), models.RoleInwardUser, models.RoleDM)
	require.NoError(t, err)
	_, err = engine.Reject(forwarded, models.RoleInwardUser)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPermissionDenied))
	rejected, err := engine.Reject(forwarded, models.RoleDM)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status())
}

func TestGuardsUseNormalizedStatus(t *testing.T) {
	engine := newTestEngine()
	letter := pendingLetter()
	letter.LetterStatus = "Processed"

	_, err := engine.Approve(letter, models.RoleInwardUser)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))

	letter.LetterStatus = "निकाली"
	_, err = engine.Forward(letter, models.RoleInwardUser, models.RoleSP)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCaseClosed))
}

func TestPermittedActions(t *testing.T) {
	engine := newTestEngine()
	inward := &models.Identity{Role: models.RoleInwardUser}

	assert.Equal(t, []Action{ActionForward, ActionAttachCovering, ActionSendToHead, ActionApprove, ActionReject},
		engine.PermittedActions(pendingLetter(), inward))
	assert.Empty(t, engine.PermittedActions(pendingLetter(), &models.Identity{Role: models.RoleSP}))

	signed := signedLetter(t, engine)
	assert.Equal(t, []Action{ActionUploadReports}, engine.PermittedActions(signed, &models.Identity{Role: models.RoleSP}))
	assert.Empty(t, engine.PermittedActions(signed, &models.Identity{Role: models.RoleHead}))
	assert.Empty(t, engine.PermittedActions(nil, inward))
}

func TestApplyRejectsUnknownAction(t *testing.T) {
	_, err := newTestEngine().Apply(pendingLetter(), models.RoleInwardUser, Intent{Action: "teleport"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	_, err = newTestEngine().Apply(pendingLetter(), models.RoleInwardUser, Intent{Action: ActionAttachCovering})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}
