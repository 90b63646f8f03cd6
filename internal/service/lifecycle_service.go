package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

// Action names a letter transition.
type Action string

const (
	ActionForward        Action = "forward"
	ActionSendToHead     Action = "send_to_head"
	ActionSign           Action = "sign"
	ActionUploadReports  Action = "upload_reports"
	ActionCloseCase      Action = "close_case"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionAttachCovering Action = "attach_covering_letter"
	ActionRemoveCovering Action = "remove_covering_letter"
)

// allActions is the order PermittedActions reports in.
var allActions = []Action{
	ActionForward,
	ActionAttachCovering,
	ActionRemoveCovering,
	ActionSendToHead,
	ActionSign,
	ActionUploadReports,
	ActionCloseCase,
	ActionApprove,
	ActionReject,
}

// Intent is a requested transition with its payload.
type Intent struct {
	Action         Action
	Target         models.RoleID
	Reports        []models.Attachment
	CoveringLetter *models.CoveringLetter
}

// LifecycleEngine guards and applies letter transitions. It holds no state:
// every operation takes a letter and returns a new one.
type LifecycleEngine struct {
	attachments *AttachmentManager
	now         func() time.Time
}

// LifecycleOption customises the engine.
type LifecycleOption func(*LifecycleEngine)

// WithLifecycleClock overrides the clock used for UpdatedAt.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(e *LifecycleEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewLifecycleEngine constructs a LifecycleEngine.
func NewLifecycleEngine(attachments *AttachmentManager, opts ...LifecycleOption) *LifecycleEngine {
	if attachments == nil {
		attachments = NewAttachmentManager()
	}
	engine := &LifecycleEngine{
		attachments: attachments,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Attachments exposes the attachment manager the engine delegates to.
func (e *LifecycleEngine) Attachments() *AttachmentManager {
	return e.attachments
}

// Check runs the payload-independent guards of action for actor.
func (e *LifecycleEngine) Check(letter *models.Letter, actor models.RoleID, action Action) error {
	if letter == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "letter not found")
	}
	if letter.IsClosed() {
		return appErrors.Clone(appErrors.ErrCaseClosed, fmt.Sprintf("letter %s is closed", letter.ReferenceNumber))
	}
	actor = models.NormalizeRole(string(actor))
	stage := letter.Stage()

	switch action {
	case ActionForward, ActionApprove, ActionReject:
		if err := requireOwner(letter, actor); err != nil {
			return err
		}
		return requireStage(stage, action, models.StageCreated, models.StageForwarded)
	case ActionSendToHead:
		if letter.IsSigned() {
			return appErrors.Clone(appErrors.ErrSignedImmutable, "letter was already signed")
		}
		if err := requireOwner(letter, actor); err != nil {
			return err
		}
		if letter.Status() == models.StatusSentToHead || actor == models.RoleHead {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "letter is already with the head")
		}
		return requireStage(stage, action, models.StageCreated, models.StageForwarded)
	case ActionSign:
		if actor != models.RoleHead {
			return appErrors.Clone(appErrors.ErrPermissionDenied, "only the head signs covering letters")
		}
		if letter.IsSigned() {
			return appErrors.Clone(appErrors.ErrSignedImmutable, "covering letter already signed")
		}
		if err := requireStage(stage, action, models.StageSentToHead); err != nil {
			return err
		}
		if letter.CoveringLetter == nil {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "no covering letter attached")
		}
		return nil
	case ActionUploadReports:
		if err := requireOwner(letter, actor); err != nil {
			return err
		}
		return requireStage(stage, action, models.StageSigned, models.StageReported)
	case ActionCloseCase:
		if err := requireOwner(letter, actor); err != nil {
			return err
		}
		if len(letter.ReportFiles) == 0 {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "upload at least one report before closing")
		}
		return requireStage(stage, action, models.StageReported)
	case ActionAttachCovering:
		if letter.CoveringLetter != nil {
			return appErrors.Clone(appErrors.ErrAlreadyExists, "remove the existing covering letter first")
		}
		if err := requireOwner(letter, actor); err != nil {
			return err
		}
		return requireStage(stage, action, models.StageCreated, models.StageForwarded, models.StageSentToHead)
	case ActionRemoveCovering:
		if letter.CoveringLetter == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "letter has no covering letter")
		}
		if letter.CoveringLetter.IsSigned {
			return appErrors.Clone(appErrors.ErrSignedImmutable, "signed covering letter cannot be removed")
		}
		return requireOwner(letter, actor)
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", action))
	}
}

// PermittedActions lists the actions actor may start on letter, for enabling
// controls in a view.
func (e *LifecycleEngine) PermittedActions(letter *models.Letter, identity *models.Identity) []Action {
	actions := make([]Action, 0, len(allActions))
	if letter == nil || identity == nil {
		return actions
	}
	for _, action := range allActions {
		if e.Check(letter, identity.Role, action) == nil {
			actions = append(actions, action)
		}
	}
	return actions
}

// Forward hands the letter to target.
func (e *LifecycleEngine) Forward(letter *models.Letter, actor, target models.RoleID) (*models.Letter, error) {
	if err := e.Check(letter, actor, ActionForward); err != nil {
		return nil, err
	}
	target = models.NormalizeRole(string(target))
	if !target.IsCanonical() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", target))
	}
	if target == models.NormalizeRole(string(actor)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "letter is already with this desk")
	}
	next := letter.Clone()
	next.ForwardTo = models.RolePtr(target)
	next.LetterStatus = models.StatusPending
	next.UpdatedAt = e.now()
	return next, nil
}

// SendToHead hands the letter to the head for signature and remembers who
// sent it.
func (e *LifecycleEngine) SendToHead(letter *models.Letter, actor models.RoleID) (*models.Letter, error) {
	if err := e.Check(letter, actor, ActionSendToHead); err != nil {
		return nil, err
	}
	next := letter.Clone()
	next.LetterStatus = models.StatusSentToHead
	next.ForwardTo = models.RolePtr(models.RoleHead)
	next.SentToHeadBy = models.RolePtr(models.NormalizeRole(string(actor)))
	next.UpdatedAt = e.now()
	return next, nil
}

// Sign marks the covering letter signed and returns the letter to the desk
// that sent it.
func (e *LifecycleEngine) Sign(letter *models.Letter, actor models.RoleID) (*models.Letter, error) {
	if err := e.Check(letter, actor, ActionSign); err != nil {
		return nil, err
	}
	next, err := e.attachments.MarkSigned(letter)
	if err != nil {
		return nil, err
	}
	returnTo := models.RoleInwardUser
	if letter.SentToHeadBy != nil {
		returnTo = models.NormalizeRole(string(*letter.SentToHeadBy))
	}
	next.ForwardTo = models.RolePtr(returnTo)
	next.UpdatedAt = e.now()
	return next, nil
}

// UploadReports appends reports in the given order. Either all files are
// accepted or the letter is returned unchanged with the first error.
func (e *LifecycleEngine) UploadReports(letter *models.Letter, actor models.RoleID, files []models.Attachment) (*models.Letter, error) {
	if err := e.Check(letter, actor, ActionUploadReports); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one report file is required")
	}
	next := letter
	for _, file := range files {
		updated, err := e.attachments.AddReport(next, file)
		if err != nil {
			return nil, err
		}
		next = updated
	}
	next.UpdatedAt = e.now()
	return next, nil
}

// CloseCase freezes the letter.
func (e *LifecycleEngine) CloseCase(letter *models.Letter, actor models.RoleID) (*models.Letter, error) {
	if err := e.Check(letter, actor, ActionCloseCase); err != nil {
		return nil, err
	}
	next := letter.Clone()
	next.InwardPatraClose = true
	next.LetterStatus = models.StatusCaseClosed
	next.UpdatedAt = e.now()
	return next, nil
}

// Approve settles the letter without the signing branch.
func (e *LifecycleEngine) Approve(letter *models.Letter, actor models.RoleID) (*models.Letter, error) {
	return e.decide(letter, actor, ActionApprove, models.StatusApproved)
}

// Reject settles the letter without the signing branch.
func (e *LifecycleEngine) Reject(letter *models.Letter, actor models.RoleID) (*models.Letter, error) {
	return e.decide(letter, actor, ActionReject, models.StatusRejected)
}

// AttachCoveringLetter attaches doc for the owning desk.
func (e *LifecycleEngine) AttachCoveringLetter(letter *models.Letter, actor models.RoleID, doc models.CoveringLetter) (*models.Letter, error) {
	if err := e.Check(letter, actor, ActionAttachCovering); err != nil {
		return nil, err
	}
	return e.attachments.AttachCoveringLetter(letter, doc)
}

// RemoveCoveringLetter detaches the unsigned covering letter.
func (e *LifecycleEngine) RemoveCoveringLetter(letter *models.Letter, actor models.RoleID) (*models.Letter, error) {
	if err := e.Check(letter, actor, ActionRemoveCovering); err != nil {
		return nil, err
	}
	return e.attachments.RemoveCoveringLetter(letter)
}

// Apply dispatches intent to the matching transition.
func (e *LifecycleEngine) Apply(letter *models.Letter, actor models.RoleID, intent Intent) (*models.Letter, error) {
	switch intent.Action {
	case ActionForward:
		return e.Forward(letter, actor, intent.Target)
	case ActionSendToHead:
		return e.SendToHead(letter, actor)
	case ActionSign:
		return e.Sign(letter, actor)
	case ActionUploadReports:
		return e.UploadReports(letter, actor, intent.Reports)
	case ActionCloseCase:
		return e.CloseCase(letter, actor)
	case ActionApprove:
		return e.Approve(letter, actor)
	case ActionReject:
		return e.Reject(letter, actor)
	case ActionAttachCovering:
		if intent.CoveringLetter == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "covering letter is required")
		}
		return e.AttachCoveringLetter(letter, actor, *intent.CoveringLetter)
	case ActionRemoveCovering:
		return e.RemoveCoveringLetter(letter, actor)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", intent.Action))
	}
}

func (e *LifecycleEngine) decide(letter *models.Letter, actor models.RoleID, action Action, status models.LetterStatus) (*models.Letter, error) {
	if err := e.Check(letter, actor, action); err != nil {
		return nil, err
	}
	next := letter.Clone()
	next.LetterStatus = status
	next.UpdatedAt = e.now()
	return next, nil
}

func requireOwner(letter *models.Letter, actor models.RoleID) error {
	if letter.Owner() != actor {
		return appErrors.Clone(appErrors.ErrPermissionDenied, fmt.Sprintf("letter is held by %s", letter.Owner()))
	}
	return nil
}

func requireStage(stage models.Stage, action Action, allowed ...models.Stage) error {
	for _, s := range allowed {
		if stage == s {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("%s is not allowed from %s", action, stage))
}
