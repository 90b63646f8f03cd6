package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/dto"
	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
	"github.com/noah-isme/patra-api/pkg/jobs"
)

// LetterGateway is the authoritative letter store as seen from a desk.
type LetterGateway interface {
	ListLetters(ctx context.Context, filter models.LetterFilter) ([]models.Letter, error)
	GetLetter(ctx context.Context, id string) (*models.Letter, error)
	ForwardLetter(ctx context.Context, id string, target models.RoleID) (*models.Letter, error)
	SendToHead(ctx context.Context, id string) (*models.Letter, error)
	SignCoveringLetter(ctx context.Context, id string) (*models.Letter, error)
	AttachCoveringLetter(ctx context.Context, id string, files []Upload, meta dto.CoveringLetterMetadata) (*models.CoveringLetter, error)
	DeleteCoveringLetter(ctx context.Context, id, coveringLetterID string) error
	UploadReports(ctx context.Context, id string, files []Upload) (*models.Letter, error)
	CloseCase(ctx context.Context, id string) (*models.Letter, error)
	DecideLetter(ctx context.Context, id string, status models.LetterStatus) (*models.Letter, error)
	DownloadMerged(ctx context.Context, id string) (io.ReadCloser, error)
}

type identitySource interface {
	Current(ctx context.Context) (*models.Identity, error)
}

type reconcileMetrics interface {
	ObserveTransition(action, outcome string)
	ObserveRollback(code string)
}

// Mutation is a user intent against one letter.
type Mutation struct {
	LetterID       string
	Action         Action
	Target         models.RoleID
	Files          []Upload
	CoveringLetter dto.CoveringLetterMetadata
}

// MutationCallback receives the outcome of a dispatched mutation.
type MutationCallback func(letter *models.Letter, err error)

type dispatchPayload struct {
	mutation Mutation
	done     MutationCallback
}

// ReconcilerConfig tunes the reconciler.
type ReconcilerConfig struct {
	MutationTimeout time.Duration
	Workers         int
}

// Reconciler holds the desk's copy of letters. Mutations are applied
// locally first, then submitted; the server copy replaces the local one on
// success and the pre-mutation copy is restored on failure. Letters with a
// mutation in flight are not overwritten by refreshes.
type Reconciler struct {
	engine   *LifecycleEngine
	gateway  LetterGateway
	identity identitySource
	logger   *zap.Logger
	metrics  reconcileMetrics
	timeout  time.Duration
	queue    *jobs.Queue

	mu          sync.Mutex
	letters     map[string]*models.Letter
	order       []string
	pending     map[string]struct{}
	lastReadErr error
}

// ReconcilerOption customises the reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerMetrics records transitions and rollbacks.
func WithReconcilerMetrics(metrics reconcileMetrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

// NewReconciler constructs a Reconciler. Call Start before Dispatch.
func NewReconciler(engine *LifecycleEngine, gateway LetterGateway, identity identitySource, logger *zap.Logger, cfg ReconcilerConfig, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = NewLifecycleEngine(nil)
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = 15 * time.Second
	}
	r := &Reconciler{
		engine:   engine,
		gateway:  gateway,
		identity: identity,
		logger:   logger,
		timeout:  cfg.MutationTimeout,
		letters:  make(map[string]*models.Letter),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = jobs.NewQueue("letter-mutations", r.handleJob, jobs.QueueConfig{
		Workers: cfg.Workers,
		Logger:  logger,
	})
	return r
}

// Start runs the dispatch workers.
func (r *Reconciler) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop waits for the dispatch workers to exit.
func (r *Reconciler) Stop() {
	r.queue.Stop()
}

// Letter returns a copy of the local letter.
func (r *Reconciler) Letter(id string) (*models.Letter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	letter, ok := r.letters[id]
	if !ok {
		return nil, false
	}
	return letter.Clone(), true
}

// Letters returns copies of the local letters in the order of the last list
// read.
func (r *Reconciler) Letters() []models.Letter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Letter, 0, len(r.order))
	for _, id := range r.order {
		if letter, ok := r.letters[id]; ok {
			out = append(out, *letter.Clone())
		}
	}
	return out
}

// Pending reports whether a mutation for id is in flight.
func (r *Reconciler) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// LastReadError returns the error of the most recent failed read, or nil once
// a read succeeds.
func (r *Reconciler) LastReadError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReadErr
}

// PermittedActions lists what the current identity may do with letter id.
func (r *Reconciler) PermittedActions(ctx context.Context, id string) []Action {
	identity, err := r.identity.Current(ctx)
	if err != nil {
		return nil
	}
	letter, ok := r.Letter(id)
	if !ok {
		return nil
	}
	return r.engine.PermittedActions(letter, identity)
}

// Refresh reads the letter list. On failure the previous letters stay and
// the error is kept for LastReadError.
func (r *Reconciler) Refresh(ctx context.Context, filter models.LetterFilter) ([]models.Letter, error) {
	letters, err := r.gateway.ListLetters(ctx, filter)
	if err != nil {
		err = asNetworkError(err)
		r.mu.Lock()
		r.lastReadErr = err
		r.mu.Unlock()
		r.logger.Warn("letter list refresh failed", zap.Error(err))
		return r.Letters(), err
	}

	r.mu.Lock()
	order := make([]string, 0, len(letters))
	for i := range letters {
		letter := letters[i]
		order = append(order, letter.ID)
		if _, busy := r.pending[letter.ID]; busy {
			continue
		}
		r.letters[letter.ID] = letter.Clone()
	}
	r.order = order
	r.lastReadErr = nil
	r.mu.Unlock()
	return r.Letters(), nil
}

// RefreshLetter reads one letter, keeping the local copy when a mutation for
// it is in flight.
func (r *Reconciler) RefreshLetter(ctx context.Context, id string) (*models.Letter, error) {
	letter, err := r.gateway.GetLetter(ctx, id)
	if err != nil {
		err = asNetworkError(err)
		r.mu.Lock()
		r.lastReadErr = err
		r.mu.Unlock()
		if cached, ok := r.Letter(id); ok {
			return cached, err
		}
		return nil, err
	}
	r.mu.Lock()
	if _, busy := r.pending[id]; !busy {
		r.letters[id] = letter.Clone()
		if !containsID(r.order, id) {
			r.order = append(r.order, id)
		}
	}
	r.lastReadErr = nil
	r.mu.Unlock()
	cached, _ := r.Letter(id)
	return cached, nil
}

// StartPolling refreshes the list every interval until the returned func is
// called. Cancelling the poll does not cancel mutations in flight.
func (r *Reconciler) StartPolling(scheduler TaskScheduler, name string, interval time.Duration, filter models.LetterFilter) func() {
	return scheduler.Schedule(name, interval, func(ctx context.Context) error {
		_, err := r.Refresh(ctx, filter)
		return err
	})
}

// Execute applies m optimistically and reconciles it with the store. The
// submission runs detached from ctx's cancellation, bounded by the mutation
// timeout.
func (r *Reconciler) Execute(ctx context.Context, m Mutation) (*models.Letter, error) {
	identity, err := r.identity.Current(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := r.Letter(m.LetterID); !ok {
		if _, err := r.RefreshLetter(ctx, m.LetterID); err != nil {
			return nil, err
		}
	}

	previous, err := r.claim(m.LetterID)
	if err != nil {
		return nil, err
	}
	intent, err := r.intentFor(m, previous)
	if err != nil {
		r.release(m.LetterID)
		return nil, err
	}
	optimistic, err := r.engine.Apply(previous, identity.Role, intent)
	if err != nil {
		r.release(m.LetterID)
		r.observeTransition(m.Action, "refused")
		return nil, err
	}

	r.mu.Lock()
	r.letters[m.LetterID] = optimistic
	if !containsID(r.order, m.LetterID) {
		r.order = append(r.order, m.LetterID)
	}
	r.mu.Unlock()

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	server, err := r.submit(submitCtx, m, previous)
	if err == nil && server == nil {
		err = appErrors.Clone(appErrors.ErrServerRejected, "store returned no letter")
	}

	r.mu.Lock()
	delete(r.pending, m.LetterID)
	if err != nil {
		r.letters[m.LetterID] = previous
	} else {
		r.letters[m.LetterID] = server.Clone()
	}
	r.mu.Unlock()

	if err != nil {
		err = asNetworkError(err)
		code := appErrors.FromError(err).Code
		r.logger.Warn("letter mutation rolled back",
			zap.String("letter_id", m.LetterID),
			zap.String("action", string(m.Action)),
			zap.String("code", code),
			zap.Error(err),
		)
		r.observeTransition(m.Action, "rolled_back")
		if r.metrics != nil {
			r.metrics.ObserveRollback(code)
		}
		return nil, err
	}
	r.observeTransition(m.Action, "applied")
	return server.Clone(), nil
}

// claim marks id as in flight and returns the local copy the mutation is
// built from. Refreshes leave a claimed letter alone.
func (r *Reconciler) claim(id string) (*models.Letter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.pending[id]; busy {
		return nil, appErrors.Clone(appErrors.ErrConflict, "another change to this letter is still in flight")
	}
	letter, ok := r.letters[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "letter not found")
	}
	r.pending[id] = struct{}{}
	return letter.Clone(), nil
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Dispatch runs m in the background. done, if set, is called with the
// outcome once the store answers.
func (r *Reconciler) Dispatch(m Mutation, done MutationCallback) error {
	return r.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(m.Action),
		Payload: dispatchPayload{mutation: m, done: done},
	})
}

// DownloadMerged streams the routing slip of letter id.
func (r *Reconciler) DownloadMerged(ctx context.Context, id string) (io.ReadCloser, error) {
	body, err := r.gateway.DownloadMerged(ctx, id)
	if err != nil {
		return nil, asNetworkError(err)
	}
	return body, nil
}

func (r *Reconciler) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(dispatchPayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T", job.Payload))
	}
	letter, err := r.Execute(ctx, payload.mutation)
	if payload.done != nil {
		payload.done(letter, err)
	}
	if err != nil {
		return jobs.Permanent(err)
	}
	return nil
}

// intentFor builds the engine intent, validating uploads locally so bad
// files never reach the store.
func (r *Reconciler) intentFor(m Mutation, letter *models.Letter) (Intent, error) {
	intent := Intent{Action: m.Action, Target: m.Target}
	attachments := r.engine.Attachments()
	switch m.Action {
	case ActionUploadReports:
		for _, file := range m.Files {
			meta, err := attachments.ValidateUpload(file)
			if err != nil {
				return Intent{}, err
			}
			intent.Reports = append(intent.Reports, meta)
		}
	case ActionAttachCovering:
		if len(m.Files) == 0 {
			return Intent{}, appErrors.Clone(appErrors.ErrValidation, "covering letter document is required")
		}
		doc := models.CoveringLetter{ID: "pending-" + uuid.NewString(), ReferenceNumber: m.CoveringLetter.ReferenceNumber}
		for _, file := range m.Files {
			meta, err := attachments.ValidateUpload(file)
			if err != nil {
				return Intent{}, err
			}
			doc.DocumentURLs = append(doc.DocumentURLs, meta.OriginalName)
		}
		if doc.ReferenceNumber == "" {
			doc.ReferenceNumber = letter.ReferenceNumber
		}
		intent.CoveringLetter = &doc
	}
	return intent, nil
}

func (r *Reconciler) submit(ctx context.Context, m Mutation, previous *models.Letter) (*models.Letter, error) {
	switch m.Action {
	case ActionForward:
		return r.gateway.ForwardLetter(ctx, m.LetterID, models.NormalizeRole(string(m.Target)))
	case ActionSendToHead:
		return r.gateway.SendToHead(ctx, m.LetterID)
	case ActionSign:
		return r.gateway.SignCoveringLetter(ctx, m.LetterID)
	case ActionUploadReports:
		return r.gateway.UploadReports(ctx, m.LetterID, m.Files)
	case ActionCloseCase:
		return r.gateway.CloseCase(ctx, m.LetterID)
	case ActionApprove:
		return r.gateway.DecideLetter(ctx, m.LetterID, models.StatusApproved)
	case ActionReject:
		return r.gateway.DecideLetter(ctx, m.LetterID, models.StatusRejected)
	case ActionAttachCovering:
		if _, err := r.gateway.AttachCoveringLetter(ctx, m.LetterID, m.Files, m.CoveringLetter); err != nil {
			return nil, err
		}
		return r.gateway.GetLetter(ctx, m.LetterID)
	case ActionRemoveCovering:
		if err := r.gateway.DeleteCoveringLetter(ctx, m.LetterID, previous.CoveringLetter.ID); err != nil {
			return nil, err
		}
		return r.gateway.GetLetter(ctx, m.LetterID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", m.Action))
	}
}

func (r *Reconciler) observeTransition(action Action, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveTransition(string(action), outcome)
	}
}

// asNetworkError maps timeouts and untyped transport errors onto
// ErrNetworkFailure and leaves typed errors alone.
func asNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.Wrap(err, appErrors.ErrNetworkFailure.Code, appErrors.ErrNetworkFailure.Status, "request timed out")
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrNetworkFailure.Code, appErrors.ErrNetworkFailure.Status, appErrors.ErrNetworkFailure.Message)
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
