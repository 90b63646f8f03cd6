package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/dto"
	"github.com/noah-isme/patra-api/internal/models"
	"github.com/noah-isme/patra-api/internal/repository"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
	"github.com/noah-isme/patra-api/pkg/export"
	"github.com/noah-isme/patra-api/pkg/middleware/requestid"
	"github.com/noah-isme/patra-api/pkg/storage"
)

type letterRepository interface {
	Create(ctx context.Context, letter *models.Letter) error
	FindByID(ctx context.Context, id string) (*models.Letter, error)
	List(ctx context.Context, filter models.LetterFilter) ([]models.Letter, int, error)
	Update(ctx context.Context, letter *models.Letter) error
	CountOpen(ctx context.Context) (int, error)
}

type auditTrail interface {
	auditRecorder
	ListForResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

type transitionMetrics interface {
	ObserveTransition(action, outcome string)
	ObserveDBQuery(label string, duration time.Duration)
	SetOpenLetters(n int)
}

// ExportFormat selects the register export encoding.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

const (
	letterResource   = "letter"
	maxExportPages   = 50
	exportPageSize   = 100
	defaultFilesPath = "/api/v1/files/"
)

// LetterServiceConfig tunes the letter store.
type LetterServiceConfig struct {
	// FilesPath prefixes signed download tokens in rendered storage URLs.
	FilesPath string
}

// LetterService is the authoritative letter store. Every change runs the
// lifecycle guards for the calling identity and is persisted with an
// optimistic version check.
type LetterService struct {
	repo      letterRepository
	audit     auditTrail
	engine    *LifecycleEngine
	objects   storage.ObjectStore
	signer    *storage.SignedURLSigner
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	validator *validator.Validate
	metrics   transitionMetrics
	logger    *zap.Logger
	config    LetterServiceConfig
}

// LetterServiceOption customises the letter service.
type LetterServiceOption func(*LetterService)

// WithLetterMetrics records transitions.
func WithLetterMetrics(metrics transitionMetrics) LetterServiceOption {
	return func(s *LetterService) {
		s.metrics = metrics
	}
}

// NewLetterService constructs a LetterService.
func NewLetterService(repo letterRepository, audit auditTrail, engine *LifecycleEngine, objects storage.ObjectStore, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger, cfg LetterServiceConfig, opts ...LetterServiceOption) *LetterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if engine == nil {
		engine = NewLifecycleEngine(nil)
	}
	if cfg.FilesPath == "" {
		cfg.FilesPath = defaultFilesPath
	}
	s := &LetterService{
		repo:      repo,
		audit:     audit,
		engine:    engine,
		objects:   objects,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers an inward letter, optionally with its scanned original.
func (s *LetterService) Create(ctx context.Context, actor *models.Identity, req dto.CreateLetterRequest, original *Upload) (*dto.LetterView, error) {
	if actor.Role != models.RoleInwardUser && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only the inward desk registers letters")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid letter payload")
	}

	letter := &models.Letter{
		ID:              uuid.NewString(),
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		Subject:         strings.TrimSpace(req.Subject),
		Sender:          strings.TrimSpace(req.Sender),
		LetterStatus:    models.StatusPending,
		ReportFiles:     models.ReportFiles{},
	}
	if original != nil {
		stored, err := s.store(ctx, letter.ID, "original", *original)
		if err != nil {
			return nil, err
		}
		letter.UploadedFile = &stored
	}
	if err := s.repo.Create(ctx, letter); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, appErrors.Clone(appErrors.ErrConflict, "reference number already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create letter")
	}
	s.recordTransition(ctx, actor, letter.ID, models.AuditActionLetterCreate, nil, letter)
	return s.view(letter, actor), nil
}

// List returns the letters visible to actor. The inward desk and admins see
// every letter, other desks see the letters they hold.
func (s *LetterService) List(ctx context.Context, actor *models.Identity, query dto.LetterQuery) ([]dto.LetterView, *models.Pagination, error) {
	filter := s.visibleFilter(actor, query.Filter())
	start := time.Now()
	letters, total, err := s.repo.List(ctx, filter)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("letters_list", time.Since(start))
	}
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list letters")
	}
	views := make([]dto.LetterView, 0, len(letters))
	for i := range letters {
		views = append(views, *s.view(&letters[i], actor))
	}
	pageSize := filter.Limit
	return views, &models.Pagination{
		Page:       filter.Offset/pageSize + 1,
		PageSize:   pageSize,
		TotalCount: total,
	}, nil
}

// Get returns one letter if actor may see it.
func (s *LetterService) Get(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	letter, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.view(letter, actor), nil
}

// Forward hands the letter to target.
func (s *LetterService) Forward(ctx context.Context, actor *models.Identity, id string, req dto.ForwardLetterRequest) (*dto.LetterView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forward payload")
	}
	return s.mutate(ctx, actor, id, ActionForward, models.AuditActionLetterForward, func(letter *models.Letter) (*models.Letter, error) {
		return s.engine.Forward(letter, actor.Role, req.ForwardTo)
	})
}

// SendToHead hands the letter to the head for signature.
func (s *LetterService) SendToHead(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	return s.mutate(ctx, actor, id, ActionSendToHead, models.AuditActionSendToHead, func(letter *models.Letter) (*models.Letter, error) {
		return s.engine.SendToHead(letter, actor.Role)
	})
}

// Sign signs the covering letter.
func (s *LetterService) Sign(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	return s.mutate(ctx, actor, id, ActionSign, models.AuditActionSign, func(letter *models.Letter) (*models.Letter, error) {
		return s.engine.Sign(letter, actor.Role)
	})
}

// Decide approves or rejects the letter.
func (s *LetterService) Decide(ctx context.Context, actor *models.Identity, id string, req dto.DecisionRequest) (*dto.LetterView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	switch req.Status.Normalize() {
	case models.StatusApproved:
		return s.mutate(ctx, actor, id, ActionApprove, models.AuditActionDecision, func(letter *models.Letter) (*models.Letter, error) {
			return s.engine.Approve(letter, actor.Role)
		})
	case models.StatusRejected:
		return s.mutate(ctx, actor, id, ActionReject, models.AuditActionDecision, func(letter *models.Letter) (*models.Letter, error) {
			return s.engine.Reject(letter, actor.Role)
		})
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("status %q is not a decision", req.Status))
	}
}

// CloseCase closes the case.
func (s *LetterService) CloseCase(ctx context.Context, actor *models.Identity, id string) (*dto.LetterView, error) {
	return s.mutate(ctx, actor, id, ActionCloseCase, models.AuditActionCaseClose, func(letter *models.Letter) (*models.Letter, error) {
		return s.engine.CloseCase(letter, actor.Role)
	})
}

// AttachCoveringLetter stores files as the covering letter of id.
func (s *LetterService) AttachCoveringLetter(ctx context.Context, actor *models.Identity, id string, files []Upload, meta dto.CoveringLetterMetadata) (*models.CoveringLetter, error) {
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "covering letter document is required")
	}
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Check(current, actor.Role, ActionAttachCovering); err != nil {
		s.observe(ActionAttachCovering, "refused")
		return nil, err
	}

	doc := models.CoveringLetter{ID: uuid.NewString(), ReferenceNumber: strings.TrimSpace(meta.ReferenceNumber)}
	for _, file := range files {
		stored, err := s.store(ctx, id, "covering", file)
		if err != nil {
			s.discard(ctx, doc.StorageKeys...)
			return nil, err
		}
		doc.StorageKeys = append(doc.StorageKeys, stored.StorageKey)
		doc.DocumentURLs = append(doc.DocumentURLs, stored.OriginalName)
	}

	view, err := s.mutate(ctx, actor, id, ActionAttachCovering, models.AuditActionCoveringAttach, func(letter *models.Letter) (*models.Letter, error) {
		return s.engine.AttachCoveringLetter(letter, actor.Role, doc)
	})
	if err != nil {
		s.discard(ctx, doc.StorageKeys...)
		return nil, err
	}
	return view.CoveringLetter, nil
}

// DeleteCoveringLetter removes the unsigned covering letter coveringLetterID.
func (s *LetterService) DeleteCoveringLetter(ctx context.Context, actor *models.Identity, id, coveringLetterID string) error {
	var removed []string
	_, err := s.mutate(ctx, actor, id, ActionRemoveCovering, models.AuditActionCoveringDelete, func(letter *models.Letter) (*models.Letter, error) {
		if letter.CoveringLetter == nil || letter.CoveringLetter.ID != coveringLetterID {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "covering letter not found")
		}
		removed = append(removed, letter.CoveringLetter.StorageKeys...)
		return s.engine.RemoveCoveringLetter(letter, actor.Role)
	})
	if err != nil {
		return err
	}
	s.discard(ctx, removed...)
	return nil
}

// UploadReports stores files and appends them as reports, all or nothing.
func (s *LetterService) UploadReports(ctx context.Context, actor *models.Identity, id string, files []Upload) (*dto.LetterView, error) {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Check(current, actor.Role, ActionUploadReports); err != nil {
		s.observe(ActionUploadReports, "refused")
		return nil, err
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one report file is required")
	}

	reports := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		if _, err := s.engine.Attachments().ValidateUpload(file); err != nil {
			return nil, err
		}
	}
	var keys []string
	for _, file := range files {
		stored, err := s.store(ctx, id, "reports", file)
		if err != nil {
			s.discard(ctx, keys...)
			return nil, err
		}
		keys = append(keys, stored.StorageKey)
		reports = append(reports, stored)
	}

	view, err := s.mutate(ctx, actor, id, ActionUploadReports, models.AuditActionReportUpload, func(letter *models.Letter) (*models.Letter, error) {
		return s.engine.UploadReports(letter, actor.Role, reports)
	})
	if err != nil {
		s.discard(ctx, keys...)
		return nil, err
	}
	return view, nil
}

// ResolveDownload opens the object a signed token points at.
func (s *LetterService) ResolveDownload(ctx context.Context, token string) (io.ReadCloser, storage.ObjectInfo, string, error) {
	if s.signer == nil || s.objects == nil {
		return nil, storage.ObjectInfo{}, "", appErrors.Clone(appErrors.ErrNotFound, "file storage is not configured")
	}
	_, key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, storage.ObjectInfo{}, "", appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "download link is invalid or expired")
	}
	body, info, err := s.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, "", appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, storage.ObjectInfo{}, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return body, info, path.Base(key), nil
}

// DownloadMerged renders the routing slip of a letter: its header, covering
// letter, reports and audit trail.
func (s *LetterService) DownloadMerged(ctx context.Context, actor *models.Identity, id string) ([]byte, string, error) {
	letter, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}

	slip := export.RoutingSlip{
		Title: "Routing slip " + letter.ReferenceNumber,
		Fields: []export.Field{
			{Label: "Reference", Value: letter.ReferenceNumber},
			{Label: "Subject", Value: letter.Subject},
			{Label: "Sender", Value: letter.Sender},
			{Label: "Status", Value: string(letter.Status())},
			{Label: "Stage", Value: string(letter.Stage())},
			{Label: "Held by", Value: letter.Owner().String()},
		},
	}
	if letter.SentToHeadBy != nil {
		slip.Fields = append(slip.Fields, export.Field{Label: "Sent to head by", Value: letter.SentToHeadBy.String()})
	}

	covering := export.Dataset{Headers: []string{"Reference", "Documents", "Signed", "Signed at"}}
	if doc := letter.CoveringLetter; doc != nil {
		signedAt := ""
		if doc.SignedAt != nil {
			signedAt = doc.SignedAt.Format(time.RFC3339)
		}
		covering.Rows = append(covering.Rows, map[string]string{
			"Reference": doc.ReferenceNumber,
			"Documents": strings.Join(doc.DocumentURLs, ", "),
			"Signed":    strconv.FormatBool(doc.IsSigned),
			"Signed at": signedAt,
		})
	}
	reports := export.Dataset{Headers: []string{"File", "Type", "Size", "Uploaded"}}
	for _, report := range letter.ReportFiles {
		reports.Rows = append(reports.Rows, map[string]string{
			"File":     report.OriginalName,
			"Type":     report.MimeType,
			"Size":     strconv.FormatInt(report.Size, 10),
			"Uploaded": report.UploadedAt.Format(time.RFC3339),
		})
	}
	slip.Sections = append(slip.Sections,
		export.Section{Heading: "Covering letter", Data: covering},
		export.Section{Heading: "Reports", Data: reports},
	)

	if s.audit != nil {
		logs, err := s.audit.ListForResource(ctx, letterResource, letter.ID)
		if err != nil {
			s.logger.Warn("failed to load audit trail for routing slip", zap.String("letter_id", letter.ID), zap.Error(err))
		}
		trail := export.Dataset{Headers: []string{"When", "Action", "Desk"}}
		for _, entry := range logs {
			desk := ""
			if entry.Role != nil {
				desk = entry.Role.String()
			}
			trail.Rows = append(trail.Rows, map[string]string{
				"When":   entry.CreatedAt.Format(time.RFC3339),
				"Action": entry.Action,
				"Desk":   desk,
			})
		}
		slip.Sections = append(slip.Sections, export.Section{Heading: "Movement", Data: trail})
	}

	body, err := s.pdf.RenderRoutingSlip(slip)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render routing slip")
	}
	return body, safeFilename(letter.ReferenceNumber) + ".pdf", nil
}

// ExportRegister renders the letters visible to actor as a register.
func (s *LetterService) ExportRegister(ctx context.Context, actor *models.Identity, query dto.LetterQuery, format ExportFormat) ([]byte, string, error) {
	filter := s.visibleFilter(actor, query.Filter())
	filter.Limit = exportPageSize
	filter.Offset = 0

	dataset := export.Dataset{Headers: []string{"Reference", "Subject", "Sender", "Status", "Stage", "Held by", "Covering letter", "Reports", "Updated"}}
	for page := 0; page < maxExportPages; page++ {
		letters, _, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list letters")
		}
		for i := range letters {
			letter := &letters[i]
			covering := "none"
			if letter.CoveringLetter != nil {
				covering = "unsigned"
				if letter.CoveringLetter.IsSigned {
					covering = "signed"
				}
			}
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Reference":       letter.ReferenceNumber,
				"Subject":         letter.Subject,
				"Sender":          letter.Sender,
				"Status":          string(letter.Status()),
				"Stage":           string(letter.Stage()),
				"Held by":         letter.Owner().String(),
				"Covering letter": covering,
				"Reports":         strconv.Itoa(len(letter.ReportFiles)),
				"Updated":         letter.UpdatedAt.Format(time.RFC3339),
			})
		}
		if len(letters) < filter.Limit {
			break
		}
		filter.Offset += filter.Limit
	}

	if s.metrics != nil {
		if open, err := s.repo.CountOpen(ctx); err == nil {
			s.metrics.SetOpenLetters(open)
		}
	}

	switch format {
	case ExportPDF:
		body, err := s.pdf.Render(dataset, "Letter register")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render register")
		}
		return body, "application/pdf", nil
	case ExportCSV, "":
		body, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render register")
		}
		return body, "text/csv; charset=utf-8", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func (s *LetterService) mutate(ctx context.Context, actor *models.Identity, id string, action Action, auditAction string, fn func(*models.Letter) (*models.Letter, error)) (*dto.LetterView, error) {
	current, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		s.observe(action, "refused")
		return nil, err
	}
	if err := s.repo.Update(ctx, next); err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			s.observe(action, "conflict")
			return nil, appErrors.Wrap(err, appErrors.ErrServerRejected.Code, appErrors.ErrServerRejected.Status, "letter changed while this request was in flight")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save letter")
	}
	s.observe(action, "applied")
	s.recordTransition(ctx, actor, id, auditAction, current, next)
	s.logger.Info("letter transition applied",
		zap.String("letter_id", id),
		zap.String("action", string(action)),
		zap.String("actor_role", actor.Role.String()),
		zap.String("stage", string(next.Stage())),
		zap.String("request_id", requestid.FromContext(ctx)),
	)
	return s.view(next, actor), nil
}

// load fetches a letter and enforces visibility for actor.
func (s *LetterService) load(ctx context.Context, actor *models.Identity, id string) (*models.Letter, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "identity required")
	}
	letter, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "letter not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load letter")
	}
	if !canSee(actor.Role, letter) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "letter not found")
	}
	return letter, nil
}

// canSee and visibleFilter must agree: a desk sees what it holds and what it
// sent to the head.
func canSee(role models.RoleID, letter *models.Letter) bool {
	if role == models.RoleInwardUser || role == models.RoleAdmin {
		return true
	}
	if letter.Owner() == role {
		return true
	}
	return letter.SentToHeadBy != nil && models.NormalizeRole(string(*letter.SentToHeadBy)) == role
}

func (s *LetterService) visibleFilter(actor *models.Identity, filter models.LetterFilter) models.LetterFilter {
	if actor == nil || actor.Role == models.RoleInwardUser || actor.Role == models.RoleAdmin {
		return filter
	}
	filter.VisibleTo = actor.Role
	return filter
}

// store validates and writes one upload under letters/<id>/<kind>/.
func (s *LetterService) store(ctx context.Context, letterID, kind string, upload Upload) (models.Attachment, error) {
	meta, err := s.engine.Attachments().ValidateUpload(upload)
	if err != nil {
		return models.Attachment{}, err
	}
	if s.objects == nil {
		return models.Attachment{}, appErrors.Clone(appErrors.ErrInternal, "file storage is not configured")
	}
	key := path.Join("letters", letterID, kind, uuid.NewString()+path.Ext(safeFilename(upload.Filename)))
	if _, err := s.objects.Put(ctx, key, upload.Content, upload.Size, meta.MimeType); err != nil {
		return models.Attachment{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}
	meta.StorageKey = key
	return meta, nil
}

func (s *LetterService) discard(ctx context.Context, keys ...string) {
	if s.objects == nil {
		return
	}
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete stored file", zap.String("key", key), zap.Error(err))
		}
	}
}

// view decorates letter with the caller's actions and signed download links.
func (s *LetterService) view(letter *models.Letter, actor *models.Identity) *dto.LetterView {
	out := letter.Clone()
	if out.UploadedFile != nil {
		out.UploadedFile.StorageURL = s.signedURL(out.ID, out.UploadedFile.StorageKey)
	}
	for i := range out.ReportFiles {
		out.ReportFiles[i].StorageURL = s.signedURL(out.ID, out.ReportFiles[i].StorageKey)
	}
	if doc := out.CoveringLetter; doc != nil && len(doc.StorageKeys) > 0 {
		urls := make([]string, 0, len(doc.StorageKeys))
		for _, key := range doc.StorageKeys {
			urls = append(urls, s.signedURL(out.ID, key))
		}
		doc.DocumentURLs = urls
	}

	actions := s.engine.PermittedActions(letter, actor)
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, string(action))
	}
	return &dto.LetterView{
		Letter:           *out,
		Stage:            letter.Stage(),
		Owner:            letter.Owner(),
		PermittedActions: names,
	}
}

func (s *LetterService) signedURL(letterID, key string) string {
	if key == "" || s.signer == nil {
		return ""
	}
	token, _, err := s.signer.Generate(letterID, key)
	if err != nil {
		s.logger.Warn("failed to sign download url", zap.String("key", key), zap.Error(err))
		return ""
	}
	return s.config.FilesPath + token
}

func (s *LetterService) observe(action Action, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(action), outcome)
	}
}

func (s *LetterService) recordTransition(ctx context.Context, actor *models.Identity, letterID, action string, before, after *models.Letter) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Role:       models.RolePtr(actor.Role),
		Action:     action,
		Resource:   letterResource,
		ResourceID: &letterID,
	}
	if actor.SubjectID != "" {
		subject := actor.SubjectID
		entry.UserID = &subject
	}
	if before != nil {
		entry.OldValues = auditSnapshot(before)
	}
	if after != nil {
		entry.NewValues = auditSnapshot(after)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func auditSnapshot(letter *models.Letter) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"status":    letter.Status(),
		"stage":     letter.Stage(),
		"heldBy":    letter.Owner(),
		"signed":    letter.IsSigned(),
		"reports":   len(letter.ReportFiles),
		"closed":    letter.IsClosed(),
		"version":   letter.Version,
		"reference": letter.ReferenceNumber,
	})
	if err != nil {
		return nil
	}
	return payload
}

func safeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	if strings.Trim(cleaned, "._") == "" {
		return "document"
	}
	return cleaned
}
