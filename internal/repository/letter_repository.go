package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/patra-api/internal/models"
)

// ErrStaleVersion is returned by Update when the stored letter moved on since
// it was read.
var ErrStaleVersion = errors.New("letter version is stale")

const letterColumns = `id, reference_number, subject, sender, letter_status, forward_to, sent_to_head_by, covering_letter, uploaded_file, report_files, inward_patra_close, version, created_at, updated_at`

// LetterRepository persists letters in PostgreSQL.
type LetterRepository struct {
	db *sqlx.DB
}

// NewLetterRepository constructs a LetterRepository.
func NewLetterRepository(db *sqlx.DB) *LetterRepository {
	return &LetterRepository{db: db}
}

// Create inserts letter at version 1.
func (r *LetterRepository) Create(ctx context.Context, letter *models.Letter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = now
	}
	letter.UpdatedAt = now
	letter.Version = 1
	if letter.ReportFiles == nil {
		letter.ReportFiles = models.ReportFiles{}
	}

	const query = `INSERT INTO letters (` + letterColumns + `) VALUES (:id, :reference_number, :subject, :sender, :letter_status, :forward_to, :sent_to_head_by, :covering_letter, :uploaded_file, :report_files, :inward_patra_close, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, letter); err != nil {
		return fmt.Errorf("create letter: %w", err)
	}
	return nil
}

// FindByID returns a letter or sql.ErrNoRows.
func (r *LetterRepository) FindByID(ctx context.Context, id string) (*models.Letter, error) {
	query := `SELECT ` + letterColumns + ` FROM letters WHERE id = $1`
	var letter models.Letter
	if err := r.db.GetContext(ctx, &letter, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find letter: %w", err)
	}
	return &letter, nil
}

// List returns letters matching filter, newest first, with the total count.
func (r *LetterRepository) List(ctx context.Context, filter models.LetterFilter) ([]models.Letter, int, error) {
	where, args := letterConditions(filter)
	baseQuery := "FROM letters WHERE " + where

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", letterColumns, baseQuery, limit, offset)
	letters := make([]models.Letter, 0)
	if err := r.db.SelectContext(ctx, &letters, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list letters: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count letters: %w", err)
	}
	return letters, total, nil
}

// Update writes letter if the stored version still equals letter.Version and
// bumps the version. A lost race returns ErrStaleVersion.
func (r *LetterRepository) Update(ctx context.Context, letter *models.Letter) error {
	letter.UpdatedAt = time.Now().UTC()
	const query = `UPDATE letters SET letter_status = :letter_status, forward_to = :forward_to, sent_to_head_by = :sent_to_head_by, covering_letter = :covering_letter, uploaded_file = :uploaded_file, report_files = :report_files, inward_patra_close = :inward_patra_close, version = version + 1, updated_at = :updated_at WHERE id = :id AND version = :version`
	res, err := r.db.NamedExecContext(ctx, query, letter)
	if err != nil {
		return fmt.Errorf("update letter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update letter rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStaleVersion
	}
	letter.Version++
	return nil
}

// CountOpen returns the number of letters whose case is still open.
func (r *LetterRepository) CountOpen(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM letters WHERE inward_patra_close = FALSE`); err != nil {
		return 0, fmt.Errorf("count open letters: %w", err)
	}
	return total, nil
}

// letterConditions renders filter as a WHERE clause. Letters with no
// forward_to are held by the inward desk.
func letterConditions(filter models.LetterFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	var args []interface{}

	if !filter.IncludeClosed {
		conditions = append(conditions, "inward_patra_close = FALSE")
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			args = append(args, string(status.Normalize()))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, "letter_status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.HeldBy) > 0 {
		placeholders := make([]string, 0, len(filter.HeldBy))
		inward := false
		for _, role := range filter.HeldBy {
			role = models.NormalizeRole(string(role))
			if role == models.RoleInwardUser {
				inward = true
			}
			args = append(args, string(role))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		clause := "forward_to IN (" + strings.Join(placeholders, ", ") + ")"
		if inward {
			clause = "(" + clause + " OR forward_to IS NULL)"
		}
		conditions = append(conditions, clause)
	}
	if filter.VisibleTo != "" {
		role := models.NormalizeRole(string(filter.VisibleTo))
		args = append(args, string(role))
		n := len(args)
		clause := fmt.Sprintf("forward_to = $%d OR sent_to_head_by = $%d", n, n)
		if role == models.RoleInwardUser {
			clause += " OR forward_to IS NULL"
		}
		conditions = append(conditions, "("+clause+")")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(reference_number) LIKE $%d OR LOWER(subject) LIKE $%d OR LOWER(sender) LIKE $%d)", n, n, n))
	}
	return strings.Join(conditions, " AND "), args
}
