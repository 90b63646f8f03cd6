package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/patra-api/internal/models"
)

var letterRowColumns = []string{"id", "reference_number", "subject", "sender", "letter_status", "forward_to", "sent_to_head_by", "covering_letter", "uploaded_file", "report_files", "inward_patra_close", "version", "created_at", "updated_at"}

func TestLetterRepositoryFindByIDDecodesJSONColumns(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLetterRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(letterRowColumns).AddRow(
		"l-1", "IN/2024/1", "Theft report", "PS Panchavati", "sent_to_head", "head", "sp",
		[]byte(`{"id":"cl-1","referenceNumber":"CL/1","documentUrls":["/files/cl"],"isSigned":false}`),
		nil,
		[]byte(`[{"originalName":"r1.pdf","size":10,"mimeType":"application/pdf"}]`),
		false, 3, now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM letters WHERE id = $1")).WithArgs("l-1").WillReturnRows(rows)

	letter, err := repo.FindByID(context.Background(), "l-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleHead, letter.Owner())
	require.NotNil(t, letter.CoveringLetter)
	assert.Equal(t, "cl-1", letter.CoveringLetter.ID)
	assert.Nil(t, letter.UploadedFile)
	require.Len(t, letter.ReportFiles, 1)
	assert.Equal(t, "r1.pdf", letter.ReportFiles[0].OriginalName)
	assert.Equal(t, 3, letter.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLetterRepositoryListBuildsFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLetterRepository(db)

	where := "FROM letters WHERE 1=1 AND inward_patra_close = FALSE AND letter_status IN ($1) AND (forward_to IN ($2) OR forward_to IS NULL) AND (LOWER(reference_number) LIKE $3 OR LOWER(subject) LIKE $3 OR LOWER(sender) LIKE $3)"
	mock.ExpectQuery(regexp.QuoteMeta(where + " ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("pending", "inward_user", "%theft%").
		WillReturnRows(sqlmock.NewRows(letterRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) " + where)).
		WithArgs("pending", "inward_user", "%theft%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	letters, total, err := repo.List(context.Background(), models.LetterFilter{
		Status: []models.LetterStatus{"Forwarded"},
		HeldBy: []models.RoleID{"Inward"},
		Search: " Theft ",
	})
	require.NoError(t, err)
	assert.Empty(t, letters)
	assert.NotNil(t, letters)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLetterRepositoryListRestrictsToVisibleLetters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLetterRepository(db)

	where := "FROM letters WHERE 1=1 AND inward_patra_close = FALSE AND (forward_to = $1 OR sent_to_head_by = $1)"
	mock.ExpectQuery(regexp.QuoteMeta(where + " ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("sp").
		WillReturnRows(sqlmock.NewRows(letterRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) " + where)).
		WithArgs("sp").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.LetterFilter{VisibleTo: "Superintendent"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLetterRepositoryUpdateChecksVersion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLetterRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND version = ?")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND version = ?")).WillReturnResult(sqlmock.NewResult(0, 0))

	letter := &models.Letter{ID: "l-1", LetterStatus: models.StatusPending, ForwardTo: models.RolePtr(models.RoleSP), Version: 1}
	require.NoError(t, repo.Update(context.Background(), letter))
	assert.Equal(t, 2, letter.Version)

	stale := &models.Letter{ID: "l-1", LetterStatus: models.StatusApproved, Version: 1}
	err := repo.Update(context.Background(), stale)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.Equal(t, 1, stale.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLetterRepositoryCreateStartsAtVersionOne(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLetterRepository(db)

	mock.ExpectExec("INSERT INTO letters").WillReturnResult(sqlmock.NewResult(1, 1))

	letter := &models.Letter{ReferenceNumber: "IN/2024/9", LetterStatus: models.StatusPending, Version: 7}
	require.NoError(t, repo.Create(context.Background(), letter))
	assert.NotEmpty(t, letter.ID)
	assert.Equal(t, 1, letter.Version)
	assert.NotNil(t, letter.ReportFiles)
	assert.NoError(t, mock.ExpectationsWereMet())
}
