package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterRepositoryListRosterGroupsTeachers(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	rows := sqlmock.NewRows([]string{"subject_id", "subject_name", "sessions_per_week", "teacher_id"}).
		AddRow("bio", "Biology", 2, "t-2").
		AddRow("bio", "Biology", 2, "t-3").
		AddRow("bio", "Biology", 2, "t-3").
		AddRow("art", "Art", 1, nil).
		AddRow("math", "Mathematics", 4, "t-1")
	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects s")).
		WithArgs("batch-1", "sem-1").
		WillReturnRows(rows)

	entries, err := repo.ListRoster(context.Background(), "batch-1", "sem-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"t-2", "t-3"}, entries[0].TeacherIDs)
	assert.Equal(t, "art", entries[1].SubjectID)
	assert.Empty(t, entries[1].TeacherIDs)
	assert.Equal(t, 4, entries[2].SessionsPerWeek)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryFindSemester(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, batch_id, name, is_active FROM semesters WHERE id = $1")).
		WithArgs("sem-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_id", "name", "is_active"}).AddRow("sem-1", "batch-1", "Odd", true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM semesters WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	semester, err := repo.FindSemester(context.Background(), "sem-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", semester.BatchID)

	_, err = repo.FindSemester(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
