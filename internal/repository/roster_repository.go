package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// RosterRepository reads the subject catalog and teacher assignments owned by the academic services.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// FindSemester loads a semester by id.
func (r *RosterRepository) FindSemester(ctx context.Context, semesterID string) (*models.Semester, error) {
	const query = `SELECT id, batch_id, name, is_active FROM semesters WHERE id = $1`
	var semester models.Semester
	if err := r.db.GetContext(ctx, &semester, query, semesterID); err != nil {
		return nil, err
	}
	return &semester, nil
}

type rosterRow struct {
	SubjectID       string         `db:"subject_id"`
	SubjectName     string         `db:"subject_name"`
	SessionsPerWeek int            `db:"sessions_per_week"`
	TeacherID       sql.NullString `db:"teacher_id"`
}

// ListRoster returns the subjects of a batch/semester with their assigned teachers.
// Entries come back ordered by subject id; teacher ids are ordered and de-duplicated.
func (r *RosterRepository) ListRoster(ctx context.Context, batchID, semesterID string) ([]models.RosterEntry, error) {
	const query = `
SELECT s.id AS subject_id, s.name AS subject_name, s.sessions_per_week, ta.teacher_id
FROM subjects s
LEFT JOIN teacher_assignments ta ON ta.subject_id = s.id AND ta.semester_id = s.semester_id
WHERE s.batch_id = $1 AND s.semester_id = $2
ORDER BY s.id ASC, ta.teacher_id ASC`

	var rows []rosterRow
	if err := r.db.SelectContext(ctx, &rows, query, batchID, semesterID); err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}

	entries := make([]models.RosterEntry, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		pos, ok := index[row.SubjectID]
		if !ok {
			entries = append(entries, models.RosterEntry{
				SubjectID:       row.SubjectID,
				SubjectName:     row.SubjectName,
				SessionsPerWeek: row.SessionsPerWeek,
				TeacherIDs:      []string{},
			})
			pos = len(entries) - 1
			index[row.SubjectID] = pos
		}
		if !row.TeacherID.Valid || row.TeacherID.String == "" {
			continue
		}
		teachers := entries[pos].TeacherIDs
		if n := len(teachers); n > 0 && teachers[n-1] == row.TeacherID.String {
			continue
		}
		entries[pos].TeacherIDs = append(teachers, row.TeacherID.String)
	}
	return entries, nil
}
