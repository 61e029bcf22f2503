package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// StudentDirectoryRepository resolves students to their batch and active semester.
type StudentDirectoryRepository struct {
	db *sqlx.DB
}

// NewStudentDirectoryRepository constructs the repository.
func NewStudentDirectoryRepository(db *sqlx.DB) *StudentDirectoryRepository {
	return &StudentDirectoryRepository{db: db}
}

// FindPlacement returns sql.ErrNoRows when the student is unknown or their batch has no active semester.
func (r *StudentDirectoryRepository) FindPlacement(ctx context.Context, studentID string) (*models.StudentPlacement, error) {
	const query = `
SELECT st.id AS student_id, st.batch_id, sem.id AS semester_id
FROM students st
JOIN semesters sem ON sem.batch_id = st.batch_id AND sem.is_active = TRUE
WHERE st.id = $1
ORDER BY sem.id ASC
LIMIT 1`
	var placement models.StudentPlacement
	if err := r.db.GetContext(ctx, &placement, query, studentID); err != nil {
		return nil, err
	}
	return &placement, nil
}
