package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/timetable-engine/internal/models"
)

const timetableColumns = `id, name, semester_id, batch_id, generated_by, status, generation_method, version, metadata, metrics, generated_at, created_at, updated_at`

// TimetableRepository persists versioned timetables.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

// BeginTxx opens a transaction on the underlying database.
func (r *TimetableRepository) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, opts)
}

func (r *TimetableRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CreateVersioned inserts a timetable assigning the next version for its semester/batch pair.
func (r *TimetableRepository) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, timetable *models.Timetable) error {
	if timetable == nil {
		return fmt.Errorf("timetable payload is nil")
	}
	if timetable.Status == "" {
		timetable.Status = models.TimetableStatusDraft
	}
	if len(timetable.Metadata) == 0 {
		timetable.Metadata = types.JSONText(`{}`)
	}
	if len(timetable.Metrics) == 0 {
		timetable.Metrics = types.JSONText(`{}`)
	}
	now := time.Now().UTC()
	if timetable.GeneratedAt.IsZero() {
		timetable.GeneratedAt = now
	}
	if timetable.CreatedAt.IsZero() {
		timetable.CreatedAt = now
	}
	timetable.UpdatedAt = now

	target := r.exec(exec)

	const nextVersionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM timetables WHERE semester_id IS NOT DISTINCT FROM $1 AND batch_id IS NOT DISTINCT FROM $2`
	if err := sqlx.GetContext(ctx, target, &timetable.Version, nextVersionQuery, timetable.SemesterID, timetable.BatchID); err != nil {
		return fmt.Errorf("compute next timetable version: %w", err)
	}

	const insertQuery = `
INSERT INTO timetables (name, semester_id, batch_id, generated_by, status, generation_method, version, metadata, metrics, generated_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`
	if err := sqlx.GetContext(ctx, target, &timetable.ID, insertQuery,
		timetable.Name,
		timetable.SemesterID,
		timetable.BatchID,
		timetable.GeneratedBy,
		timetable.Status,
		timetable.GenerationMethod,
		timetable.Version,
		timetable.Metadata,
		timetable.Metrics,
		timetable.GeneratedAt,
		timetable.CreatedAt,
		timetable.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert timetable: %w", err)
	}
	return nil
}

// List returns timetables matching the filter, newest first.
func (r *TimetableRepository) List(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.SemesterID != "" {
		args = append(args, filter.SemesterID)
		conditions = append(conditions, fmt.Sprintf("semester_id = $%d", len(args)))
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := "SELECT " + timetableColumns + " FROM timetables"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	var timetables []models.Timetable
	if err := r.db.SelectContext(ctx, &timetables, query, args...); err != nil {
		return nil, fmt.Errorf("list timetables: %w", err)
	}
	return timetables, nil
}

// FindByID loads a timetable by its identifier.
func (r *TimetableRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Timetable, error) {
	query := "SELECT " + timetableColumns + " FROM timetables WHERE id = $1"
	var timetable models.Timetable
	if err := sqlx.GetContext(ctx, r.exec(exec), &timetable, query, id); err != nil {
		return nil, err
	}
	return &timetable, nil
}

// LockByID loads a timetable holding a row lock until tx ends, serialising slot edits per timetable.
func (r *TimetableRepository) LockByID(ctx context.Context, tx sqlx.ExtContext, id int64) (*models.Timetable, error) {
	query := "SELECT " + timetableColumns + " FROM timetables WHERE id = $1 FOR UPDATE"
	var timetable models.Timetable
	if err := sqlx.GetContext(ctx, tx, &timetable, query, id); err != nil {
		return nil, err
	}
	return &timetable, nil
}

// UpdateStatus sets the lifecycle status of a timetable.
func (r *TimetableRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.TimetableStatus) error {
	const query = `UPDATE timetables SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update timetable status: %w", err)
	}
	return requireAffected(result, "timetable status")
}

// Touch bumps updated_at after a slot mutation.
func (r *TimetableRepository) Touch(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	const query = `UPDATE timetables SET updated_at = $1 WHERE id = $2`
	if _, err := r.exec(exec).ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch timetable: %w", err)
	}
	return nil
}

// Delete removes a timetable row. Slots go with it through the foreign key cascade.
func (r *TimetableRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	const query = `DELETE FROM timetables WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete timetable: %w", err)
	}
	return requireAffected(result, "timetable delete")
}

func requireAffected(result sql.Result, label string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", label, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
