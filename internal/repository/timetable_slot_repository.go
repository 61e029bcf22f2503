package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/timetable-engine/internal/models"
)

const (
	slotColumns       = `id, timetable_id, semester_id, day_of_week, day_name, slot_index, start_time, end_time, subject_id, teacher_id, section, room, session_label, color, info, created_at, updated_at`
	joinedSlotColumns = `s.id, s.timetable_id, s.semester_id, s.day_of_week, s.day_name, s.slot_index, s.start_time, s.end_time, s.subject_id, s.teacher_id, s.section, s.room, s.session_label, s.color, s.info, s.created_at, s.updated_at`

	uniqueViolationCode = "23505"
)

// TimetableSlotRepository manages slots owned by timetables.
type TimetableSlotRepository struct {
	db *sqlx.DB
}

// NewTimetableSlotRepository builds repository.
func NewTimetableSlotRepository(db *sqlx.DB) *TimetableSlotRepository {
	return &TimetableSlotRepository{db: db}
}

func (r *TimetableSlotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// IsUniqueViolation reports whether err came from a unique index, e.g. two slots in one cell.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}

// InsertBatch inserts slots; callers pass a transaction to keep the batch atomic.
func (r *TimetableSlotRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, slots []models.TimetableSlot) error {
	if len(slots) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO timetable_slots (id, timetable_id, semester_id, day_of_week, day_name, slot_index, start_time, end_time, subject_id, teacher_id, section, room, session_label, color, info, created_at, updated_at)
VALUES (:id, :timetable_id, :semester_id, :day_of_week, :day_name, :slot_index, :start_time, :end_time, :subject_id, :teacher_id, :section, :room, :session_label, :color, :info, :created_at, :updated_at)`

	for i := range slots {
		slot := &slots[i]
		prepareSlot(slot, now)
		if _, err := sqlx.NamedExecContext(ctx, target, query, slot); err != nil {
			return fmt.Errorf("insert timetable slot: %w", err)
		}
	}
	return nil
}

// Create inserts a single slot.
func (r *TimetableSlotRepository) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error {
	if slot == nil {
		return fmt.Errorf("slot payload is nil")
	}
	batch := []models.TimetableSlot{*slot}
	if err := r.InsertBatch(ctx, exec, batch); err != nil {
		return err
	}
	*slot = batch[0]
	return nil
}

// ListByTimetable returns slots ordered by day/slot for a timetable.
func (r *TimetableSlotRepository) ListByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) ([]models.TimetableSlot, error) {
	query := "SELECT " + slotColumns + " FROM timetable_slots WHERE timetable_id = $1 ORDER BY day_of_week ASC, slot_index ASC"
	var slots []models.TimetableSlot
	if err := sqlx.SelectContext(ctx, r.exec(exec), &slots, query, timetableID); err != nil {
		return nil, fmt.Errorf("list timetable slots: %w", err)
	}
	return slots, nil
}

// ListByTimetables eager-loads slots for several timetables at once.
func (r *TimetableSlotRepository) ListByTimetables(ctx context.Context, timetableIDs []int64) ([]models.TimetableSlot, error) {
	if len(timetableIDs) == 0 {
		return nil, nil
	}
	query := "SELECT " + slotColumns + " FROM timetable_slots WHERE timetable_id = ANY($1) ORDER BY timetable_id ASC, day_of_week ASC, slot_index ASC"
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, pq.Array(timetableIDs)); err != nil {
		return nil, fmt.Errorf("list slots for timetables: %w", err)
	}
	return slots, nil
}

// FindByID loads a slot owned by the given timetable.
func (r *TimetableSlotRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, timetableID int64, slotID string) (*models.TimetableSlot, error) {
	query := "SELECT " + slotColumns + " FROM timetable_slots WHERE id = $1 AND timetable_id = $2"
	var slot models.TimetableSlot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, slotID, timetableID); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindByCell loads the slot occupying (dayOfWeek, slotIndex) of a timetable.
func (r *TimetableSlotRepository) FindByCell(ctx context.Context, exec sqlx.ExtContext, timetableID int64, dayOfWeek, slotIndex int) (*models.TimetableSlot, error) {
	query := "SELECT " + slotColumns + " FROM timetable_slots WHERE timetable_id = $1 AND day_of_week = $2 AND slot_index = $3"
	var slot models.TimetableSlot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, timetableID, dayOfWeek, slotIndex); err != nil {
		return nil, err
	}
	return &slot, nil
}

// Update persists every mutable slot column.
func (r *TimetableSlotRepository) Update(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error {
	slot.UpdatedAt = time.Now().UTC()
	if len(slot.Info) == 0 {
		slot.Info = types.JSONText(`{}`)
	}
	const query = `
UPDATE timetable_slots
SET day_of_week = :day_of_week, day_name = :day_name, slot_index = :slot_index, start_time = :start_time, end_time = :end_time,
    subject_id = :subject_id, teacher_id = :teacher_id, section = :section, room = :room, session_label = :session_label,
    color = :color, info = :info, updated_at = :updated_at
WHERE id = :id AND timetable_id = :timetable_id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, slot)
	if err != nil {
		return fmt.Errorf("update timetable slot: %w", err)
	}
	return requireAffected(result, "timetable slot update")
}

// Delete removes a slot owned by the given timetable.
func (r *TimetableSlotRepository) Delete(ctx context.Context, exec sqlx.ExtContext, timetableID int64, slotID string) error {
	const query = `DELETE FROM timetable_slots WHERE id = $1 AND timetable_id = $2`
	result, err := r.exec(exec).ExecContext(ctx, query, slotID, timetableID)
	if err != nil {
		return fmt.Errorf("delete timetable slot: %w", err)
	}
	return requireAffected(result, "timetable slot delete")
}

// DeleteByTimetable removes every slot of a timetable.
func (r *TimetableSlotRepository) DeleteByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) error {
	const query = `DELETE FROM timetable_slots WHERE timetable_id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, timetableID); err != nil {
		return fmt.Errorf("delete slots of timetable: %w", err)
	}
	return nil
}

// ListByTeacher returns a teacher's slots across timetables not in the excluded status.
func (r *TimetableSlotRepository) ListByTeacher(ctx context.Context, teacherID string, excluded models.TimetableStatus) ([]models.TimetableSlot, error) {
	query := "SELECT " + joinedSlotColumns + ` FROM timetable_slots s
JOIN timetables t ON t.id = s.timetable_id
WHERE s.teacher_id = $1 AND t.status <> $2
ORDER BY s.day_of_week ASC, s.slot_index ASC, s.timetable_id ASC`
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, teacherID, excluded); err != nil {
		return nil, fmt.Errorf("list slots by teacher: %w", err)
	}
	return slots, nil
}

// ListTeacherCommitments returns slots the given teachers already hold in other live timetables of a semester.
func (r *TimetableSlotRepository) ListTeacherCommitments(ctx context.Context, semesterID string, teacherIDs []string) ([]models.TimetableSlot, error) {
	if len(teacherIDs) == 0 {
		return nil, nil
	}
	query := "SELECT " + joinedSlotColumns + ` FROM timetable_slots s
JOIN timetables t ON t.id = s.timetable_id
WHERE t.semester_id = $1 AND t.status <> $2 AND s.teacher_id = ANY($3)
ORDER BY s.day_of_week ASC, s.slot_index ASC, s.timetable_id ASC`
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, semesterID, models.TimetableStatusArchived, pq.Array(teacherIDs)); err != nil {
		return nil, fmt.Errorf("list teacher commitments: %w", err)
	}
	return slots, nil
}

func prepareSlot(slot *models.TimetableSlot, now time.Time) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now
	if len(slot.Info) == 0 {
		slot.Info = types.JSONText(`{}`)
	}
}
