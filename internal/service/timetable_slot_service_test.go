package service

import (
	"context"
	"encoding/json"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type slotServiceFixture struct {
	service   *TimetableSlotService
	store     *memoryTimetableStore
	mock      sqlmock.Sqlmock
	metrics   *MetricsService
	cache     *memoryCacheRepo
	timetable *models.Timetable
}

func newSlotServiceFixture(t *testing.T) slotServiceFixture {
	store := newMemoryTimetableStore()
	tx, mock := newMockTx(t)
	metrics := NewMetricsService()
	cacheRepo := newMemoryCacheRepo()
	views := NewTimetableViewService(store, store, nil, NewCacheService(cacheRepo, metrics, 0, zap.NewNop(), true), zap.NewNop(), TimetableViewConfig{})
	timetable := seedTimetable(t, store, "sem-1", models.TimetableStatusDraft, models.TimetableSlot{
		ID: "slot-a", DayOfWeek: 0, SlotIndex: 2, SubjectID: "math", TeacherID: "T1", Color: "#2563eb",
	})
	return slotServiceFixture{
		service:   NewTimetableSlotService(store, slotRepoAdapter{store}, tx, views, metrics, nil, zap.NewNop()),
		store:     store,
		mock:      mock,
		metrics:   metrics,
		cache:     cacheRepo,
		timetable: timetable,
	}
}

func intRef(value int) *int {
	return &value
}

func newSlotInput(day, slot int, teacherID string) dto.SlotInput {
	return dto.SlotInput{DayOfWeek: intRef(day), SlotIndex: intRef(slot), SubjectID: "math", TeacherID: teacherID}
}

func requireConflict(t *testing.T, err error, rule, existing string) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, appErr.Code)
	conflict, ok := appErr.Details.(*SlotConflict)
	require.True(t, ok, "details should carry the conflict")
	assert.Equal(t, rule, conflict.Rule)
	assert.Equal(t, existing, conflict.ExistingSlotID)
}

func TestTimetableSlotServiceRejectsOccupiedCell(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Create(context.Background(), f.timetable.ID, newSlotInput(0, 2, "T2"))
	requireConflict(t, err, ConflictCellOccupied, "slot-a")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.slotConflicts.WithLabelValues(ConflictCellOccupied)))

	slots, _ := f.store.ListByTimetable(context.Background(), nil, f.timetable.ID)
	assert.Len(t, slots, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceCreatesFreeCell(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	input := newSlotInput(1, 3, " T1 ")
	input.Room = stringRef("Lab 2")
	input.Info = json.RawMessage(`{"note":"double period"}`)
	slot, err := f.service.Create(context.Background(), f.timetable.ID, input)
	require.NoError(t, err)

	assert.NotEmpty(t, slot.ID)
	assert.Equal(t, "T1", slot.TeacherID)
	assert.Equal(t, "Tuesday", slot.DayName)
	period := DefaultSlots()[3]
	assert.Equal(t, period.StartTime, slot.StartTime)
	assert.Equal(t, period.EndTime, slot.EndTime)
	assert.Equal(t, "#2563eb", slot.Color)
	assert.Equal(t, "sem-1", *slot.SemesterID)
	assert.JSONEq(t, `{"note":"double period"}`, string(slot.Info))

	slots, _ := f.store.ListByTimetable(context.Background(), nil, f.timetable.ID)
	assert.Len(t, slots, 2)
	assert.Equal(t, []string{viewCachePattern}, f.cache.deleted)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceAllowsTeacherInAnotherCell(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	slot, err := f.service.Create(context.Background(), f.timetable.ID, newSlotInput(1, 2, "T1"))
	require.NoError(t, err)
	assert.Equal(t, 1, slot.DayOfWeek)
	assert.Equal(t, 2, slot.SlotIndex)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceRejectsCellOutsideGrid(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Create(context.Background(), f.timetable.ID, newSlotInput(5, 0, "T1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidGridReference.Code, appErrors.FromError(err).Code)

	_, err = f.service.Create(context.Background(), f.timetable.ID, newSlotInput(0, 7, "T1"))
	require.Error(t, err)
	assert.Equal(t, map[string]int{"slotIndex": 7}, appErrors.FromError(err).Details)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceValidatesInput(t *testing.T) {
	f := newSlotServiceFixture(t)

	_, err := f.service.Create(context.Background(), f.timetable.ID, dto.SlotInput{SlotIndex: intRef(0), SubjectID: "math", TeacherID: "T1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	input := newSlotInput(1, 0, "T1")
	input.Color = "blue"
	_, err = f.service.Create(context.Background(), f.timetable.ID, input)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceRejectsNonObjectInfo(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	input := newSlotInput(1, 0, "T1")
	input.Info = json.RawMessage(`[1, 2]`)
	_, err := f.service.Create(context.Background(), f.timetable.ID, input)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceUnknownTimetable(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Create(context.Background(), 999, newSlotInput(1, 0, "T1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceMapsUniqueViolation(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.store.slotErr = &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	f.store.racer = &models.TimetableSlot{
		ID: "slot-winner", TimetableID: f.timetable.ID, DayOfWeek: 3, SlotIndex: 3, SubjectID: "bio", TeacherID: "T9",
	}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Create(context.Background(), f.timetable.ID, newSlotInput(3, 3, "T3"))
	requireConflict(t, err, ConflictCellOccupied, "slot-winner")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceUniqueViolationWithoutReadableOccupant(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.store.slotErr = &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Create(context.Background(), f.timetable.ID, newSlotInput(3, 3, "T3"))
	requireConflict(t, err, ConflictCellOccupied, "")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceRejectsBlankIdentifiers(t *testing.T) {
	f := newSlotServiceFixture(t)

	_, err := f.service.Create(context.Background(), f.timetable.ID, newSlotInput(3, 4, "   "))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, err.Error(), "teacherId")

	input := newSlotInput(3, 4, "T3")
	input.SubjectID = "\t "
	_, err = f.service.Create(context.Background(), f.timetable.ID, input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subjectId")

	_, err = f.service.Update(context.Background(), f.timetable.ID, "slot-a", dto.SlotPatch{TeacherID: stringRef("   ")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.service.Update(context.Background(), f.timetable.ID, "slot-a", dto.SlotPatch{SubjectID: stringRef(" ")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	stored, ok := f.store.FindByIDSlot(f.timetable.ID, "slot-a")
	require.True(t, ok)
	assert.Equal(t, "T1", stored.TeacherID)
	assert.Equal(t, "math", stored.SubjectID)
	slots, _ := f.store.ListByTimetable(context.Background(), nil, f.timetable.ID)
	assert.Len(t, slots, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceTrimsPatchedTeacher(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	raw := "  T4 "
	updated, err := f.service.Update(context.Background(), f.timetable.ID, "slot-a", dto.SlotPatch{TeacherID: &raw})
	require.NoError(t, err)
	assert.Equal(t, "T4", updated.TeacherID)
	assert.Equal(t, "  T4 ", raw)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceUpdateMoves(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.service.Create(context.Background(), f.timetable.ID, dto.SlotInput{
		DayOfWeek: intRef(1), SlotIndex: intRef(0), SubjectID: "bio", TeacherID: "T2",
	})
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	moved, err := f.service.Update(context.Background(), f.timetable.ID, "slot-a", dto.SlotPatch{
		DayOfWeek: intRef(4), SlotIndex: intRef(6), Room: stringRef("  "), SessionLabel: stringRef("Algebra"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Friday", moved.DayName)
	assert.Equal(t, DefaultSlots()[6].EndTime, moved.EndTime)
	assert.Nil(t, moved.Room)
	assert.Equal(t, "Algebra", *moved.SessionLabel)
	assert.Equal(t, "#2563eb", moved.Color)

	stored, ok := f.store.FindByIDSlot(f.timetable.ID, "slot-a")
	require.True(t, ok)
	assert.Equal(t, 4, stored.DayOfWeek)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceUpdateRejectsOccupiedCell(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	other, err := f.service.Create(context.Background(), f.timetable.ID, newSlotInput(1, 0, "T2"))
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.service.Update(context.Background(), f.timetable.ID, other.ID, dto.SlotPatch{DayOfWeek: intRef(0), SlotIndex: intRef(2)})
	requireConflict(t, err, ConflictCellOccupied, "slot-a")

	stored, _ := f.store.FindByIDSlot(f.timetable.ID, other.ID)
	assert.Equal(t, 1, stored.DayOfWeek)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceUpdateRecolorsOnSubjectChange(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	updated, err := f.service.Update(context.Background(), f.timetable.ID, "slot-a", dto.SlotPatch{SubjectID: stringRef("chem")})
	require.NoError(t, err)
	assert.Equal(t, "chem", updated.SubjectID)
	assert.Equal(t, subjectPalette[0], updated.Color)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceUpdateMissingSlot(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.Update(context.Background(), f.timetable.ID, "missing", dto.SlotPatch{Room: stringRef("R1")})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestTimetableSlotServiceDelete(t *testing.T) {
	f := newSlotServiceFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	require.NoError(t, f.service.Delete(context.Background(), f.timetable.ID, "slot-a"))
	slots, _ := f.store.ListByTimetable(context.Background(), nil, f.timetable.ID)
	assert.Empty(t, slots)

	err := f.service.Delete(context.Background(), f.timetable.ID, "slot-a")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
