package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type studentDirectoryStub struct {
	placements map[string]models.StudentPlacement
	err        error
	calls      int
}

func (s *studentDirectoryStub) FindPlacement(ctx context.Context, studentID string) (*models.StudentPlacement, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	placement, ok := s.placements[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &placement, nil
}

func newViewFixture(t *testing.T, cacheEnabled bool) (*TimetableViewService, *memoryTimetableStore, *studentDirectoryStub, *memoryCacheRepo) {
	store := newMemoryTimetableStore()
	students := &studentDirectoryStub{placements: map[string]models.StudentPlacement{
		"S1": {StudentID: "S1", BatchID: "batch-1", SemesterID: "sem-1"},
	}}
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, NewMetricsService(), 0, zap.NewNop(), cacheEnabled)
	return NewTimetableViewService(store, store, students, cache, zap.NewNop(), TimetableViewConfig{}), store, students, cacheRepo
}

func TestTimetableViewTeacherSkipsArchived(t *testing.T) {
	views, store, _, _ := newViewFixture(t, false)
	live := seedTimetable(t, store, "sem-1", models.TimetableStatusActive,
		models.TimetableSlot{DayOfWeek: 2, SlotIndex: 1, SubjectID: "math", TeacherID: "T1"},
		models.TimetableSlot{DayOfWeek: 0, SlotIndex: 0, SubjectID: "bio", TeacherID: "T2"},
	)
	seedTimetable(t, store, "sem-1", models.TimetableStatusArchived,
		models.TimetableSlot{DayOfWeek: 0, SlotIndex: 0, SubjectID: "math", TeacherID: "T1"})

	view, hit, err := views.Teacher(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.RoleTeacher, view.Role)
	require.Len(t, view.Slots, 1)
	assert.Equal(t, live.ID, view.Slots[0].TimetableID)

	empty, _, err := views.Teacher(context.Background(), "T9")
	require.NoError(t, err)
	assert.NotNil(t, empty.Slots)
	assert.Empty(t, empty.Slots)
}

func TestTimetableViewTeacherServedFromCache(t *testing.T) {
	views, store, _, cacheRepo := newViewFixture(t, true)
	seedTimetable(t, store, "sem-1", models.TimetableStatusDraft,
		models.TimetableSlot{DayOfWeek: 1, SlotIndex: 1, SubjectID: "math", TeacherID: "T1"})

	_, hit, err := views.Teacher(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, hit)

	cached, hit, err := views.Teacher(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, cached.Slots, 1)

	views.Invalidate(context.Background())
	assert.Equal(t, []string{viewCachePattern}, cacheRepo.deleted)
	_, hit, err = views.Teacher(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, hit)
}

// interleavedSlotReader runs during once, after the teacher slots were read and before they are returned.
type interleavedSlotReader struct {
	*memoryTimetableStore
	during func()
}

func (r *interleavedSlotReader) ListByTeacher(ctx context.Context, teacherID string, excluded models.TimetableStatus) ([]models.TimetableSlot, error) {
	slots, err := r.memoryTimetableStore.ListByTeacher(ctx, teacherID, excluded)
	if r.during != nil {
		during := r.during
		r.during = nil
		during()
	}
	return slots, err
}

func TestTimetableViewNotServedStaleAfterInvalidation(t *testing.T) {
	store := newMemoryTimetableStore()
	timetable := seedTimetable(t, store, "sem-1", models.TimetableStatusDraft,
		models.TimetableSlot{DayOfWeek: 0, SlotIndex: 0, SubjectID: "math", TeacherID: "T1"})
	reader := &interleavedSlotReader{memoryTimetableStore: store}
	cache := NewCacheService(newMemoryCacheRepo(), NewMetricsService(), 0, zap.NewNop(), true)
	views := NewTimetableViewService(reader, store, nil, cache, zap.NewNop(), TimetableViewConfig{})
	ctx := context.Background()

	reader.during = func() {
		require.NoError(t, store.InsertBatch(ctx, nil, []models.TimetableSlot{
			{TimetableID: timetable.ID, DayOfWeek: 1, SlotIndex: 0, SubjectID: "bio", TeacherID: "T1"},
		}))
		views.Invalidate(ctx)
	}
	stale, hit, err := views.Teacher(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, stale.Slots, 1)

	fresh, hit, err := views.Teacher(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, hit, "a view read before the invalidation must not be served after it")
	assert.Len(t, fresh.Slots, 2)

	cached, hit, err := views.Teacher(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, cached.Slots, 2)
}

func TestTimetableViewStudentPrefersPublished(t *testing.T) {
	views, store, _, _ := newViewFixture(t, false)
	published := seedTimetable(t, store, "sem-1", models.TimetableStatusPublished,
		models.TimetableSlot{DayOfWeek: 0, SlotIndex: 0, SubjectID: "math", TeacherID: "T1"})
	seedTimetable(t, store, "sem-1", models.TimetableStatusActive,
		models.TimetableSlot{DayOfWeek: 1, SlotIndex: 0, SubjectID: "bio", TeacherID: "T2"})
	seedTimetable(t, store, "sem-1", models.TimetableStatusDraft)

	view, _, err := views.Student(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, view.Role)
	require.NotNil(t, view.TimetableID)
	assert.Equal(t, published.ID, *view.TimetableID)
	require.Len(t, view.Slots, 1)
	assert.Equal(t, "math", view.Slots[0].SubjectID)
}

func TestTimetableViewStudentFallsBackToActive(t *testing.T) {
	views, store, _, _ := newViewFixture(t, false)
	older := seedTimetable(t, store, "sem-1", models.TimetableStatusActive)
	newer := seedTimetable(t, store, "sem-1", models.TimetableStatusActive)

	view, _, err := views.Student(context.Background(), "S1")
	require.NoError(t, err)
	require.NotNil(t, view.TimetableID)
	assert.Equal(t, newer.ID, *view.TimetableID)
	assert.NotEqual(t, older.ID, *view.TimetableID)
}

func TestTimetableViewStudentWithoutTimetable(t *testing.T) {
	views, store, _, _ := newViewFixture(t, false)
	seedTimetable(t, store, "sem-1", models.TimetableStatusDraft)

	view, hit, err := views.Student(context.Background(), "S1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, view.TimetableID)
	assert.NotNil(t, view.Slots)
	assert.Empty(t, view.Slots)
}

func TestTimetableViewStudentErrors(t *testing.T) {
	views, _, students, _ := newViewFixture(t, false)

	_, _, err := views.Student(context.Background(), "S404")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	students.err = errors.New("directory offline")
	_, _, err = views.Student(context.Background(), "S1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstreamUnavailable))
	assert.True(t, appErrors.FromError(err).Retryable())

	_, _, err = views.Student(context.Background(), "")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, 2, students.calls)
}

func TestTimetableViewInvalidateNilReceiver(t *testing.T) {
	var views *TimetableViewService
	assert.NotPanics(t, func() { views.Invalidate(context.Background()) })
}
