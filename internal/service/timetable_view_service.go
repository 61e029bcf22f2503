package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

const (
	viewCachePrefix  = "timetable:view:"
	viewCachePattern = viewCachePrefix + "*"
	// viewGenerationKey sits outside viewCachePattern so pattern deletes never reset it.
	viewGenerationKey = "timetable:view-generation"
)

type viewSlotReader interface {
	ListByTeacher(ctx context.Context, teacherID string, excluded models.TimetableStatus) ([]models.TimetableSlot, error)
	ListByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) ([]models.TimetableSlot, error)
}

type viewTimetableLister interface {
	List(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, error)
}

type studentDirectory interface {
	FindPlacement(ctx context.Context, studentID string) (*models.StudentPlacement, error)
}

// TimetableViewConfig tunes the read projections.
type TimetableViewConfig struct {
	CacheTTL      time.Duration
	LookupTimeout time.Duration
}

// TimetableViewService serves the teacher and student read projections.
type TimetableViewService struct {
	slots      viewSlotReader
	timetables viewTimetableLister
	students   studentDirectory
	cache      *CacheService
	logger     *zap.Logger
	cfg        TimetableViewConfig
}

// NewTimetableViewService constructs the view service. cache may be nil.
func NewTimetableViewService(slots viewSlotReader, timetables viewTimetableLister, students studentDirectory, cache *CacheService, logger *zap.Logger, cfg TimetableViewConfig) *TimetableViewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	return &TimetableViewService{slots: slots, timetables: timetables, students: students, cache: cache, logger: logger, cfg: cfg}
}

// Teacher returns every slot the teacher holds in non-archived timetables. The bool reports a cache hit.
func (s *TimetableViewService) Teacher(ctx context.Context, teacherID string) (*dto.TimetableView, bool, error) {
	if teacherID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	key, cacheable := s.cacheKey(ctx, "teacher", teacherID)
	var cached dto.TimetableView
	if cacheable {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, true, nil
		}
	}

	slots, err := s.slots.ListByTeacher(ctx, teacherID, models.TimetableStatusArchived)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher timetable")
	}
	view := &dto.TimetableView{OwnerID: teacherID, Role: models.RoleTeacher, Slots: nonNilSlots(slots)}
	if cacheable {
		_ = s.cache.Set(ctx, key, view, s.cfg.CacheTTL)
	}
	return view, false, nil
}

// Student resolves the student's batch and active semester and returns the slots of its
// published timetable, falling back to an active one. No matching timetable yields an empty view.
func (s *TimetableViewService) Student(ctx context.Context, studentID string) (*dto.TimetableView, bool, error) {
	if studentID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	key, cacheable := s.cacheKey(ctx, "student", studentID)
	var cached dto.TimetableView
	if cacheable {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return &cached, true, nil
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	placement, err := s.students.FindPlacement(lookupCtx, studentID)
	cancel()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student has no active semester placement")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "student directory unavailable")
	}

	candidates, err := s.timetables.List(ctx, models.TimetableFilter{
		SemesterID: placement.SemesterID,
		BatchID:    placement.BatchID,
		Statuses:   []models.TimetableStatus{models.TimetableStatusPublished, models.TimetableStatusActive},
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student timetable")
	}

	view := &dto.TimetableView{OwnerID: studentID, Role: models.RoleStudent, Slots: []models.TimetableSlot{}}
	if chosen := pickStudentTimetable(candidates); chosen != nil {
		slots, err := s.slots.ListByTimetable(ctx, nil, chosen.ID)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student timetable slots")
		}
		id := chosen.ID
		view.TimetableID = &id
		view.Slots = nonNilSlots(slots)
	}
	if cacheable {
		_ = s.cache.Set(ctx, key, view, s.cfg.CacheTTL)
	}
	return view, false, nil
}

// cacheKey scopes a view key to the current invalidation generation. A view computed before an
// invalidation is written under the old generation, so it cannot be served afterwards.
// The bool is false when the generation cannot be read and the view must skip the cache.
func (s *TimetableViewService) cacheKey(ctx context.Context, kind, ownerID string) (string, bool) {
	generation, err := s.cache.Generation(ctx, viewGenerationKey)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%sg%d:%s:%s", viewCachePrefix, generation, kind, ownerID), true
}

// Invalidate retires every cached view. Safe on a nil receiver.
func (s *TimetableViewService) Invalidate(ctx context.Context) {
	if s == nil {
		return
	}
	if err := s.cache.Bump(ctx, viewGenerationKey); err != nil {
		s.logger.Warn("timetable view generation bump failed", zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, viewCachePattern); err != nil {
		s.logger.Warn("timetable view invalidation failed", zap.Error(err))
	}
}

// pickStudentTimetable expects candidates newest first.
func pickStudentTimetable(candidates []models.Timetable) *models.Timetable {
	for i := range candidates {
		if candidates[i].Status == models.TimetableStatusPublished {
			return &candidates[i]
		}
	}
	for i := range candidates {
		if candidates[i].Status == models.TimetableStatusActive {
			return &candidates[i]
		}
	}
	return nil
}

func nonNilSlots(slots []models.TimetableSlot) []models.TimetableSlot {
	if slots == nil {
		return []models.TimetableSlot{}
	}
	return slots
}
