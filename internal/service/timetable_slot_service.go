package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/repository"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type timetableLocker interface {
	LockByID(ctx context.Context, tx sqlx.ExtContext, id int64) (*models.Timetable, error)
	Touch(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type slotEditorRepository interface {
	ListByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) ([]models.TimetableSlot, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, timetableID int64, slotID string) (*models.TimetableSlot, error)
	FindByCell(ctx context.Context, exec sqlx.ExtContext, timetableID int64, dayOfWeek, slotIndex int) (*models.TimetableSlot, error)
	Create(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error
	Update(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error
	Delete(ctx context.Context, exec sqlx.ExtContext, timetableID int64, slotID string) error
}

// TimetableSlotService edits single slots of a persisted timetable.
// Every mutation locks the timetable row so concurrent edits of one timetable run one at a time.
type TimetableSlotService struct {
	timetables timetableLocker
	slots      slotEditorRepository
	tx         txProvider
	views      *TimetableViewService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewTimetableSlotService constructs the slot editor.
func NewTimetableSlotService(
	timetables timetableLocker,
	slots slotEditorRepository,
	tx txProvider,
	views *TimetableViewService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *TimetableSlotService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableSlotService{
		timetables: timetables,
		slots:      slots,
		tx:         tx,
		views:      views,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

// Create validates the grid reference and conflicts, then inserts the slot.
func (s *TimetableSlotService) Create(ctx context.Context, timetableID int64, input dto.SlotInput) (slot *models.TimetableSlot, err error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	if err := requireIdentifier("subjectId", &input.SubjectID); err != nil {
		return nil, err
	}
	if err := requireIdentifier("teacherId", &input.TeacherID); err != nil {
		return nil, err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	timetable, err := s.lock(ctx, tx, timetableID)
	if err != nil {
		return nil, err
	}
	day, period, err := resolveCell(timetable, *input.DayOfWeek, *input.SlotIndex)
	if err != nil {
		return nil, err
	}
	existing, err := s.slots.ListByTimetable(ctx, tx, timetableID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slots")
		return nil, err
	}

	slotID := uuid.NewString()
	index := BuildConflictIndex(existing, "")
	if conflict := index.Claim(day.Index, period.SlotIndex, input.TeacherID, slotID); conflict != nil {
		err = s.rejectConflict(timetableID, conflict)
		return nil, err
	}

	info, err := slotInfo(input.Info)
	if err != nil {
		return nil, err
	}
	color := input.Color
	if color == "" {
		color = NewColorAssigner(existing).ColorFor(input.SubjectID)
	}

	slot = &models.TimetableSlot{
		ID:           slotID,
		TimetableID:  timetableID,
		SemesterID:   timetable.SemesterID,
		DayOfWeek:    day.Index,
		DayName:      day.Name,
		SlotIndex:    period.SlotIndex,
		StartTime:    period.StartTime,
		EndTime:      period.EndTime,
		SubjectID:    input.SubjectID,
		TeacherID:    input.TeacherID,
		Section:      input.Section,
		Room:         input.Room,
		SessionLabel: input.SessionLabel,
		Color:        color,
		Info:         info,
	}
	if err = s.slots.Create(ctx, tx, slot); err != nil {
		err = s.storageError(ctx, tx, err, timetableID, slot, "failed to create slot")
		return nil, err
	}
	if err = s.commit(ctx, tx, timetableID); err != nil {
		return nil, err
	}
	s.logger.Info("timetable slot created", zap.Int64("timetable_id", timetableID), zap.String("slot_id", slot.ID))
	return slot, nil
}

// Update merges patch into the slot. Moves and teacher changes are re-checked against the
// other slots of the timetable.
func (s *TimetableSlotService) Update(ctx context.Context, timetableID int64, slotID string, patch dto.SlotPatch) (slot *models.TimetableSlot, err error) {
	if err := s.validator.Struct(patch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	if patch.SubjectID != nil {
		value := *patch.SubjectID
		if err := requireIdentifier("subjectId", &value); err != nil {
			return nil, err
		}
		patch.SubjectID = &value
	}
	if patch.TeacherID != nil {
		value := *patch.TeacherID
		if err := requireIdentifier("teacherId", &value); err != nil {
			return nil, err
		}
		patch.TeacherID = &value
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	timetable, err := s.lock(ctx, tx, timetableID)
	if err != nil {
		return nil, err
	}
	slot, err = s.slots.FindByID(ctx, tx, timetableID, slotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "timetable slot not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slot")
		return nil, err
	}

	moved := (patch.DayOfWeek != nil && *patch.DayOfWeek != slot.DayOfWeek) ||
		(patch.SlotIndex != nil && *patch.SlotIndex != slot.SlotIndex)
	reassigned := patch.TeacherID != nil && *patch.TeacherID != slot.TeacherID
	subjectChanged := patch.SubjectID != nil && *patch.SubjectID != slot.SubjectID

	if moved {
		dayOfWeek, slotIndex := slot.DayOfWeek, slot.SlotIndex
		if patch.DayOfWeek != nil {
			dayOfWeek = *patch.DayOfWeek
		}
		if patch.SlotIndex != nil {
			slotIndex = *patch.SlotIndex
		}
		day, period, resolveErr := resolveCell(timetable, dayOfWeek, slotIndex)
		if resolveErr != nil {
			err = resolveErr
			return nil, err
		}
		slot.DayOfWeek, slot.DayName = day.Index, day.Name
		slot.SlotIndex, slot.StartTime, slot.EndTime = period.SlotIndex, period.StartTime, period.EndTime
	}
	if reassigned {
		slot.TeacherID = *patch.TeacherID
	}
	if subjectChanged {
		slot.SubjectID = *patch.SubjectID
	}

	var others []models.TimetableSlot
	if moved || reassigned || (subjectChanged && patch.Color == nil) {
		all, listErr := s.slots.ListByTimetable(ctx, tx, timetableID)
		if listErr != nil {
			err = appErrors.Wrap(listErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slots")
			return nil, err
		}
		for _, other := range all {
			if other.ID != slotID {
				others = append(others, other)
			}
		}
	}
	if moved || reassigned {
		index := BuildConflictIndex(others, "")
		if conflict := index.Claim(slot.DayOfWeek, slot.SlotIndex, slot.TeacherID, slot.ID); conflict != nil {
			err = s.rejectConflict(timetableID, conflict)
			return nil, err
		}
	}

	switch {
	case patch.Color != nil:
		slot.Color = *patch.Color
	case subjectChanged:
		slot.Color = NewColorAssigner(others).ColorFor(slot.SubjectID)
	}
	if patch.Section != nil {
		slot.Section = emptyToNil(*patch.Section)
	}
	if patch.Room != nil {
		slot.Room = emptyToNil(*patch.Room)
	}
	if patch.SessionLabel != nil {
		slot.SessionLabel = emptyToNil(*patch.SessionLabel)
	}
	if len(patch.Info) > 0 {
		info, infoErr := slotInfo(patch.Info)
		if infoErr != nil {
			err = infoErr
			return nil, err
		}
		slot.Info = info
	}

	if err = s.slots.Update(ctx, tx, slot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "timetable slot not found")
			return nil, err
		}
		err = s.storageError(ctx, tx, err, timetableID, slot, "failed to update slot")
		return nil, err
	}
	if err = s.commit(ctx, tx, timetableID); err != nil {
		return nil, err
	}
	s.logger.Info("timetable slot updated", zap.Int64("timetable_id", timetableID), zap.String("slot_id", slot.ID))
	return slot, nil
}

// Delete removes a slot owned by the timetable.
func (s *TimetableSlotService) Delete(ctx context.Context, timetableID int64, slotID string) (err error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.lock(ctx, tx, timetableID); err != nil {
		return err
	}
	if err = s.slots.Delete(ctx, tx, timetableID, slotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "timetable slot not found")
			return err
		}
		err = appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to delete slot")
		return err
	}
	if err = s.commit(ctx, tx, timetableID); err != nil {
		return err
	}
	s.logger.Info("timetable slot deleted", zap.Int64("timetable_id", timetableID), zap.String("slot_id", slotID))
	return nil
}

func (s *TimetableSlotService) begin(ctx context.Context) (*sqlx.Tx, error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to begin transaction")
	}
	return tx, nil
}

func (s *TimetableSlotService) lock(ctx context.Context, tx *sqlx.Tx, timetableID int64) (*models.Timetable, error) {
	timetable, err := s.timetables.LockByID(ctx, tx, timetableID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	return timetable, nil
}

func (s *TimetableSlotService) commit(ctx context.Context, tx *sqlx.Tx, timetableID int64) error {
	if err := s.timetables.Touch(ctx, tx, timetableID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to touch timetable")
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to commit slot change")
	}
	s.views.Invalidate(ctx)
	return nil
}

func (s *TimetableSlotService) rejectConflict(timetableID int64, conflict *SlotConflict) error {
	s.metrics.RecordSlotConflict(conflict.Rule)
	s.logger.Info("timetable slot conflict",
		zap.Int64("timetable_id", timetableID),
		zap.String("rule", conflict.Rule),
		zap.String("existing_slot_id", conflict.ExistingSlotID),
	)
	return conflictError(conflict)
}

// storageError maps the cell unique index to SLOT_CONFLICT; it fires when a concurrent writer won the cell.
// The aborted transaction is rolled back first so the winning slot can be read back and named.
func (s *TimetableSlotService) storageError(ctx context.Context, tx *sqlx.Tx, err error, timetableID int64, slot *models.TimetableSlot, message string) error {
	if !repository.IsUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, message)
	}
	_ = tx.Rollback()
	return s.rejectConflict(timetableID, &SlotConflict{
		Rule:           ConflictCellOccupied,
		ExistingSlotID: s.occupant(ctx, timetableID, slot.DayOfWeek, slot.SlotIndex),
		DayOfWeek:      slot.DayOfWeek,
		SlotIndex:      slot.SlotIndex,
		TeacherID:      slot.TeacherID,
	})
}

// occupant returns the id of the committed slot at the cell, or "" when it cannot be read.
func (s *TimetableSlotService) occupant(ctx context.Context, timetableID int64, dayOfWeek, slotIndex int) string {
	readTx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Warn("timetable slot occupant lookup failed", zap.Int64("timetable_id", timetableID), zap.Error(err))
		return ""
	}
	defer readTx.Rollback() //nolint:errcheck

	existing, err := s.slots.FindByCell(ctx, readTx, timetableID, dayOfWeek, slotIndex)
	if err != nil {
		s.logger.Warn("timetable slot occupant lookup failed", zap.Int64("timetable_id", timetableID), zap.Error(err))
		return ""
	}
	return existing.ID
}

func resolveCell(timetable *models.Timetable, dayOfWeek, slotIndex int) (models.DayDef, models.SlotDef, error) {
	day, ok := ResolveDay(timetable, dayOfWeek)
	if !ok {
		return models.DayDef{}, models.SlotDef{}, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidGridReference, fmt.Sprintf("dayOfWeek %d is not part of the timetable grid", dayOfWeek)),
			map[string]int{"dayOfWeek": dayOfWeek},
		)
	}
	period, ok := ResolveSlot(timetable, slotIndex)
	if !ok {
		return models.DayDef{}, models.SlotDef{}, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidGridReference, fmt.Sprintf("slotIndex %d is not part of the timetable grid", slotIndex)),
			map[string]int{"slotIndex": slotIndex},
		)
	}
	return day, period, nil
}

func slotInfo(raw []byte) (types.JSONText, error) {
	if isAbsent(raw) {
		return types.JSONText(`{}`), nil
	}
	info := types.JSONText(raw)
	var probe map[string]interface{}
	if err := info.Unmarshal(&probe); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "info must be a JSON object")
	}
	return info, nil
}

// requireIdentifier trims value in place and rejects it when nothing is left.
func requireIdentifier(field string, value *string) error {
	*value = strings.TrimSpace(*value)
	if *value == "" {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrValidation, field+" must not be blank"),
			map[string]string{"field": field},
		)
	}
	return nil
}

func emptyToNil(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
