package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
	"github.com/noah-isme/timetable-engine/pkg/export"
)

// Export formats accepted by TimetableService.Export.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type timetableRepository interface {
	CreateVersioned(ctx context.Context, exec sqlx.ExtContext, timetable *models.Timetable) error
	List(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Timetable, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.TimetableStatus) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type timetableSlotStore interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, slots []models.TimetableSlot) error
	ListByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) ([]models.TimetableSlot, error)
	ListByTimetables(ctx context.Context, timetableIDs []int64) ([]models.TimetableSlot, error)
	DeleteByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type gridRenderer interface {
	RenderGrid(grid export.Grid) ([]byte, error)
}

// ExportFile is a rendered timetable download.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// TimetableService is the persistence boundary for timetables and their slots.
type TimetableService struct {
	timetables timetableRepository
	slots      timetableSlotStore
	tx         txProvider
	views      *TimetableViewService
	csv        gridRenderer
	pdf        gridRenderer
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewTimetableService wires the store. views may be nil when view caching is not used.
func NewTimetableService(
	timetables timetableRepository,
	slots timetableSlotStore,
	tx txProvider,
	views *TimetableViewService,
	validate *validator.Validate,
	logger *zap.Logger,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		timetables: timetables,
		slots:      slots,
		tx:         tx,
		views:      views,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		validator:  validate,
		logger:     logger,
	}
}

// Persist writes a timetable and its slots in one transaction, assigning the next version.
func (s *TimetableService) Persist(ctx context.Context, timetable *models.Timetable, slots []models.TimetableSlot) (err error) {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.timetables.CreateVersioned(ctx, tx, timetable); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to create timetable")
		return err
	}
	for i := range slots {
		slots[i].TimetableID = timetable.ID
		slots[i].SemesterID = timetable.SemesterID
	}
	if err = s.slots.InsertBatch(ctx, tx, slots); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to persist timetable slots")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to commit timetable")
		return err
	}
	s.views.Invalidate(ctx)
	return nil
}

// Create stores an empty draft timetable to be filled through the slot editor.
func (s *TimetableService) Create(ctx context.Context, req dto.CreateTimetableRequest) (*models.Timetable, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable payload")
	}
	grid, err := NormalizeGrid(req.Days, req.Slots)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	metadata, err := json.Marshal(models.TimetableMetadata{
		Grid:    &grid,
		Options: models.GenerationOptions{GenerationMethod: models.GenerationMethodManual},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode timetable metadata")
	}

	timetable := &models.Timetable{
		Name:             optionalString(req.Name),
		SemesterID:       optionalString(req.SemesterID),
		BatchID:          optionalString(req.BatchID),
		GeneratedBy:      req.GeneratedBy,
		Status:           models.TimetableStatusDraft,
		GenerationMethod: models.GenerationMethodManual,
		Metadata:         types.JSONText(metadata),
	}
	if err := s.Persist(ctx, timetable, nil); err != nil {
		return nil, err
	}
	s.logger.Info("timetable created", zap.Int64("timetable_id", timetable.ID), zap.Int("version", timetable.Version))
	return timetable, nil
}

// List returns timetables matching the query, newest first.
func (s *TimetableService) List(ctx context.Context, query dto.TimetableQuery) ([]models.Timetable, error) {
	filter := models.TimetableFilter{
		SemesterID:   strings.TrimSpace(query.SemesterID),
		BatchID:      strings.TrimSpace(query.BatchID),
		IncludeSlots: query.IncludeSlots,
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := models.ParseTimetableStatus(part)
			if !ok {
				return nil, appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("unknown status %q", strings.TrimSpace(part)))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	items, err := s.timetables.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetables")
	}
	if !filter.IncludeSlots || len(items) == 0 {
		return items, nil
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	slots, err := s.slots.ListByTimetables(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slots")
	}
	grouped := make(map[int64][]models.TimetableSlot, len(items))
	for _, slot := range slots {
		grouped[slot.TimetableID] = append(grouped[slot.TimetableID], slot)
	}
	for i := range items {
		items[i].Slots = grouped[items[i].ID]
		if items[i].Slots == nil {
			items[i].Slots = []models.TimetableSlot{}
		}
	}
	return items, nil
}

// Get loads a timetable, optionally with its slots ordered by day and slot.
func (s *TimetableService) Get(ctx context.Context, id int64, includeSlots bool) (*models.Timetable, error) {
	timetable, err := s.timetables.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	if !includeSlots {
		return timetable, nil
	}
	slots, err := s.slots.ListByTimetable(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable slots")
	}
	if slots == nil {
		slots = []models.TimetableSlot{}
	}
	timetable.Slots = slots
	return timetable, nil
}

// UpdateStatus moves a timetable to any of the accepted statuses.
func (s *TimetableService) UpdateStatus(ctx context.Context, id int64, req dto.UpdateTimetableStatusRequest) (*models.Timetable, error) {
	status, ok := models.ParseTimetableStatus(req.Status)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, fmt.Sprintf("status must be one of draft, active, published, completed, archived; got %q", req.Status))
	}
	if err := s.timetables.UpdateStatus(ctx, nil, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to update timetable status")
	}
	s.views.Invalidate(ctx)
	s.logger.Info("timetable status changed", zap.Int64("timetable_id", id), zap.String("status", string(status)))
	return s.Get(ctx, id, false)
}

// Delete removes a timetable together with all of its slots.
func (s *TimetableService) Delete(ctx context.Context, id int64) (err error) {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.slots.DeleteByTimetable(ctx, tx, id); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to delete timetable slots")
		return err
	}
	if err = s.timetables.Delete(ctx, tx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
			return err
		}
		err = appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to delete timetable")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, "failed to commit timetable delete")
		return err
	}
	s.views.Invalidate(ctx)
	s.logger.Info("timetable deleted", zap.Int64("timetable_id", id))
	return nil
}

// Export renders the timetable grid as CSV or PDF.
func (s *TimetableService) Export(ctx context.Context, id int64, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	var (
		renderer    gridRenderer
		contentType string
	)
	switch format {
	case ExportFormatCSV:
		renderer, contentType = s.csv, "text/csv"
	case ExportFormatPDF:
		renderer, contentType = s.pdf, "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	timetable, err := s.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	payload, err := renderer.RenderGrid(buildExportGrid(timetable))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("timetable-%d-v%d.%s", timetable.ID, timetable.Version, format),
		ContentType: contentType,
		Payload:     payload,
	}, nil
}

func buildExportGrid(timetable *models.Timetable) export.Grid {
	grid := ResolveGrid(timetable)
	days := make([]string, len(grid.Days))
	for i, day := range grid.Days {
		days[i] = day.Name
	}
	periods := make([]export.Period, len(grid.Slots))
	for i, slot := range grid.Slots {
		periods[i] = export.Period{Label: slot.Label, StartTime: slot.StartTime, EndTime: slot.EndTime}
	}

	title := fmt.Sprintf("Timetable #%d v%d", timetable.ID, timetable.Version)
	if timetable.Name != nil && *timetable.Name != "" {
		title = *timetable.Name
	}
	out := export.NewGrid(title, days, periods)
	for _, slot := range timetable.Slots {
		subject := slot.SubjectID
		if slot.SessionLabel != nil && *slot.SessionLabel != "" {
			subject = *slot.SessionLabel
		}
		out.Place(slot.SlotIndex, slot.DayOfWeek, export.Cell{
			Subject: subject,
			Teacher: slot.TeacherID,
			Room:    derefString(slot.Room),
			Color:   slot.Color,
		})
	}
	return out
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
