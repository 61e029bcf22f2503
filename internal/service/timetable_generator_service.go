package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

const (
	generationModeDryRun = "dry-run"
	generationModeApply  = "apply"

	unresolvedNoTeacher = "no teacher assigned"
)

type rosterProvider interface {
	FindSemester(ctx context.Context, semesterID string) (*models.Semester, error)
	ListRoster(ctx context.Context, batchID, semesterID string) ([]models.RosterEntry, error)
}

type teacherCommitmentReader interface {
	ListTeacherCommitments(ctx context.Context, semesterID string, teacherIDs []string) ([]models.TimetableSlot, error)
}

type timetablePersister interface {
	Persist(ctx context.Context, timetable *models.Timetable, slots []models.TimetableSlot) error
}

// TimetableGeneratorConfig governs generator defaults.
type TimetableGeneratorConfig struct {
	RosterTimeout     time.Duration
	MaxSessionsPerDay int
	DefaultMethod     string
}

// TimetableGeneratorParams groups constructor dependencies.
type TimetableGeneratorParams struct {
	Roster      rosterProvider
	Commitments teacherCommitmentReader
	Store       timetablePersister
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Config      TimetableGeneratorConfig
}

// TimetableGeneratorService places roster sessions onto a timetable grid.
type TimetableGeneratorService struct {
	roster      rosterProvider
	commitments teacherCommitmentReader
	store       timetablePersister
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         TimetableGeneratorConfig
	now         func() time.Time
}

// NewTimetableGeneratorService constructs the generator with defaults applied.
func NewTimetableGeneratorService(params TimetableGeneratorParams) *TimetableGeneratorService {
	cfg := params.Config
	if cfg.RosterTimeout <= 0 {
		cfg.RosterTimeout = 5 * time.Second
	}
	if cfg.MaxSessionsPerDay <= 0 {
		cfg.MaxSessionsPerDay = 1
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = models.GenerationMethodGreedy
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableGeneratorService{
		roster:      params.Roster,
		commitments: params.Commitments,
		store:       params.Store,
		metrics:     params.Metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Generate runs one deterministic placement for a batch/semester and persists it unless DryRun is set.
// Sessions that do not fit are reported in the metrics, never as an error.
func (s *TimetableGeneratorService) Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	start := time.Now()
	mode := generationModeApply
	if req.DryRun {
		mode = generationModeDryRun
	}

	resp, err := s.generate(ctx, req)

	outcome, unplaced := "ok", 0
	if err != nil {
		outcome = "error"
	} else {
		unplaced = resp.Metrics.Unplaced
	}
	s.metrics.ObserveGeneration(mode, outcome, time.Since(start), unplaced)
	return resp, err
}

func (s *TimetableGeneratorService) generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	req.SemesterID = strings.TrimSpace(req.SemesterID)
	req.BatchID = strings.TrimSpace(req.BatchID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "semesterId, batchId and generatedBy are required")
	}
	grid, err := NormalizeGrid(req.Options.Days, req.Options.Slots)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	options := s.resolveOptions(req.Options)

	roster, commitments, err := s.loadRoster(ctx, req.SemesterID, req.BatchID, options.RespectTeacherCommitments)
	if err != nil {
		return nil, err
	}

	plan := planTimetable(grid, roster, commitments, options.MaxSessionsPerDayPerSubject)
	for i := range plan.Slots {
		plan.Slots[i].SemesterID = &req.SemesterID
	}

	metadata, err := json.Marshal(models.TimetableMetadata{Grid: &grid, Options: options})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode timetable metadata")
	}
	metrics, err := json.Marshal(plan.Metrics)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode generation metrics")
	}

	semesterID, batchID := req.SemesterID, req.BatchID
	timetable := &models.Timetable{
		Name:             optionalString(req.Name),
		SemesterID:       &semesterID,
		BatchID:          &batchID,
		GeneratedBy:      req.GeneratedBy,
		Status:           models.TimetableStatusDraft,
		GenerationMethod: options.GenerationMethod,
		Metadata:         types.JSONText(metadata),
		Metrics:          types.JSONText(metrics),
		GeneratedAt:      s.now().UTC(),
	}

	fields := []zap.Field{
		zap.String("semester_id", req.SemesterID),
		zap.String("batch_id", req.BatchID),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("required", plan.Metrics.RequiredSessions),
		zap.Int("placed", plan.Metrics.Placed),
		zap.Int("unplaced", plan.Metrics.Unplaced),
		zap.Int("unresolved", len(plan.Metrics.UnresolvedSubjects)),
	}

	if !req.DryRun {
		if s.store == nil {
			return nil, appErrors.Clone(appErrors.ErrInternal, "timetable store missing")
		}
		if err := s.store.Persist(ctx, timetable, plan.Slots); err != nil {
			s.logger.Error("timetable generation not persisted", append(fields, zap.Error(err))...)
			return nil, err
		}
		fields = append(fields, zap.Int64("timetable_id", timetable.ID), zap.Int("version", timetable.Version))
	}
	s.logger.Info("timetable generated", fields...)

	timetable.Slots = plan.Slots
	return &dto.GenerateTimetableResponse{
		DryRun:    req.DryRun,
		Timetable: timetable,
		Slots:     plan.Slots,
		Metrics:   plan.Metrics,
	}, nil
}

func (s *TimetableGeneratorService) resolveOptions(req dto.GenerationOptionsRequest) models.GenerationOptions {
	options := models.GenerationOptions{
		MaxSessionsPerDayPerSubject: req.MaxSessionsPerDayPerSubject,
		RespectTeacherCommitments:   req.RespectTeacherCommitments,
		GenerationMethod:            strings.TrimSpace(req.GenerationMethod),
	}
	if options.MaxSessionsPerDayPerSubject <= 0 {
		options.MaxSessionsPerDayPerSubject = s.cfg.MaxSessionsPerDay
	}
	if options.GenerationMethod == "" {
		options.GenerationMethod = s.cfg.DefaultMethod
	}
	return options
}

// loadRoster bounds every collaborator call by the roster timeout.
func (s *TimetableGeneratorService) loadRoster(ctx context.Context, semesterID, batchID string, withCommitments bool) ([]models.RosterEntry, []models.TimetableSlot, error) {
	if s.roster == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrInternal, "roster provider missing")
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.RosterTimeout)
	defer cancel()

	semester, err := s.roster.FindSemester(lookupCtx, semesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("semester %s not found", semesterID))
		}
		return nil, nil, s.upstreamError(err, "semester lookup failed")
	}
	if semester.BatchID != batchID {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("semester %s does not belong to batch %s", semesterID, batchID))
	}

	roster, err := s.roster.ListRoster(lookupCtx, batchID, semesterID)
	if err != nil {
		return nil, nil, s.upstreamError(err, "roster lookup failed")
	}
	if !withCommitments || s.commitments == nil {
		return roster, nil, nil
	}

	teachers := rosterTeachers(roster)
	commitments, err := s.commitments.ListTeacherCommitments(lookupCtx, semesterID, teachers)
	if err != nil {
		return nil, nil, s.upstreamError(err, "teacher commitment lookup failed")
	}
	return roster, commitments, nil
}

func (s *TimetableGeneratorService) upstreamError(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		message += ": timed out"
	}
	s.logger.Warn(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, message)
}

func rosterTeachers(roster []models.RosterEntry) []string {
	seen := make(map[string]struct{})
	var teachers []string
	for _, entry := range roster {
		for _, teacherID := range entry.TeacherIDs {
			if _, ok := seen[teacherID]; ok {
				continue
			}
			seen[teacherID] = struct{}{}
			teachers = append(teachers, teacherID)
		}
	}
	sort.Strings(teachers)
	return teachers
}

// --- Placement ---

type timetablePlan struct {
	Slots   []models.TimetableSlot
	Metrics models.TimetableMetrics
}

type subjectDayKey struct {
	SubjectID string
	Day       int
}

type placementState struct {
	grid        models.GridDefinition
	index       *ConflictIndex
	colors      *ColorAssigner
	maxPerDay   int
	subjectDays map[subjectDayKey]int
	teacherLoad map[string]int
	slots       []models.TimetableSlot
}

// planTimetable is pure: identical inputs give identical slots in identical order.
// Entries are taken by subject id, cells are scanned day then slot ascending, and the
// least loaded free teacher wins with ties broken by teacher id.
func planTimetable(grid models.GridDefinition, roster []models.RosterEntry, commitments []models.TimetableSlot, maxPerDay int) timetablePlan {
	if maxPerDay <= 0 {
		maxPerDay = 1
	}
	days := append([]models.DayDef(nil), grid.Days...)
	cells := append([]models.SlotDef(nil), grid.Slots...)
	sort.SliceStable(days, func(i, j int) bool { return days[i].Index < days[j].Index })
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].SlotIndex < cells[j].SlotIndex })

	state := &placementState{
		grid:        models.GridDefinition{Days: days, Slots: cells},
		index:       NewConflictIndex(),
		colors:      NewColorAssigner(nil),
		maxPerDay:   maxPerDay,
		subjectDays: make(map[subjectDayKey]int),
		teacherLoad: make(map[string]int),
	}

	for _, commitment := range commitments {
		state.index.BlockTeacher(commitment.TeacherID, commitment.DayOfWeek, commitment.SlotIndex, commitment.ID)
	}

	entries := make([]models.RosterEntry, len(roster))
	copy(entries, roster)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].SubjectID < entries[j].SubjectID })

	metrics := models.TimetableMetrics{
		TotalSlots:         grid.Cells(),
		UnresolvedSubjects: []models.UnresolvedSubject{},
		UnplacedSessions:   []models.UnplacedSession{},
		TeacherLoad:        map[string]int{},
		SubjectLoad:        map[string]int{},
	}

	for _, entry := range entries {
		if entry.SessionsPerWeek <= 0 {
			continue
		}
		teachers := uniqueSorted(entry.TeacherIDs)
		if len(teachers) == 0 {
			metrics.UnresolvedSubjects = append(metrics.UnresolvedSubjects, models.UnresolvedSubject{SubjectID: entry.SubjectID, Reason: unresolvedNoTeacher})
			continue
		}
		metrics.RequiredSessions += entry.SessionsPerWeek
		for session := 1; session <= entry.SessionsPerWeek; session++ {
			if state.place(entry, teachers, session) {
				continue
			}
			metrics.UnplacedSessions = append(metrics.UnplacedSessions, models.UnplacedSession{
				SubjectID: entry.SubjectID,
				Teachers:  teachers,
				Session:   session,
			})
		}
	}

	slots := state.slots
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return slots[i].SlotIndex < slots[j].SlotIndex
	})
	for _, slot := range slots {
		metrics.TeacherLoad[slot.TeacherID]++
		metrics.SubjectLoad[slot.SubjectID]++
	}
	metrics.Placed = len(slots)
	metrics.Unplaced = len(metrics.UnplacedSessions)

	if slots == nil {
		slots = []models.TimetableSlot{}
	}
	return timetablePlan{Slots: slots, Metrics: metrics}
}

func (p *placementState) place(entry models.RosterEntry, teachers []string, session int) bool {
	ref := fmt.Sprintf("%s#%d", entry.SubjectID, session)
	for _, day := range p.grid.Days {
		if p.subjectDays[subjectDayKey{SubjectID: entry.SubjectID, Day: day.Index}] >= p.maxPerDay {
			continue
		}
		for _, slot := range p.grid.Slots {
			if p.index.Occupied(day.Index, slot.SlotIndex) {
				continue
			}
			for _, teacherID := range p.teacherOrder(teachers) {
				if conflict := p.index.Claim(day.Index, slot.SlotIndex, teacherID, ref); conflict != nil {
					continue
				}
				p.record(entry, teacherID, session, day, slot)
				return true
			}
		}
	}
	return false
}

func (p *placementState) teacherOrder(teachers []string) []string {
	if len(teachers) < 2 {
		return teachers
	}
	ordered := make([]string, len(teachers))
	copy(ordered, teachers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return p.teacherLoad[ordered[i]] < p.teacherLoad[ordered[j]]
	})
	return ordered
}

func (p *placementState) record(entry models.RosterEntry, teacherID string, session int, day models.DayDef, slot models.SlotDef) {
	p.subjectDays[subjectDayKey{SubjectID: entry.SubjectID, Day: day.Index}]++
	p.teacherLoad[teacherID]++

	placed := models.TimetableSlot{
		DayOfWeek: day.Index,
		DayName:   day.Name,
		SlotIndex: slot.SlotIndex,
		StartTime: slot.StartTime,
		EndTime:   slot.EndTime,
		SubjectID: entry.SubjectID,
		TeacherID: teacherID,
		Color:     p.colors.ColorFor(entry.SubjectID),
		Info:      sessionInfo(session, entry.SessionsPerWeek),
	}
	if entry.SubjectName != "" {
		label := entry.SubjectName
		placed.SessionLabel = &label
	}
	p.slots = append(p.slots, placed)
}

// sessionInfo numbers a placed session within the subject's weekly requirement.
func sessionInfo(session, sessionsPerWeek int) types.JSONText {
	return types.JSONText(fmt.Sprintf(`{"session":%d,"sessionsPerWeek":%d}`, session, sessionsPerWeek))
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
