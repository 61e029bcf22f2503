package dto

import (
	"encoding/json"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// GenerationOptionsRequest overrides the grid and tunes placement.
type GenerationOptionsRequest struct {
	Days                        json.RawMessage `json:"days,omitempty"`
	Slots                       json.RawMessage `json:"slots,omitempty"`
	MaxSessionsPerDayPerSubject int             `json:"maxSessionsPerDayPerSubject" validate:"omitempty,min=1,max=16"`
	RespectTeacherCommitments   bool            `json:"respectTeacherCommitments"`
	GenerationMethod            string          `json:"generationMethod" validate:"omitempty,max=64"`
}

// GenerateTimetableRequest triggers one generation run for a batch/semester.
type GenerateTimetableRequest struct {
	SemesterID  string                   `json:"semesterId" validate:"required,max=64"`
	BatchID     string                   `json:"batchId" validate:"required,max=64"`
	Name        string                   `json:"name" validate:"omitempty,max=255"`
	DryRun      bool                     `json:"dryRun"`
	Options     GenerationOptionsRequest `json:"options"`
	GeneratedBy string                   `json:"-" validate:"required"`
}

// GenerateTimetableResponse returns the candidate or persisted result.
type GenerateTimetableResponse struct {
	DryRun    bool                    `json:"dryRun"`
	Timetable *models.Timetable       `json:"timetable"`
	Slots     []models.TimetableSlot  `json:"slots"`
	Metrics   models.TimetableMetrics `json:"metrics"`
}

// CreateTimetableRequest creates an empty timetable to be filled manually.
type CreateTimetableRequest struct {
	SemesterID  string          `json:"semesterId" validate:"omitempty,max=64"`
	BatchID     string          `json:"batchId" validate:"omitempty,max=64"`
	Name        string          `json:"name" validate:"omitempty,max=255"`
	Days        json.RawMessage `json:"days,omitempty"`
	Slots       json.RawMessage `json:"slots,omitempty"`
	GeneratedBy string          `json:"-" validate:"required"`
}

// TimetableQuery filters timetable listings.
type TimetableQuery struct {
	SemesterID   string `form:"semesterId"`
	BatchID      string `form:"batchId"`
	Status       string `form:"status"`
	IncludeSlots bool   `form:"includeSlots"`
}

// UpdateTimetableStatusRequest moves a timetable to another lifecycle status.
type UpdateTimetableStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// SlotInput creates a slot through the manual editor.
type SlotInput struct {
	DayOfWeek    *int            `json:"dayOfWeek" validate:"required,min=0"`
	SlotIndex    *int            `json:"slotIndex" validate:"required,min=0"`
	SubjectID    string          `json:"subjectId" validate:"required,max=64"`
	TeacherID    string          `json:"teacherId" validate:"required,max=64"`
	Section      *string         `json:"section" validate:"omitempty,max=64"`
	Room         *string         `json:"room" validate:"omitempty,max=64"`
	SessionLabel *string         `json:"sessionLabel" validate:"omitempty,max=255"`
	Color        string          `json:"color" validate:"omitempty,hexcolor"`
	Info         json.RawMessage `json:"info,omitempty"`
}

// SlotPatch updates selected slot fields; nil fields are left unchanged.
type SlotPatch struct {
	DayOfWeek    *int            `json:"dayOfWeek" validate:"omitempty,min=0"`
	SlotIndex    *int            `json:"slotIndex" validate:"omitempty,min=0"`
	SubjectID    *string         `json:"subjectId" validate:"omitempty,min=1,max=64"`
	TeacherID    *string         `json:"teacherId" validate:"omitempty,min=1,max=64"`
	Section      *string         `json:"section" validate:"omitempty,max=64"`
	Room         *string         `json:"room" validate:"omitempty,max=64"`
	SessionLabel *string         `json:"sessionLabel" validate:"omitempty,max=255"`
	Color        *string         `json:"color" validate:"omitempty,hexcolor"`
	Info         json.RawMessage `json:"info,omitempty"`
}

// TimetableView is the read projection returned to teachers and students.
type TimetableView struct {
	OwnerID     string                 `json:"ownerId"`
	Role        models.UserRole        `json:"role"`
	TimetableID *int64                 `json:"timetableId,omitempty"`
	Slots       []models.TimetableSlot `json:"slots"`
}
