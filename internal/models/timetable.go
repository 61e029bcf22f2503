package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TimetableStatus represents lifecycle phases for timetables. Any status may follow any other.
type TimetableStatus string

const (
	TimetableStatusDraft     TimetableStatus = "draft"
	TimetableStatusActive    TimetableStatus = "active"
	TimetableStatusPublished TimetableStatus = "published"
	TimetableStatusCompleted TimetableStatus = "completed"
	TimetableStatusArchived  TimetableStatus = "archived"
)

// TimetableStatuses lists every accepted status in lifecycle order.
var TimetableStatuses = []TimetableStatus{
	TimetableStatusDraft,
	TimetableStatusActive,
	TimetableStatusPublished,
	TimetableStatusCompleted,
	TimetableStatusArchived,
}

// Valid reports whether s is one of the accepted statuses.
func (s TimetableStatus) Valid() bool {
	for _, candidate := range TimetableStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// ParseTimetableStatus normalises raw input into a status.
func ParseTimetableStatus(raw string) (TimetableStatus, bool) {
	status := TimetableStatus(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Generation methods recorded on timetables.
const (
	GenerationMethodGreedy = "greedy"
	GenerationMethodManual = "manual"
)

// Timetable is a versioned schedule for one batch/semester owning its slots.
type Timetable struct {
	ID               int64           `db:"id" json:"id"`
	Name             *string         `db:"name" json:"name,omitempty"`
	SemesterID       *string         `db:"semester_id" json:"semesterId,omitempty"`
	BatchID          *string         `db:"batch_id" json:"batchId,omitempty"`
	GeneratedBy      string          `db:"generated_by" json:"generatedBy"`
	Status           TimetableStatus `db:"status" json:"status"`
	GenerationMethod string          `db:"generation_method" json:"generationMethod"`
	Version          int             `db:"version" json:"version"`
	Metadata         types.JSONText  `db:"metadata" json:"metadata"`
	Metrics          types.JSONText  `db:"metrics" json:"metrics"`
	GeneratedAt      time.Time       `db:"generated_at" json:"generatedAt"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`

	Slots []TimetableSlot `db:"-" json:"slots,omitempty"`
}

// DecodeMetadata parses the metadata blob. An empty blob yields a zero value.
func (t *Timetable) DecodeMetadata() (TimetableMetadata, error) {
	var meta TimetableMetadata
	if t == nil || len(t.Metadata) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(t.Metadata, &meta); err != nil {
		return TimetableMetadata{}, err
	}
	return meta, nil
}

// TimetableFilter narrows Timetable listings.
type TimetableFilter struct {
	SemesterID   string
	BatchID      string
	Statuses     []TimetableStatus
	IncludeSlots bool
}

// DayDef is one day of a timetable grid.
type DayDef struct {
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`
}

// SlotDef is one teaching period of a timetable grid. Times use 24h HH:MM.
type SlotDef struct {
	SlotIndex int    `json:"slotIndex" yaml:"slotIndex"`
	StartTime string `json:"startTime" yaml:"startTime"`
	EndTime   string `json:"endTime" yaml:"endTime"`
	Label     string `json:"label" yaml:"label"`
}

// GridDefinition is the day x slot universe of one timetable.
type GridDefinition struct {
	Days  []DayDef  `json:"days"`
	Slots []SlotDef `json:"slots"`
}

// Day returns the day with the given index.
func (g GridDefinition) Day(index int) (DayDef, bool) {
	for _, day := range g.Days {
		if day.Index == index {
			return day, true
		}
	}
	return DayDef{}, false
}

// Slot returns the slot with the given index.
func (g GridDefinition) Slot(index int) (SlotDef, bool) {
	for _, slot := range g.Slots {
		if slot.SlotIndex == index {
			return slot, true
		}
	}
	return SlotDef{}, false
}

// Cells is the number of day x slot cells in the grid.
func (g GridDefinition) Cells() int {
	return len(g.Days) * len(g.Slots)
}

// GenerationOptions tune the placement algorithm.
type GenerationOptions struct {
	MaxSessionsPerDayPerSubject int    `json:"maxSessionsPerDayPerSubject"`
	RespectTeacherCommitments   bool   `json:"respectTeacherCommitments"`
	GenerationMethod            string `json:"generationMethod"`
}

// TimetableMetadata is stored in Timetable.Metadata.
type TimetableMetadata struct {
	Grid    *GridDefinition   `json:"grid,omitempty"`
	Options GenerationOptions `json:"options"`
}

// UnresolvedSubject is a roster subject skipped because nobody teaches it.
type UnresolvedSubject struct {
	SubjectID string `json:"subjectId"`
	Reason    string `json:"reason"`
}

// UnplacedSession is a required session that found no conflict-free cell.
type UnplacedSession struct {
	SubjectID string   `json:"subjectId"`
	Teachers  []string `json:"teacherIds"`
	Session   int      `json:"session"`
}

// TimetableMetrics is stored in Timetable.Metrics.
type TimetableMetrics struct {
	RequiredSessions   int                 `json:"required"`
	Placed             int                 `json:"placed"`
	Unplaced           int                 `json:"unplaced"`
	TotalSlots         int                 `json:"totalSlots"`
	UnresolvedSubjects []UnresolvedSubject `json:"unresolved"`
	UnplacedSessions   []UnplacedSession   `json:"unplacedSessions"`
	TeacherLoad        map[string]int      `json:"teacherLoad"`
	SubjectLoad        map[string]int      `json:"subjectLoad"`
}

// TimetableSlot is one placed session inside a timetable cell.
type TimetableSlot struct {
	ID           string         `db:"id" json:"id"`
	TimetableID  int64          `db:"timetable_id" json:"timetableId"`
	SemesterID   *string        `db:"semester_id" json:"semesterId,omitempty"`
	DayOfWeek    int            `db:"day_of_week" json:"dayOfWeek"`
	DayName      string         `db:"day_name" json:"dayName"`
	SlotIndex    int            `db:"slot_index" json:"slotIndex"`
	StartTime    string         `db:"start_time" json:"startTime"`
	EndTime      string         `db:"end_time" json:"endTime"`
	SubjectID    string         `db:"subject_id" json:"subjectId"`
	TeacherID    string         `db:"teacher_id" json:"teacherId"`
	Section      *string        `db:"section" json:"section,omitempty"`
	Room         *string        `db:"room" json:"room,omitempty"`
	SessionLabel *string        `db:"session_label" json:"sessionLabel,omitempty"`
	Color        string         `db:"color" json:"color"`
	Info         types.JSONText `db:"info" json:"info,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}
