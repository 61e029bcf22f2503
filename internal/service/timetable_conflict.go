package service

import (
	"fmt"

	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

// Conflict rules reported by ConflictIndex.
const (
	ConflictCellOccupied = "cell-occupied"
	ConflictTeacherBusy  = "teacher-busy"
)

// SlotConflict describes why a claim was refused.
type SlotConflict struct {
	Rule           string `json:"rule"`
	ExistingSlotID string `json:"existingSlotId"`
	DayOfWeek      int    `json:"dayOfWeek"`
	SlotIndex      int    `json:"slotIndex"`
	TeacherID      string `json:"teacherId"`
}

type cellKey struct {
	Day  int
	Slot int
}

type teacherCellKey struct {
	TeacherID string
	Day       int
	Slot      int
}

// ConflictIndex tracks claimed cells and teacher cells of one timetable.
// Generation and manual editing both go through Claim so they agree on what a conflict is.
type ConflictIndex struct {
	cells    map[cellKey]string
	teachers map[teacherCellKey]string
}

// NewConflictIndex returns an empty index.
func NewConflictIndex() *ConflictIndex {
	return &ConflictIndex{
		cells:    make(map[cellKey]string),
		teachers: make(map[teacherCellKey]string),
	}
}

// BuildConflictIndex claims every slot except the one with excludeID.
func BuildConflictIndex(slots []models.TimetableSlot, excludeID string) *ConflictIndex {
	index := NewConflictIndex()
	for _, slot := range slots {
		if excludeID != "" && slot.ID == excludeID {
			continue
		}
		index.cells[cellKey{Day: slot.DayOfWeek, Slot: slot.SlotIndex}] = slot.ID
		index.teachers[teacherCellKey{TeacherID: slot.TeacherID, Day: slot.DayOfWeek, Slot: slot.SlotIndex}] = slot.ID
	}
	return index
}

// Check reports the first rule a claim would violate without recording anything.
func (c *ConflictIndex) Check(day, slot int, teacherID string) *SlotConflict {
	if existing, ok := c.cells[cellKey{Day: day, Slot: slot}]; ok {
		return &SlotConflict{Rule: ConflictCellOccupied, ExistingSlotID: existing, DayOfWeek: day, SlotIndex: slot, TeacherID: teacherID}
	}
	if existing, ok := c.teachers[teacherCellKey{TeacherID: teacherID, Day: day, Slot: slot}]; ok {
		return &SlotConflict{Rule: ConflictTeacherBusy, ExistingSlotID: existing, DayOfWeek: day, SlotIndex: slot, TeacherID: teacherID}
	}
	return nil
}

// Claim records the cell and teacher cell for slotID, or returns the conflict and records nothing.
func (c *ConflictIndex) Claim(day, slot int, teacherID, slotID string) *SlotConflict {
	if conflict := c.Check(day, slot, teacherID); conflict != nil {
		return conflict
	}
	c.cells[cellKey{Day: day, Slot: slot}] = slotID
	c.teachers[teacherCellKey{TeacherID: teacherID, Day: day, Slot: slot}] = slotID
	return nil
}

// Release drops both claims for the coordinates.
func (c *ConflictIndex) Release(day, slot int, teacherID string) {
	delete(c.cells, cellKey{Day: day, Slot: slot})
	delete(c.teachers, teacherCellKey{TeacherID: teacherID, Day: day, Slot: slot})
}

// BlockTeacher marks a teacher as busy in a cell without occupying the cell,
// e.g. for a commitment held in another timetable.
func (c *ConflictIndex) BlockTeacher(teacherID string, day, slot int, slotID string) {
	key := teacherCellKey{TeacherID: teacherID, Day: day, Slot: slot}
	if _, ok := c.teachers[key]; ok {
		return
	}
	c.teachers[key] = slotID
}

// Occupied reports whether the cell is claimed.
func (c *ConflictIndex) Occupied(day, slot int) bool {
	_, ok := c.cells[cellKey{Day: day, Slot: slot}]
	return ok
}

func conflictError(conflict *SlotConflict) error {
	message := fmt.Sprintf("day %d slot %d is already taken by slot %s", conflict.DayOfWeek, conflict.SlotIndex, conflict.ExistingSlotID)
	if conflict.Rule == ConflictTeacherBusy {
		message = fmt.Sprintf("teacher %s already teaches slot %s on day %d slot %d", conflict.TeacherID, conflict.ExistingSlotID, conflict.DayOfWeek, conflict.SlotIndex)
	}
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrSlotConflict, message), conflict)
}
