package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/timetable-engine/internal/models"
)

const clockLayout = "15:04"

var weekdayNames = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// defaultPeriods is the seed day shape: four morning periods, a lunch gap, three afternoon periods.
var defaultPeriods = [][2]string{
	{"09:00", "09:50"},
	{"09:50", "10:40"},
	{"10:40", "11:30"},
	{"11:30", "12:20"},
	{"13:10", "14:00"},
	{"14:00", "14:50"},
	{"14:50", "15:40"},
}

// DefaultDays returns the Monday to Friday seed days.
func DefaultDays() []models.DayDef {
	days := make([]models.DayDef, 5)
	for i := range days {
		days[i] = models.DayDef{Index: i, Name: weekdayNames[i]}
	}
	return days
}

// DefaultSlots returns the seven seed periods.
func DefaultSlots() []models.SlotDef {
	slots := make([]models.SlotDef, len(defaultPeriods))
	for i, period := range defaultPeriods {
		slots[i] = models.SlotDef{SlotIndex: i, StartTime: period[0], EndTime: period[1], Label: periodLabel(i)}
	}
	return slots
}

// DefaultGrid combines DefaultDays and DefaultSlots.
func DefaultGrid() models.GridDefinition {
	return models.GridDefinition{Days: DefaultDays(), Slots: DefaultSlots()}
}

type dayInput struct {
	Index *int   `json:"index"`
	Name  string `json:"name"`
}

type slotInput struct {
	SlotIndex *int   `json:"slotIndex"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Label     string `json:"label"`
}

// NormalizeDays turns a list of names or partial {index,name} objects into a full day list.
// Absent input yields the default days. Malformed input yields the default days and an error
// so the caller can reject the request instead of silently scheduling on another grid.
func NormalizeDays(raw json.RawMessage) ([]models.DayDef, error) {
	if isAbsent(raw) {
		return DefaultDays(), nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return DefaultDays(), fmt.Errorf("days must be an array: %w", err)
	}
	if len(items) == 0 {
		return DefaultDays(), fmt.Errorf("days must contain at least one entry")
	}

	days := make([]models.DayDef, 0, len(items))
	for pos, item := range items {
		var input dayInput
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			input.Name = name
		} else if err := json.Unmarshal(item, &input); err != nil {
			return DefaultDays(), fmt.Errorf("days[%d] must be a string or object", pos)
		}
		index := pos
		if input.Index != nil {
			index = *input.Index
		}
		dayName := strings.TrimSpace(input.Name)
		if dayName == "" {
			dayName = defaultDayName(index)
		}
		days = append(days, models.DayDef{Index: index, Name: dayName})
	}

	sort.SliceStable(days, func(i, j int) bool { return days[i].Index < days[j].Index })
	for i, day := range days {
		if day.Index != i {
			return DefaultDays(), fmt.Errorf("day indices must be unique and contiguous from 0")
		}
	}
	return days, nil
}

// NormalizeSlots turns a list of labels or partial slot objects into a full slot list.
// Missing times are taken from the default period at the same index.
func NormalizeSlots(raw json.RawMessage) ([]models.SlotDef, error) {
	if isAbsent(raw) {
		return DefaultSlots(), nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return DefaultSlots(), fmt.Errorf("slots must be an array: %w", err)
	}
	if len(items) == 0 {
		return DefaultSlots(), fmt.Errorf("slots must contain at least one entry")
	}

	slots := make([]models.SlotDef, 0, len(items))
	for pos, item := range items {
		var input slotInput
		var label string
		if err := json.Unmarshal(item, &label); err == nil {
			input.Label = label
		} else if err := json.Unmarshal(item, &input); err != nil {
			return DefaultSlots(), fmt.Errorf("slots[%d] must be a string or object", pos)
		}
		index := pos
		if input.SlotIndex != nil {
			index = *input.SlotIndex
		}
		start, end := strings.TrimSpace(input.StartTime), strings.TrimSpace(input.EndTime)
		if index >= 0 && index < len(defaultPeriods) {
			if start == "" {
				start = defaultPeriods[index][0]
			}
			if end == "" {
				end = defaultPeriods[index][1]
			}
		}
		if err := validatePeriod(start, end); err != nil {
			return DefaultSlots(), fmt.Errorf("slots[%d]: %w", pos, err)
		}
		slotLabel := strings.TrimSpace(input.Label)
		if slotLabel == "" {
			slotLabel = periodLabel(index)
		}
		slots = append(slots, models.SlotDef{SlotIndex: index, StartTime: start, EndTime: end, Label: slotLabel})
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].SlotIndex < slots[j].SlotIndex })
	for i, slot := range slots {
		if slot.SlotIndex != i {
			return DefaultSlots(), fmt.Errorf("slot indices must be unique and contiguous from 0")
		}
	}
	return slots, nil
}

// NormalizeGrid resolves both halves of a grid override.
func NormalizeGrid(days, slots json.RawMessage) (models.GridDefinition, error) {
	normalizedDays, err := NormalizeDays(days)
	if err != nil {
		return models.GridDefinition{}, err
	}
	normalizedSlots, err := NormalizeSlots(slots)
	if err != nil {
		return models.GridDefinition{}, err
	}
	return models.GridDefinition{Days: normalizedDays, Slots: normalizedSlots}, nil
}

// ResolveGrid returns the grid stored on the timetable, or the default grid for legacy rows without one.
func ResolveGrid(timetable *models.Timetable) models.GridDefinition {
	meta, err := timetable.DecodeMetadata()
	if err != nil || meta.Grid == nil {
		return DefaultGrid()
	}
	grid := *meta.Grid
	if len(grid.Days) == 0 {
		grid.Days = DefaultDays()
	}
	if len(grid.Slots) == 0 {
		grid.Slots = DefaultSlots()
	}
	return grid
}

// ResolveDay looks a day up in the timetable's own grid.
func ResolveDay(timetable *models.Timetable, dayOfWeek int) (models.DayDef, bool) {
	return ResolveGrid(timetable).Day(dayOfWeek)
}

// ResolveSlot looks a slot up in the timetable's own grid.
func ResolveSlot(timetable *models.Timetable, slotIndex int) (models.SlotDef, bool) {
	return ResolveGrid(timetable).Slot(slotIndex)
}

func validatePeriod(start, end string) error {
	if start == "" || end == "" {
		return fmt.Errorf("startTime and endTime are required")
	}
	startAt, err := time.Parse(clockLayout, start)
	if err != nil {
		return fmt.Errorf("startTime %q must use HH:MM", start)
	}
	endAt, err := time.Parse(clockLayout, end)
	if err != nil {
		return fmt.Errorf("endTime %q must use HH:MM", end)
	}
	if !endAt.After(startAt) {
		return fmt.Errorf("endTime %s must be after startTime %s", end, start)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func defaultDayName(index int) string {
	if index >= 0 && index < len(weekdayNames) {
		return weekdayNames[index]
	}
	return fmt.Sprintf("Day %d", index+1)
}

func periodLabel(index int) string {
	return fmt.Sprintf("Period %d", index+1)
}
