package service

import (
	"sort"

	"github.com/noah-isme/timetable-engine/internal/models"
)

var subjectPalette = []string{
	"#1E88E5", "#43A047", "#FB8C00", "#8E24AA",
	"#E53935", "#00897B", "#3949AB", "#F4511E",
	"#6D4C41", "#546E7A", "#C0CA33", "#D81B60",
}

// ColorAssigner hands out one display color per subject within a timetable.
type ColorAssigner struct {
	bySubject map[string]string
	used      map[string]bool
}

// NewColorAssigner seeds assignments from existing slots; the oldest colored slot of a subject wins.
func NewColorAssigner(existing []models.TimetableSlot) *ColorAssigner {
	ordered := make([]models.TimetableSlot, len(existing))
	copy(ordered, existing)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	assigner := &ColorAssigner{
		bySubject: make(map[string]string),
		used:      make(map[string]bool),
	}
	for _, slot := range ordered {
		if slot.Color == "" {
			continue
		}
		if _, ok := assigner.bySubject[slot.SubjectID]; ok {
			continue
		}
		assigner.bySubject[slot.SubjectID] = slot.Color
		assigner.used[slot.Color] = true
	}
	return assigner
}

// ColorFor returns the subject's color, assigning the first free palette entry on first use.
// Once the palette is exhausted colors cycle by the number of subjects already colored.
func (a *ColorAssigner) ColorFor(subjectID string) string {
	if color, ok := a.bySubject[subjectID]; ok {
		return color
	}
	color := ""
	for _, candidate := range subjectPalette {
		if !a.used[candidate] {
			color = candidate
			break
		}
	}
	if color == "" {
		color = subjectPalette[len(a.bySubject)%len(subjectPalette)]
	}
	a.bySubject[subjectID] = color
	a.used[color] = true
	return color
}

// Remember pins a caller-chosen color for a subject that has none yet.
func (a *ColorAssigner) Remember(subjectID, color string) {
	if color == "" {
		return
	}
	if _, ok := a.bySubject[subjectID]; ok {
		return
	}
	a.bySubject[subjectID] = color
	a.used[color] = true
}
