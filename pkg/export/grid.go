package export

import (
	"fmt"
	"strings"
)

// Period is one row of a timetable grid.
type Period struct {
	Label     string
	StartTime string
	EndTime   string
}

// Cell is one scheduled session.
type Cell struct {
	Subject string
	Teacher string
	Room    string
	Color   string
}

// Grid is a day x period table ready for rendering. Cells is indexed [period][day].
type Grid struct {
	Title   string
	Days    []string
	Periods []Period
	Cells   [][]*Cell
}

// NewGrid allocates an empty grid.
func NewGrid(title string, days []string, periods []Period) Grid {
	cells := make([][]*Cell, len(periods))
	for i := range cells {
		cells[i] = make([]*Cell, len(days))
	}
	return Grid{Title: title, Days: days, Periods: periods, Cells: cells}
}

// Place puts a cell at the given coordinates; out of range coordinates are ignored.
func (g Grid) Place(period, day int, cell Cell) {
	if period < 0 || period >= len(g.Cells) || day < 0 || day >= len(g.Days) {
		return
	}
	g.Cells[period][day] = &cell
}

// At returns the cell at the coordinates or nil.
func (g Grid) At(period, day int) *Cell {
	if period < 0 || period >= len(g.Cells) || day < 0 || day >= len(g.Cells[period]) {
		return nil
	}
	return g.Cells[period][day]
}

func (g Grid) validate() error {
	if len(g.Days) == 0 || len(g.Periods) == 0 {
		return fmt.Errorf("grid requires at least one day and one period")
	}
	return nil
}

func (p Period) timeRange() string {
	return p.StartTime + "-" + p.EndTime
}

func (c *Cell) text() string {
	if c == nil {
		return ""
	}
	parts := []string{c.Subject}
	if c.Teacher != "" {
		parts = append(parts, c.Teacher)
	}
	text := strings.Join(parts, " / ")
	if c.Room != "" {
		text += " (" + c.Room + ")"
	}
	return text
}
