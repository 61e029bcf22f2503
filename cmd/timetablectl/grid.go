package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/noah-isme/timetable-engine/internal/service"
)

func newGridCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Print the normalized day x slot grid for an options file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadOptionsFile(path)
			if err != nil {
				return err
			}
			days, slots, err := file.grid()
			if err != nil {
				return err
			}
			grid, err := service.NormalizeGrid(days, slots)
			if err != nil {
				return fmt.Errorf("invalid grid: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tNAME")
			for _, day := range grid.Days {
				fmt.Fprintf(w, "%d\t%s\n", day.Index, day.Name)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "SLOT\tLABEL\tSTART\tEND")
			for _, slot := range grid.Slots {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", slot.SlotIndex, slot.Label, slot.StartTime, slot.EndTime)
			}
			fmt.Fprintf(w, "\n%d cells\n", grid.Cells())
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&path, "file", "", "YAML options file with days/slots (default grid when empty)")
	return cmd
}
