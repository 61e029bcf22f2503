package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/repository"
	"github.com/noah-isme/timetable-engine/internal/service"
	"github.com/noah-isme/timetable-engine/pkg/config"
	"github.com/noah-isme/timetable-engine/pkg/database"
	"github.com/noah-isme/timetable-engine/pkg/logger"
)

type generateOptions struct {
	semesterID  string
	batchID     string
	name        string
	optionsPath string
	generatedBy string
	apply       bool
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a timetable (dry-run unless --apply)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logr.Sync() //nolint:errcheck

			db, err := database.NewPostgres(cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()

			timetableRepo := repository.NewTimetableRepository(db)
			slotRepo := repository.NewTimetableSlotRepository(db)
			store := service.NewTimetableService(timetableRepo, slotRepo, timetableRepo, nil, nil, logr)
			generator := service.NewTimetableGeneratorService(service.TimetableGeneratorParams{
				Roster:      repository.NewRosterRepository(db),
				Commitments: slotRepo,
				Store:       store,
				Logger:      logr,
				Config: service.TimetableGeneratorConfig{
					RosterTimeout:     cfg.Timetable.RosterTimeout,
					MaxSessionsPerDay: cfg.Timetable.MaxSessionsPerDay,
					DefaultMethod:     cfg.Timetable.DefaultGenerateMethod,
				},
			})

			result, err := generator.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}

	cmd.Flags().StringVar(&opts.semesterID, "semester", "", "Semester ID (required)")
	cmd.Flags().StringVar(&opts.batchID, "batch", "", "Batch ID (required)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Timetable name; overrides the options file")
	cmd.Flags().StringVar(&opts.optionsPath, "options", "", "YAML options file")
	cmd.Flags().StringVar(&opts.generatedBy, "generated-by", "timetablectl", "Actor recorded on the timetable")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Persist the result as a new draft version (default is dry-run)")

	_ = cmd.MarkFlagRequired("semester")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func (o generateOptions) request() (dto.GenerateTimetableRequest, error) {
	file, err := loadOptionsFile(o.optionsPath)
	if err != nil {
		return dto.GenerateTimetableRequest{}, err
	}
	options, err := file.generationOptions()
	if err != nil {
		return dto.GenerateTimetableRequest{}, err
	}
	name := file.Name
	if strings.TrimSpace(o.name) != "" {
		name = o.name
	}
	return dto.GenerateTimetableRequest{
		SemesterID:  o.semesterID,
		BatchID:     o.batchID,
		Name:        name,
		DryRun:      !o.apply,
		Options:     options,
		GeneratedBy: o.generatedBy,
	}, nil
}
