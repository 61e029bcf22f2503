package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/timetable-engine/internal/dto"
)

// optionsFile is the YAML shape accepted by --options and the grid command.
// days and slots take the same forms as the HTTP API: names or objects.
type optionsFile struct {
	Name                        string      `yaml:"name"`
	Days                        interface{} `yaml:"days"`
	Slots                       interface{} `yaml:"slots"`
	MaxSessionsPerDayPerSubject int         `yaml:"maxSessionsPerDayPerSubject"`
	RespectTeacherCommitments   bool        `yaml:"respectTeacherCommitments"`
	GenerationMethod            string      `yaml:"generationMethod"`
}

func loadOptionsFile(path string) (optionsFile, error) {
	var file optionsFile
	if path == "" {
		return file, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("read options file: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse options file: %w", err)
	}
	return file, nil
}

func (f optionsFile) grid() (json.RawMessage, json.RawMessage, error) {
	days, err := toRawJSON(f.Days)
	if err != nil {
		return nil, nil, fmt.Errorf("days: %w", err)
	}
	slots, err := toRawJSON(f.Slots)
	if err != nil {
		return nil, nil, fmt.Errorf("slots: %w", err)
	}
	return days, slots, nil
}

func (f optionsFile) generationOptions() (dto.GenerationOptionsRequest, error) {
	days, slots, err := f.grid()
	if err != nil {
		return dto.GenerationOptionsRequest{}, err
	}
	return dto.GenerationOptionsRequest{
		Days:                        days,
		Slots:                       slots,
		MaxSessionsPerDayPerSubject: f.MaxSessionsPerDayPerSubject,
		RespectTeacherCommitments:   f.RespectTeacherCommitments,
		GenerationMethod:            f.GenerationMethod,
	}, nil
}

func toRawJSON(value interface{}) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(encoded), nil
}
