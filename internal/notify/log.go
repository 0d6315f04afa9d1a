package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

// LogNoiseStart records the beginning of a loud episode.
func LogNoiseStart(logPath string, level, threshold float64) error {
	return appendLogEntry(logPath, &types.ThresholdLogEntry{
		Timestamp:   timestampUTC(),
		Event:       "noise_start",
		LevelDB:     level,
		ThresholdDB: threshold,
	})
}

// LogNoiseEnd records the end of a loud episode.
func LogNoiseEnd(logPath string, durationMs int64, level, threshold float64) error {
	return appendLogEntry(logPath, &types.ThresholdLogEntry{
		Timestamp:   timestampUTC(),
		Event:       "noise_end",
		DurationMs:  durationMs,
		LevelDB:     level,
		ThresholdDB: threshold,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &types.ThresholdLogEntry{
		Timestamp: timestampUTC(),
		Event:     EventTest,
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *types.ThresholdLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}
	jsonData = append(jsonData, '\n')

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
