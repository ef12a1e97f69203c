package models

import "time"

// WorkResult is the outcome of one dispatched run.
type WorkResult struct {
	Prefix      string     `json:"prefix"`
	Subject     string     `json:"subject"`
	Step        string     `json:"step"`
	OutputDir   string     `json:"output_dir"`
	Error       *WorkError `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     time.Time  `json:"ended_at"`
	DurationSec float64    `json:"duration_sec"`
}

// WorkError describes a failed unit.
type WorkError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// BatchResult aggregates a dispatch batch.
type BatchResult struct {
	BatchID          string       `json:"batch_id"`
	Step             string       `json:"step"`
	Dispatched       int          `json:"dispatched"`
	Succeeded        int          `json:"succeeded"`
	Failed           int          `json:"failed"`
	Skipped          int          `json:"skipped"`  // ineligible runs never dispatched
	Canceled         int          `json:"canceled"` // eligible runs not started before cancellation
	StartedAt        time.Time    `json:"started_at"`
	EndedAt          time.Time    `json:"ended_at"`
	TotalDurationSec float64      `json:"total_duration_sec"`
	Results          []WorkResult `json:"results"`
}
