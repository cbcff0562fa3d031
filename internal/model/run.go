// Package model holds the run-history types shared by the pipeline, the
// stores and the HTTP API.
package model

import "time"

// RunStatus represents the current state of a classification run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunInputs records what a run was asked to do.
type RunInputs struct {
	Datasets         map[string]string `json:"datasets" yaml:"datasets"`
	ThresholdFt      float64           `json:"threshold_ft" yaml:"threshold_ft"`
	IncludeLandmarks bool              `json:"include_landmarks" yaml:"include_landmarks"`
	Output           string            `json:"output,omitempty" yaml:"output,omitempty"`
}

// Run represents a single pipeline execution.
type Run struct {
	ID        string     `json:"id"`
	Inputs    RunInputs  `json:"inputs"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Summary *Summary      `json:"summary,omitempty"`
	Phases  []PhaseResult `json:"phases"`
	Error   string        `json:"error,omitempty"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name" yaml:"name"`
	Status   PhaseStatus    `json:"status" yaml:"status"`
	Duration int64          `json:"duration_ms" yaml:"duration_ms"`
	Rows     int            `json:"rows" yaml:"rows"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Summary is the headline result of a run: how many parcels landed in
// each code and why they were escalated.
type Summary struct {
	Parcels     int            `json:"parcels" yaml:"parcels"`
	Rows        int            `json:"rows" yaml:"rows"`
	DroppedLots int            `json:"dropped_lots" yaml:"dropped_lots"`
	TiedLots    int            `json:"tied_lots" yaml:"tied_lots"`
	Codes       map[string]int `json:"codes" yaml:"codes"`
	Escalations Escalations    `json:"escalations" yaml:"escalations"`
	StageRows   map[string]int `json:"stage_rows" yaml:"stage_rows"`
	ThresholdFt float64        `json:"threshold_ft" yaml:"threshold_ft"`
	Landmarks   bool           `json:"include_landmarks" yaml:"include_landmarks"`
	ElapsedMS   int64          `json:"elapsed_ms" yaml:"elapsed_ms"`
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
}

// Escalations counts parcels raised to code 3 by each stage.
type Escalations struct {
	Historic  int `json:"historic" yaml:"historic"`
	Character int `json:"neighborhood_character" yaml:"neighborhood_character"`
}
