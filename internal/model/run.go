package model

import "time"

// RunStatus represents the current state of an eligibility run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// PhaseStatus represents the outcome of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// Run represents a single pipeline run over one trial and a patient cohort.
type Run struct {
	ID        string     `json:"id"`
	TrialID   string     `json:"trial_id"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunSummary tallies the outcome of a run.
type RunSummary struct {
	Total       int `json:"total"`
	Eligible    int `json:"eligible"`
	Ineligible  int `json:"ineligible"`
	Excluded    int `json:"excluded"`
	NotReasoned int `json:"not_reasoned"`
}

// RunResult is the final output of a pipeline run.
type RunResult struct {
	RunID    string          `json:"run_id"`
	Rules    TrialRuleSet    `json:"trial_rules"`
	Patients []PatientResult `json:"patients"`
	Summary  RunSummary      `json:"summary"`
	Phases   []PhaseResult   `json:"phases"`
}
