package model

import "strings"

// ExclusionVerdict is the outcome of the exclusion matcher for one patient.
// Reasons is empty iff Excluded is false.
type ExclusionVerdict struct {
	Excluded bool     `json:"excluded"`
	Reasons  []string `json:"reasons"`
}

// EligibilityResult is returned by the inclusion-reasoning collaborator.
type EligibilityResult struct {
	Eligible   bool     `json:"eligible"`
	Confidence float64  `json:"confidence"`
	Reasoning  []string `json:"reasoning"`
	Summary    string   `json:"summary"`
}

// PatientResult attaches the verdict (and, for patients that passed
// exclusion, the reasoning result) to the normalized patient.
type PatientResult struct {
	Patient     NormalizedPatient  `json:"patient"`
	Verdict     ExclusionVerdict   `json:"verdict"`
	Eligibility *EligibilityResult `json:"eligibility_result,omitempty"`
}

// Report statuses.
const (
	StatusEligible       = "Eligible"
	StatusIneligibleSoft = "Ineligible (Pass Exclusion, Fail Inclusion)"
	StatusExcludedHard   = "Excluded (Deterministic)"
	StatusNotReasoned    = "Passed Exclusion (Not Reasoned)"
)

var statusKeys = map[string]string{
	"eligible":     StatusEligible,
	"ineligible":   StatusIneligibleSoft,
	"excluded":     StatusExcludedHard,
	"not_reasoned": StatusNotReasoned,
}

// ParseStatus resolves a short key (eligible, ineligible, excluded,
// not_reasoned) or a full report status.
func ParseStatus(s string) (string, bool) {
	if full, ok := statusKeys[strings.ToLower(strings.TrimSpace(s))]; ok {
		return full, true
	}
	for _, full := range statusKeys {
		if s == full {
			return full, true
		}
	}
	return "", false
}

// EligibilityDetail is one row of the eligibility report.
type EligibilityDetail struct {
	PatientID  string   `json:"patient_id"`
	Status     string   `json:"status"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  []string `json:"reasoning,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	Summary    string   `json:"summary,omitempty"`
}

// Status classifies the result into one of the report statuses.
func (r PatientResult) Status() string {
	switch {
	case r.Verdict.Excluded:
		return StatusExcludedHard
	case r.Eligibility == nil:
		return StatusNotReasoned
	case r.Eligibility.Eligible:
		return StatusEligible
	default:
		return StatusIneligibleSoft
	}
}

// PatientOutcome is the persisted, queryable outcome of one patient in a run.
type PatientOutcome struct {
	RunID      string   `json:"run_id"`
	PatientID  string   `json:"patient_id"`
	Status     string   `json:"status"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Outcome flattens the result for persistence under runID.
func (r PatientResult) Outcome(runID string) PatientOutcome {
	o := PatientOutcome{
		RunID:     runID,
		PatientID: r.Patient.ID,
		Status:    r.Status(),
		Reasons:   r.Verdict.Reasons,
	}
	if e := r.Eligibility; e != nil && !r.Verdict.Excluded {
		conf := e.Confidence
		o.Confidence = &conf
	}
	return o
}
