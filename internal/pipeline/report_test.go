package pipeline

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/eligibility-cli/internal/model"
)

func sampleResults() []model.PatientResult {
	return []model.PatientResult{
		{
			Patient: model.NormalizedPatient{ID: "x1"},
			Verdict: model.ExclusionVerdict{Excluded: true, Reasons: []string{"Age 70 > Required Max 65"}},
		},
		{
			Patient:     model.NormalizedPatient{ID: "e1"},
			Verdict:     model.ExclusionVerdict{Reasons: []string{}},
			Eligibility: &model.EligibilityResult{Eligible: true, Confidence: 0.8, Reasoning: []string{"meets age"}, Summary: "ok"},
		},
		{
			Patient:     model.NormalizedPatient{ID: "i1"},
			Verdict:     model.ExclusionVerdict{Reasons: []string{}},
			Eligibility: &model.EligibilityResult{Eligible: false, Confidence: 0.4, Summary: "missing dx"},
		},
		{
			Patient: model.NormalizedPatient{ID: "n1"},
			Verdict: model.ExclusionVerdict{Reasons: []string{}},
		},
	}
}

func TestBuildDetails(t *testing.T) {
	details := BuildDetails(sampleResults())
	require.Len(t, details, 4)

	assert.Equal(t, "e1", details[0].PatientID)
	assert.Equal(t, model.StatusEligible, details[0].Status)
	require.NotNil(t, details[0].Confidence)
	assert.Equal(t, 0.8, *details[0].Confidence)

	assert.Equal(t, "i1", details[1].PatientID)
	assert.Equal(t, model.StatusIneligibleSoft, details[1].Status)

	assert.Equal(t, "n1", details[2].PatientID)
	assert.Equal(t, model.StatusNotReasoned, details[2].Status)
	assert.Nil(t, details[2].Confidence)

	assert.Equal(t, "x1", details[3].PatientID)
	assert.Equal(t, model.StatusExcludedHard, details[3].Status)
	assert.Equal(t, "Failed hard exclusion criteria", details[3].Summary)
	assert.Equal(t, []string{"Age 70 > Required Max 65"}, details[3].Reasons)
}

func TestWriteOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	result := &model.RunResult{
		Rules:    model.NewTrialRuleSet(""),
		Patients: sampleResults(),
	}

	paths, err := WriteOutputs(dir, nil, result, true)
	require.NoError(t, err)
	assert.Len(t, paths, 4)

	data, err := os.ReadFile(filepath.Join(dir, RawPatientsFile))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	data, err = os.ReadFile(filepath.Join(dir, TrialRulesFile))
	require.NoError(t, err)
	var rs model.TrialRuleSet
	require.NoError(t, json.Unmarshal(data, &rs))
	assert.Equal(t, model.DefaultTrialID, rs.TrialID)

	data, err = os.ReadFile(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	var details []map[string]any
	require.NoError(t, json.Unmarshal(data, &details))
	require.Len(t, details, 4)
	assert.Equal(t, "Excluded (Deterministic)", details[3]["status"])
	assert.NotContains(t, details[3], "confidence")
	assert.NotContains(t, details[0], "reasons")

	f, err := xlsx.OpenFile(filepath.Join(dir, ResultsXLSXFile))
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	rows := f.Sheets[0].Rows
	require.Len(t, rows, 5)
	assert.Equal(t, "Patient ID", rows[0].Cells[0].String())
	assert.Equal(t, "e1", rows[1].Cells[0].String())
	assert.Equal(t, "x1", rows[4].Cells[0].String())
	assert.Equal(t, model.StatusExcludedHard, rows[4].Cells[1].String())
}

func TestWriteOutputs_NoXLSX(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteOutputs(dir, []model.RawPatient{{ID: "p1"}}, &model.RunResult{Rules: model.NewTrialRuleSet("T")}, false)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
	_, err = os.Stat(filepath.Join(dir, ResultsXLSXFile))
	assert.True(t, os.IsNotExist(err))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	summary := model.RunSummary{Total: 4, Eligible: 1, Ineligible: 1, Excluded: 1, NotReasoned: 1}
	PrintSummary(&buf, summary, BuildDetails(sampleResults()))

	out := buf.String()
	assert.Contains(t, out, "ELIGIBLE")
	assert.Contains(t, out, "x1")
	assert.Contains(t, out, "Age 70 > Required Max 65")
	assert.Contains(t, out, "0.80")
}

func TestFormatReport(t *testing.T) {
	run := &model.Run{
		ID:        "run-1",
		TrialID:   "NCT-1",
		Status:    model.RunStatusComplete,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Result: &model.RunResult{
			Patients: sampleResults(),
			Summary:  Summarize(sampleResults()),
			Phases:   []model.PhaseResult{{Name: PhaseExclusion, Status: model.PhaseStatusComplete, Duration: 12}},
		},
	}
	out := FormatReport(run)
	assert.Contains(t, out, "# Eligibility Run: run-1")
	assert.Contains(t, out, "- Excluded (hard): 1")
	assert.Contains(t, out, "- Not reasoned: 1")
	assert.Contains(t, out, "- exclusion: complete (12ms)")
	assert.Contains(t, out, "- x1 | Excluded (Deterministic)")

	failed := FormatReport(&model.Run{ID: "run-2", Status: model.RunStatusFailed, Error: "boom"})
	assert.Contains(t, failed, "Error: boom")
	assert.NotContains(t, failed, "## Summary")
}
