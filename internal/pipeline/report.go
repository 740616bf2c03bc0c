package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/eligibility-cli/internal/model"
)

// Output file names written into the output directory.
const (
	RawPatientsFile  = "raw_patients.json"
	TrialRulesFile   = "trial_rules.json"
	ResultsFile      = "eligibility_results.json"
	ResultsXLSXFile  = "eligibility_results.xlsx"
	excludedSummary  = "Failed hard exclusion criteria"
	resultsSheetName = "Eligibility"
)

// BuildDetails flattens patient results into report rows. Patients that
// passed exclusion come first in input order, followed by excluded patients.
func BuildDetails(results []model.PatientResult) []model.EligibilityDetail {
	details := make([]model.EligibilityDetail, 0, len(results))
	for _, r := range results {
		if r.Verdict.Excluded {
			continue
		}
		d := model.EligibilityDetail{PatientID: r.Patient.ID, Status: r.Status()}
		if e := r.Eligibility; e != nil {
			conf := e.Confidence
			d.Confidence = &conf
			d.Reasoning = e.Reasoning
			d.Summary = e.Summary
		}
		details = append(details, d)
	}
	for _, r := range results {
		if !r.Verdict.Excluded {
			continue
		}
		details = append(details, model.EligibilityDetail{
			PatientID: r.Patient.ID,
			Status:    model.StatusExcludedHard,
			Reasons:   r.Verdict.Reasons,
			Summary:   excludedSummary,
		})
	}
	return details
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "report: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// WriteOutputs writes the run artifacts into dir and returns the paths
// written.
func WriteOutputs(dir string, raw []model.RawPatient, result *model.RunResult, withXLSX bool) ([]string, error) {
	if raw == nil {
		raw = []model.RawPatient{}
	}
	details := BuildDetails(result.Patients)

	files := []struct {
		name string
		v    any
	}{
		{RawPatientsFile, raw},
		{TrialRulesFile, result.Rules},
		{ResultsFile, details},
	}
	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := WriteJSON(path, f.v); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if withXLSX {
		path := filepath.Join(dir, ResultsXLSXFile)
		if err := WriteXLSXReport(path, details); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

var xlsxHeader = []string{"Patient ID", "Status", "Confidence", "Summary", "Reasons", "Reasoning"}

// WriteXLSXReport writes one row per patient detail into a single-sheet
// workbook.
func WriteXLSXReport(path string, details []model.EligibilityDetail) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(resultsSheetName)
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().SetString(h)
	}
	for _, d := range details {
		row := sheet.AddRow()
		row.AddCell().SetString(d.PatientID)
		row.AddCell().SetString(d.Status)
		if d.Confidence != nil {
			row.AddCell().SetFloat(*d.Confidence)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(d.Summary)
		row.AddCell().SetString(strings.Join(d.Reasons, "\n"))
		row.AddCell().SetString(strings.Join(d.Reasoning, "\n"))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

// PrintSummary renders the run counts and one row per patient as tables.
func PrintSummary(w io.Writer, summary model.RunSummary, details []model.EligibilityDetail) {
	counts := tablewriter.NewWriter(w)
	counts.SetHeader([]string{"Total", "Eligible", "Ineligible (Soft)", "Excluded (Hard)", "Not Reasoned"})
	counts.Append([]string{
		fmt.Sprint(summary.Total),
		fmt.Sprint(summary.Eligible),
		fmt.Sprint(summary.Ineligible),
		fmt.Sprint(summary.Excluded),
		fmt.Sprint(summary.NotReasoned),
	})
	counts.Render()

	if len(details) == 0 {
		return
	}
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Patient", "Status", "Confidence", "Detail"})
	tw.SetAutoWrapText(false)
	for _, d := range details {
		conf := ""
		if d.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *d.Confidence)
		}
		detail := d.Summary
		if len(d.Reasons) > 0 {
			detail = strings.Join(d.Reasons, "; ")
		}
		tw.Append([]string{d.PatientID, d.Status, conf, detail})
	}
	tw.Render()
}

// FormatReport renders a stored run as a plain-text report.
func FormatReport(run *model.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Eligibility Run: %s\n", run.ID)
	fmt.Fprintf(&b, "Trial: %s\n", run.TrialID)
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	fmt.Fprintf(&b, "Created: %s\n\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n\n", run.Error)
	}
	if run.Result == nil {
		return b.String()
	}

	s := run.Result.Summary
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Total patients: %d\n", s.Total)
	fmt.Fprintf(&b, "- Eligible: %d\n", s.Eligible)
	fmt.Fprintf(&b, "- Ineligible (soft): %d\n", s.Ineligible)
	fmt.Fprintf(&b, "- Excluded (hard): %d\n", s.Excluded)
	if s.NotReasoned > 0 {
		fmt.Fprintf(&b, "- Not reasoned: %d\n", s.NotReasoned)
	}
	b.WriteString("\n")

	b.WriteString("## Phases\n")
	for _, p := range run.Result.Phases {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", p.Name, p.Status, p.Duration)
		if p.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", p.Error)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Patients\n")
	for _, d := range BuildDetails(run.Result.Patients) {
		fmt.Fprintf(&b, "- %s | %s\n", d.PatientID, d.Status)
		for _, r := range d.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
		if d.Summary != "" {
			fmt.Fprintf(&b, "  Summary: %s\n", d.Summary)
		}
	}
	return b.String()
}
