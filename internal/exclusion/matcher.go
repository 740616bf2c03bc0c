// Package exclusion decides whether a normalized patient is removed from a
// trial by any exclusion criterion.
package exclusion

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
)

// Check is one independent exclusion criterion. Eval returns one finding per
// violated constraint; no findings means the check did not fire. A check
// must never fire on a datum the patient does not have.
type Check struct {
	Name string
	Eval func(p model.NormalizedPatient, rs model.TrialRuleSet) []string
}

// Checks lists the criteria in the order their reasons are reported.
var Checks = []Check{
	{Name: "age", Eval: checkAge},
	{Name: "gender", Eval: checkGender},
	{Name: "weight", Eval: checkWeight},
	{Name: "diagnoses", Eval: checkDiagnoses},
	{Name: "medications", Eval: checkMedications},
	{Name: "labs", Eval: checkLabs},
}

// Evaluate runs every check against p. The patient is excluded iff at least
// one check fires. Each fired check contributes exactly one reason holding
// all of its findings, in check order. Evaluate is pure and safe for
// concurrent use.
func Evaluate(p model.NormalizedPatient, rs model.TrialRuleSet) model.ExclusionVerdict {
	reasons := []string{}
	for _, c := range Checks {
		if findings := c.Eval(p, rs); len(findings) > 0 {
			reasons = append(reasons, strings.Join(findings, "; "))
		}
	}
	return model.ExclusionVerdict{
		Excluded: len(reasons) > 0,
		Reasons:  reasons,
	}
}

func checkAge(p model.NormalizedPatient, rs model.TrialRuleSet) []string {
	if p.Age == nil {
		return nil
	}
	return boundFindings("Age", float64(*p.Age), rs.Inclusion.Age)
}

func checkWeight(p model.NormalizedPatient, rs model.TrialRuleSet) []string {
	if p.Weight == nil {
		return nil
	}
	return boundFindings("Weight", *p.Weight, rs.Inclusion.Weight)
}

func boundFindings(label string, v float64, b *model.Bounds) []string {
	if b == nil {
		return nil
	}
	var out []string
	if b.Min != nil && v < *b.Min {
		out = append(out, fmt.Sprintf("%s %s < Required Min %s", label, num(v), num(*b.Min)))
	}
	if b.Max != nil && v > *b.Max {
		out = append(out, fmt.Sprintf("%s %s > Required Max %s", label, num(v), num(*b.Max)))
	}
	return out
}

func checkGender(p model.NormalizedPatient, rs model.TrialRuleSet) []string {
	rule := rs.Inclusion.Gender
	if rule == nil || p.Gender == model.GenderUnknown {
		return nil
	}
	want := strings.TrimSpace(rule.Value)
	if want == "" || strings.EqualFold(want, model.GenderAny) {
		return nil
	}
	if strings.EqualFold(string(p.Gender), want) {
		return nil
	}
	return []string{fmt.Sprintf("Gender %s != Required %s", p.Gender, want)}
}

func checkDiagnoses(p model.NormalizedPatient, rs model.TrialRuleSet) []string {
	return intersectFinding("Excluded Diagnoses found", p.Diagnoses, rs.Exclusion.Diagnoses)
}

func checkMedications(p model.NormalizedPatient, rs model.TrialRuleSet) []string {
	return intersectFinding("Excluded Medications found", p.Medications, rs.Exclusion.Medications)
}

// intersectFinding reports the rule labels present in have, ignoring case,
// as a single finding.
func intersectFinding(prefix string, have, excluded []string) []string {
	if len(have) == 0 || len(excluded) == 0 {
		return nil
	}
	var hits []string
	for _, label := range excluded {
		if grounding.Contains(have, label) {
			hits = append(hits, label)
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Strings(hits)
	return []string{prefix + ": " + strings.Join(hits, ", ")}
}

// checkLabs treats a failed inclusion bound as an exclusion, then applies
// the exclusion bands. Labs the patient has no value for are skipped.
func checkLabs(p model.NormalizedPatient, rs model.TrialRuleSet) []string {
	if len(p.Labs) == 0 {
		return nil
	}
	var out []string

	for _, name := range sortedKeys(rs.Inclusion.Labs) {
		val, ok := p.Labs[name]
		if !ok {
			continue
		}
		b := rs.Inclusion.Labs[name]
		if b.Min != nil && val < *b.Min {
			out = append(out, fmt.Sprintf("Inclusion failed: %s %s < min %s", name, num(val), num(*b.Min)))
		}
		if b.Max != nil && val > *b.Max {
			out = append(out, fmt.Sprintf("Inclusion failed: %s %s > max %s", name, num(val), num(*b.Max)))
		}
	}

	for _, name := range sortedKeys(rs.Exclusion.Labs) {
		val, ok := p.Labs[name]
		if !ok {
			continue
		}
		if f, hit := exclusionBandHit(name, val, rs.Exclusion.Labs[name]); hit {
			out = append(out, f)
		}
	}
	return out
}

// exclusionBandHit applies the three-case band rule: both ends form a closed
// band, a lone min excludes at or above it, a lone max at or below it.
func exclusionBandHit(name string, val float64, b model.Bounds) (string, bool) {
	switch {
	case b.Min != nil && b.Max != nil:
		if *b.Min <= val && val <= *b.Max {
			return fmt.Sprintf("Exclusion Lab hit: %s %s is in excluded range [%s, %s]", name, num(val), num(*b.Min), num(*b.Max)), true
		}
	case b.Min != nil:
		if val >= *b.Min {
			return fmt.Sprintf("Exclusion Lab hit: %s %s >= excluded min %s", name, num(val), num(*b.Min)), true
		}
	case b.Max != nil:
		if val <= *b.Max {
			return fmt.Sprintf("Exclusion Lab hit: %s %s <= excluded max %s", name, num(val), num(*b.Max)), true
		}
	}
	return "", false
}

func sortedKeys(m map[string]model.Bounds) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
