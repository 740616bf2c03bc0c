// Package rules builds the canonical trial rule set from per-document
// fragments.
package rules

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
)

// Aggregate folds fragments, in order, into one TrialRuleSet.
//
// Scalars (inclusion age, gender, weight) are overwritten by the last
// fragment that supplies a non-empty value. Diagnosis and medication names
// are grounded, title-cased and unioned. Lab bounds are keyed by the
// lowercased, trimmed lab name and a later fragment replaces the whole
// {min, max} pair for that key. No fragments yields an empty rule set.
func Aggregate(trialID string, g grounding.Grounder, fragments []model.RawRuleFragment) model.TrialRuleSet {
	rs := model.NewTrialRuleSet(trialID)

	for _, f := range fragments {
		if inc := f.Inclusion; inc != nil {
			if inc.Age != nil && !inc.Age.Bounds().IsEmpty() {
				b := inc.Age.Bounds()
				rs.Inclusion.Age = &b
			}
			if inc.Gender != nil && strings.TrimSpace(inc.Gender.Value) != "" {
				rs.Inclusion.Gender = &model.GenderRule{Value: strings.TrimSpace(inc.Gender.Value)}
			}
			if inc.Weight != nil && !inc.Weight.Bounds().IsEmpty() {
				b := inc.Weight.Bounds()
				rs.Inclusion.Weight = &b
			}
			rs.Inclusion.Diagnoses = grounding.Union(rs.Inclusion.Diagnoses, groundEntities(g, inc.Diagnoses))
			mergeLabs(rs.Inclusion.Labs, inc.Labs)
		}

		if exc := f.Exclusion; exc != nil {
			rs.Exclusion.Diagnoses = grounding.Union(rs.Exclusion.Diagnoses, groundEntities(g, exc.Diagnoses))
			rs.Exclusion.Medications = grounding.Union(rs.Exclusion.Medications, groundEntities(g, exc.Medications))
			mergeLabs(rs.Exclusion.Labs, exc.Labs)
		}
	}

	zap.L().Info("rules: aggregation complete",
		zap.Int("fragments", len(fragments)),
		zap.Int("inclusion_diagnoses", len(rs.Inclusion.Diagnoses)),
		zap.Int("exclusion_diagnoses", len(rs.Exclusion.Diagnoses)),
		zap.Int("exclusion_medications", len(rs.Exclusion.Medications)),
		zap.Int("inclusion_labs", len(rs.Inclusion.Labs)),
		zap.Int("exclusion_labs", len(rs.Exclusion.Labs)),
	)

	return rs
}

func groundEntities(g grounding.Grounder, entities []model.RawEntity) []string {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return grounding.CanonicalSet(g, names)
}

func mergeLabs(dst map[string]model.Bounds, labs []model.RawLab) {
	for _, lab := range labs {
		key := model.LabKey(lab.Name)
		if key == "" {
			continue
		}
		dst[key] = model.Bounds{Min: lab.Min, Max: lab.Max}
	}
}
