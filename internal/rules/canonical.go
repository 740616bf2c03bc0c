package rules

import (
	"sort"
	"strings"

	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
)

// Canonical restores the rule-set invariants on a TrialRuleSet that did not
// come from Aggregate, such as a trial_rules.json read from disk or a request
// body. Lab keys are lowercased and trimmed, name sets are trimmed, sorted and
// de-duplicated case-insensitively, and nil collections become empty. When two
// lab names collapse to one key, the one that sorts last wins. Canonical is
// idempotent and never mutates rs.
func Canonical(rs model.TrialRuleSet) model.TrialRuleSet {
	out := model.NewTrialRuleSet(rs.TrialID)

	out.Inclusion.Age = copyBounds(rs.Inclusion.Age)
	out.Inclusion.Weight = copyBounds(rs.Inclusion.Weight)
	if g := rs.Inclusion.Gender; g != nil && strings.TrimSpace(g.Value) != "" {
		out.Inclusion.Gender = &model.GenderRule{Value: strings.TrimSpace(g.Value)}
	}
	out.Inclusion.Diagnoses = grounding.Union(rs.Inclusion.Diagnoses)
	out.Inclusion.Labs = canonicalLabs(rs.Inclusion.Labs)

	out.Exclusion.Diagnoses = grounding.Union(rs.Exclusion.Diagnoses)
	out.Exclusion.Medications = grounding.Union(rs.Exclusion.Medications)
	out.Exclusion.Labs = canonicalLabs(rs.Exclusion.Labs)
	return out
}

func copyBounds(b *model.Bounds) *model.Bounds {
	if b == nil || b.IsEmpty() {
		return nil
	}
	c := *b
	return &c
}

func canonicalLabs(labs map[string]model.Bounds) map[string]model.Bounds {
	names := make([]string, 0, len(labs))
	for name := range labs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]model.Bounds, len(labs))
	for _, name := range names {
		key := model.LabKey(name)
		if key == "" {
			continue
		}
		out[key] = labs[name]
	}
	return out
}
