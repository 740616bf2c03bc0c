// Package patient ingests raw patient records and normalizes them into the
// canonical shape used by the exclusion matcher.
package patient

import (
	"sort"
	"strings"

	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
)

var genderAliases = map[string]model.Gender{
	"f":      model.GenderFemale,
	"female": model.GenderFemale,
	"woman":  model.GenderFemale,
	"women":  model.GenderFemale,
	"m":      model.GenderMale,
	"male":   model.GenderMale,
	"man":    model.GenderMale,
	"men":    model.GenderMale,
}

// Normalizer converts raw patients into NormalizedPatients. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	grounder grounding.Grounder
	rules    []InferenceRule
	derived  map[string]string
}

// NewNormalizer creates a Normalizer. A nil grounder is treated as identity.
// When no rules are given, DefaultInferenceRules is used.
func NewNormalizer(g grounding.Grounder, rules ...InferenceRule) *Normalizer {
	if g == nil {
		g = grounding.Identity{}
	}
	if len(rules) == 0 {
		rules = DefaultInferenceRules()
	}
	derived := make(map[string]string, len(rules))
	for _, r := range rules {
		derived[strings.ToLower(r.Label())] = r.Label()
	}
	return &Normalizer{grounder: g, rules: rules, derived: derived}
}

// Normalize canonicalizes gender, diagnoses and lab keys, then applies the
// inference rules. Normalizing its own output returns the same record.
func (n *Normalizer) Normalize(raw model.RawPatient) model.NormalizedPatient {
	p := model.NormalizedPatient{
		ID:          raw.ID,
		Age:         raw.Age,
		Gender:      CanonicalGender(raw.Gender),
		Weight:      raw.Weight,
		Diagnoses:   n.groundDiagnoses(raw.Diagnoses),
		Procedures:  grounding.Union(raw.Procedures),
		Medications: grounding.Union(raw.Medications),
		Labs:        CanonicalLabs(raw.Labs),
	}
	if len(p.Procedures) == 0 {
		p.Procedures = nil
	}

	for _, r := range n.rules {
		if r.Infer(p) && !grounding.Contains(p.Diagnoses, r.Label()) {
			p.Diagnoses = grounding.Union(p.Diagnoses, []string{r.Label()})
		}
	}
	return p
}

// groundDiagnoses leaves labels produced by inference rules untouched so a
// second pass cannot re-ground them into something else.
func (n *Normalizer) groundDiagnoses(names []string) []string {
	labels := make([]string, 0, len(names))
	for _, name := range names {
		if label, ok := n.derived[strings.ToLower(strings.TrimSpace(name))]; ok {
			labels = append(labels, label)
			continue
		}
		if label := grounding.Canonicalize(n.grounder, name); label != "" {
			labels = append(labels, label)
		}
	}
	return grounding.Union(labels)
}

// CanonicalGender maps common spellings onto male or female. Anything else,
// including the empty string, is returned unchanged.
func CanonicalGender(g string) model.Gender {
	if canon, ok := genderAliases[strings.ToLower(strings.TrimSpace(g))]; ok {
		return canon
	}
	return model.Gender(g)
}

// CanonicalLabs lowercases and trims lab names. Keys that collide after
// canonicalization resolve to the value of the last key in sorted order.
// Blank names are dropped.
func CanonicalLabs(labs map[string]float64) map[string]float64 {
	keys := make([]string, 0, len(labs))
	for k := range labs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]float64, len(labs))
	for _, k := range keys {
		key := model.LabKey(k)
		if key == "" {
			continue
		}
		out[key] = labs[k]
	}
	return out
}
