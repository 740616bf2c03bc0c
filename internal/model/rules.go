package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultTrialID identifies the rule set built by folding every trial document.
const DefaultTrialID = "GENERALIZED_RULES"

// Gender rule values accepted in inclusion criteria.
const (
	GenderAny = "any"
)

// Bounds is an optional numeric range. A nil end means "no constraint", never zero.
type Bounds struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// IsEmpty reports whether neither end of the range is set.
func (b Bounds) IsEmpty() bool {
	return b.Min == nil && b.Max == nil
}

// GenderRule constrains patient gender. Value is male, female or any.
type GenderRule struct {
	Value string `json:"value"`
}

// InclusionRules holds the criteria a patient must satisfy.
type InclusionRules struct {
	Age       *Bounds           `json:"age"`
	Gender    *GenderRule       `json:"gender"`
	Weight    *Bounds           `json:"weight"`
	Diagnoses []string          `json:"diagnoses"`
	Labs      map[string]Bounds `json:"labs"`
}

// ExclusionRules holds the criteria that remove a patient from consideration.
type ExclusionRules struct {
	Diagnoses   []string          `json:"diagnoses"`
	Medications []string          `json:"medications"`
	Labs        map[string]Bounds `json:"labs"`
}

// TrialRuleSet is the canonical, merged rule set for one trial. It is built
// once per run and read-only afterwards.
type TrialRuleSet struct {
	TrialID   string         `json:"trial_id"`
	Inclusion InclusionRules `json:"inclusion"`
	Exclusion ExclusionRules `json:"exclusion"`
}

// NewTrialRuleSet returns a rule set with every constraint absent.
func NewTrialRuleSet(trialID string) TrialRuleSet {
	if trialID == "" {
		trialID = DefaultTrialID
	}
	return TrialRuleSet{
		TrialID: trialID,
		Inclusion: InclusionRules{
			Diagnoses: []string{},
			Labs:      map[string]Bounds{},
		},
		Exclusion: ExclusionRules{
			Diagnoses:   []string{},
			Medications: []string{},
			Labs:        map[string]Bounds{},
		},
	}
}

// --- Raw fragments (one per trial document, as extracted) ---

// RawBounds is an extracted numeric range with its source quote.
type RawBounds struct {
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Quote string   `json:"quote,omitempty"`
}

// UnmarshalJSON accepts numbers, numeric strings or null for min/max. A value
// that is not an object decodes as an empty range.
func (b *RawBounds) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		*b = RawBounds{}
		return nil
	}
	b.Min = optFloat(raw["min"])
	b.Max = optFloat(raw["max"])
	b.Quote, _ = raw["quote"].(string)
	return nil
}

// Bounds drops the provenance quote.
func (b RawBounds) Bounds() Bounds {
	return Bounds{Min: b.Min, Max: b.Max}
}

// RawGender is an extracted gender constraint with its source quote.
type RawGender struct {
	Value string `json:"value"`
	Quote string `json:"quote,omitempty"`
}

// RawEntity is an extracted diagnosis or medication name.
type RawEntity struct {
	Name  string `json:"name"`
	Quote string `json:"quote,omitempty"`
}

// UnmarshalJSON accepts either a bare string or a {name, quote} object.
// Anything else decodes as a nameless entity.
func (e *RawEntity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Name = s
		e.Quote = ""
		return nil
	}
	type plain RawEntity
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		*e = RawEntity{}
		return nil
	}
	*e = RawEntity(p)
	return nil
}

// RawLab is an extracted lab bound.
type RawLab struct {
	Name  string   `json:"name"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Unit  string   `json:"unit,omitempty"`
	Quote string   `json:"quote,omitempty"`
}

// UnmarshalJSON accepts numbers, numeric strings or null for min/max. A value
// that is not an object decodes as a nameless lab, which aggregation skips.
func (l *RawLab) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = RawLab{}
		return nil
	}
	l.Name, _ = raw["name"].(string)
	l.Min = optFloat(raw["min"])
	l.Max = optFloat(raw["max"])
	l.Unit, _ = raw["unit"].(string)
	l.Quote, _ = raw["quote"].(string)
	return nil
}

// RawInclusion mirrors InclusionRules before grounding and merging.
type RawInclusion struct {
	Age       *RawBounds  `json:"age,omitempty"`
	Gender    *RawGender  `json:"gender,omitempty"`
	Weight    *RawBounds  `json:"weight,omitempty"`
	Diagnoses []RawEntity `json:"diagnoses,omitempty"`
	Labs      []RawLab    `json:"labs,omitempty"`
}

// RawExclusion mirrors ExclusionRules before grounding and merging.
type RawExclusion struct {
	Diagnoses   []RawEntity `json:"diagnoses,omitempty"`
	Medications []RawEntity `json:"medications,omitempty"`
	Labs        []RawLab    `json:"labs,omitempty"`
}

// RawRuleFragment is the partial rule set extracted from a single document.
type RawRuleFragment struct {
	Source    string        `json:"source,omitempty"`
	Inclusion *RawInclusion `json:"inclusion,omitempty"`
	Exclusion *RawExclusion `json:"exclusion,omitempty"`
}

// optFloat converts a decoded JSON value to an optional float. Anything that
// is not a number or numeric string is absent.
func optFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if cleaned == "" {
			return nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// LabKey canonicalizes a lab name for use as a map key.
func LabKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Float returns a pointer to f. Handy for building bounds in literals.
func Float(f float64) *float64 {
	return &f
}
