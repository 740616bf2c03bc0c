package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
)

func entities(names ...string) []model.RawEntity {
	out := make([]model.RawEntity, len(names))
	for i, n := range names {
		out[i] = model.RawEntity{Name: n, Quote: "quoted " + n}
	}
	return out
}

func TestAggregate_NoFragments(t *testing.T) {
	rs := Aggregate("", nil, nil)

	assert.Equal(t, model.DefaultTrialID, rs.TrialID)
	assert.Nil(t, rs.Inclusion.Age)
	assert.Nil(t, rs.Inclusion.Gender)
	assert.Nil(t, rs.Inclusion.Weight)
	assert.Empty(t, rs.Inclusion.Diagnoses)
	assert.Empty(t, rs.Inclusion.Labs)
	assert.Empty(t, rs.Exclusion.Diagnoses)
	assert.Empty(t, rs.Exclusion.Medications)
	assert.Empty(t, rs.Exclusion.Labs)
	assert.NotNil(t, rs.Exclusion.Labs)
}

func TestAggregate_LastFragmentWinsForScalars(t *testing.T) {
	f1 := model.RawRuleFragment{Inclusion: &model.RawInclusion{
		Age:    &model.RawBounds{Min: model.Float(18), Max: model.Float(65)},
		Gender: &model.RawGender{Value: "female"},
		Weight: &model.RawBounds{Min: model.Float(50)},
	}}
	f2 := model.RawRuleFragment{Inclusion: &model.RawInclusion{
		Age:    &model.RawBounds{Min: model.Float(21)},
		Gender: &model.RawGender{Value: "any"},
	}}

	rs := Aggregate("T1", nil, []model.RawRuleFragment{f1, f2})

	// No conservative intersection: f2's age fully replaces f1's.
	require.NotNil(t, rs.Inclusion.Age)
	assert.Equal(t, 21.0, *rs.Inclusion.Age.Min)
	assert.Nil(t, rs.Inclusion.Age.Max)
	assert.Equal(t, "any", rs.Inclusion.Gender.Value)

	// f2 supplied no weight, so f1's survives.
	require.NotNil(t, rs.Inclusion.Weight)
	assert.Equal(t, 50.0, *rs.Inclusion.Weight.Min)
	assert.Equal(t, "T1", rs.TrialID)
}

func TestAggregate_EmptyScalarsDoNotOverwrite(t *testing.T) {
	f1 := model.RawRuleFragment{Inclusion: &model.RawInclusion{
		Age:    &model.RawBounds{Min: model.Float(18)},
		Gender: &model.RawGender{Value: "male"},
	}}
	f2 := model.RawRuleFragment{Inclusion: &model.RawInclusion{
		Age:    &model.RawBounds{Quote: "no age limits stated"},
		Gender: &model.RawGender{Value: "  "},
	}}

	rs := Aggregate("", nil, []model.RawRuleFragment{f1, f2})

	require.NotNil(t, rs.Inclusion.Age)
	assert.Equal(t, 18.0, *rs.Inclusion.Age.Min)
	assert.Equal(t, "male", rs.Inclusion.Gender.Value)
}

func TestAggregate_UnionOfGroundedNames(t *testing.T) {
	lx := grounding.NewLexicon([]grounding.LexiconEntry{
		{Label: "Pregnancy", Synonyms: []string{"pregnant"}},
	})
	f1 := model.RawRuleFragment{
		Inclusion: &model.RawInclusion{Diagnoses: entities("type 2 diabetes")},
		Exclusion: &model.RawExclusion{
			Diagnoses:   entities("pregnant", "active cancer"),
			Medications: entities("warfarin"),
		},
	}
	f2 := model.RawRuleFragment{
		Inclusion: &model.RawInclusion{Diagnoses: entities("Type 2 Diabetes")},
		Exclusion: &model.RawExclusion{
			Diagnoses:   entities("Pregnancy", ""),
			Medications: entities("WARFARIN", "insulin glargine"),
		},
	}

	rs := Aggregate("", lx, []model.RawRuleFragment{f1, f2})

	assert.Equal(t, []string{"Type 2 Diabetes"}, rs.Inclusion.Diagnoses)
	assert.Equal(t, []string{"Active Cancer", "Pregnancy"}, rs.Exclusion.Diagnoses)
	assert.Equal(t, []string{"Insulin Glargine", "Warfarin"}, rs.Exclusion.Medications)
}

func TestAggregate_LabsDisjointKeysUnion(t *testing.T) {
	f1 := model.RawRuleFragment{Inclusion: &model.RawInclusion{
		Labs: []model.RawLab{{Name: "Hemoglobin", Min: model.Float(10)}},
	}}
	f2 := model.RawRuleFragment{Inclusion: &model.RawInclusion{
		Labs: []model.RawLab{{Name: " Platelets ", Min: model.Float(100), Unit: "10^9/L"}},
	}}

	rs := Aggregate("", nil, []model.RawRuleFragment{f1, f2})

	require.Len(t, rs.Inclusion.Labs, 2)
	assert.Equal(t, 10.0, *rs.Inclusion.Labs["hemoglobin"].Min)
	assert.Equal(t, 100.0, *rs.Inclusion.Labs["platelets"].Min)
}

func TestAggregate_LabsCollidingKeyTakesLastPair(t *testing.T) {
	f1 := model.RawRuleFragment{Exclusion: &model.RawExclusion{
		Labs: []model.RawLab{{Name: "Potassium", Min: model.Float(5.5), Max: model.Float(7.0)}},
	}}
	f2 := model.RawRuleFragment{Exclusion: &model.RawExclusion{
		Labs: []model.RawLab{{Name: "POTASSIUM ", Min: model.Float(6.0)}},
	}}

	rs := Aggregate("", nil, []model.RawRuleFragment{f1, f2})

	require.Len(t, rs.Exclusion.Labs, 1)
	k := rs.Exclusion.Labs["potassium"]
	assert.Equal(t, 6.0, *k.Min)
	// The pair is replaced wholesale, not merged field by field.
	assert.Nil(t, k.Max)
}

func TestAggregate_SkipsBlankLabNamesAndNilSections(t *testing.T) {
	f := model.RawRuleFragment{
		Inclusion: &model.RawInclusion{Labs: []model.RawLab{{Name: "  ", Min: model.Float(1)}}},
	}

	rs := Aggregate("", nil, []model.RawRuleFragment{{}, f})

	assert.Empty(t, rs.Inclusion.Labs)
	assert.Empty(t, rs.Exclusion.Diagnoses)
}
