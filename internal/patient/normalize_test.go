package patient

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
)

func testLexicon() *grounding.Lexicon {
	return grounding.NewLexicon([]grounding.LexiconEntry{
		{Label: "Pregnancy", Synonyms: []string{"pregnant"}},
		{Label: "Hypertension", Synonyms: []string{"high blood pressure", "essential hypertension"}},
		{Label: "Type 2 Diabetes Mellitus", Synonyms: []string{"diabetes mellitus type 2", "t2dm"}},
	})
}

func TestCanonicalGender(t *testing.T) {
	tests := []struct {
		in   string
		want model.Gender
	}{
		{"F", model.GenderFemale},
		{"female", model.GenderFemale},
		{"Woman", model.GenderFemale},
		{"women", model.GenderFemale},
		{"m", model.GenderMale},
		{"MALE", model.GenderMale},
		{" man ", model.GenderMale},
		{"men", model.GenderMale},
		{"nonbinary", "nonbinary"},
		{"", model.GenderUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalGender(tt.in))
		})
	}
}

func TestCanonicalLabs(t *testing.T) {
	got := CanonicalLabs(map[string]float64{
		" Hemoglobin ": 13.2,
		"POTASSIUM":    4.1,
		"potassium":    4.5,
		"  ":           1,
	})
	// "POTASSIUM" sorts before "potassium", so the latter wins.
	assert.Equal(t, map[string]float64{"hemoglobin": 13.2, "potassium": 4.5}, got)
	assert.NotNil(t, CanonicalLabs(nil))
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(testLexicon())
	raw := model.RawPatient{
		ID:          "p1",
		Age:         model.Int(54),
		Gender:      "F",
		Weight:      model.Float(72.5),
		Diagnoses:   []string{"pregnant", "essential hypertension", "Hypertension", "seasonal allergy"},
		Medications: []string{"Lisinopril 10 MG", "lisinopril 10 mg"},
		Labs:        map[string]float64{"Hemoglobin": 12.1},
	}

	got := n.Normalize(raw)

	want := model.NormalizedPatient{
		ID:          "p1",
		Age:         model.Int(54),
		Gender:      model.GenderFemale,
		Weight:      model.Float(72.5),
		Diagnoses:   []string{"Hypertension", "Pregnancy", "Seasonal Allergy"},
		Medications: []string{"Lisinopril 10 MG"},
		Labs:        map[string]float64{"hemoglobin": 12.1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_MissingFieldsStayAbsent(t *testing.T) {
	got := NewNormalizer(nil).Normalize(model.RawPatient{ID: "p2"})

	assert.Nil(t, got.Age)
	assert.Nil(t, got.Weight)
	assert.Equal(t, model.GenderUnknown, got.Gender)
	assert.Empty(t, got.Diagnoses)
	assert.Empty(t, got.Medications)
	assert.Empty(t, got.Labs)
	assert.Nil(t, got.Procedures)
}

func TestNormalize_DerivedCondition(t *testing.T) {
	n := NewNormalizer(nil)

	got := n.Normalize(model.RawPatient{
		ID:   "p3",
		Labs: map[string]float64{"Systolic Blood Pressure": 150},
	})
	assert.Equal(t, []string{UncontrolledBloodPressure}, got.Diagnoses)

	// Already present in a different case: no duplicate.
	got = n.Normalize(model.RawPatient{
		ID:        "p4",
		Diagnoses: []string{"uncontrolled blood pressure"},
		Labs:      map[string]float64{"diastolic blood pressure": 95},
	})
	assert.Equal(t, []string{UncontrolledBloodPressure}, got.Diagnoses)
}

func TestNormalize_Idempotent(t *testing.T) {
	patients := []model.RawPatient{
		{ID: "empty"},
		{
			ID:          "full",
			Age:         model.Int(70),
			Gender:      "Male",
			Weight:      model.Float(90),
			Diagnoses:   []string{"t2dm", "High Blood Pressure", "pregnant", " ", "Chronic Kidney Disease Stage 3"},
			Procedures:  []string{"Colonoscopy", "colonoscopy"},
			Medications: []string{"Warfarin", "insulin glargine"},
			Labs: map[string]float64{
				"Systolic Blood Pressure":  165,
				"Diastolic Blood Pressure": 85,
				" Potassium ":              6.2,
			},
		},
		{ID: "other", Gender: "unknown", Procedures: []string{"  "}},
	}

	for _, g := range []grounding.Grounder{nil, grounding.Identity{}, testLexicon()} {
		n := NewNormalizer(g)
		for _, raw := range patients {
			once := n.Normalize(raw)
			twice := n.Normalize(once.ToRaw())
			if diff := cmp.Diff(once, twice); diff != "" {
				t.Errorf("patient %s not idempotent (-once +twice):\n%s", raw.ID, diff)
			}
		}
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	raw := model.RawPatient{
		ID:        "p5",
		Diagnoses: []string{"pregnant"},
		Labs:      map[string]float64{"Systolic Blood Pressure": 150},
	}
	_ = NewNormalizer(testLexicon()).Normalize(raw)

	assert.Equal(t, []string{"pregnant"}, raw.Diagnoses)
	assert.Equal(t, map[string]float64{"Systolic Blood Pressure": 150}, raw.Labs)
}

type alwaysRule struct{}

func (alwaysRule) Name() string                       { return "always" }
func (alwaysRule) Label() string                      { return "Flagged" }
func (alwaysRule) Infer(model.NormalizedPatient) bool { return true }

func TestNormalize_CustomRulesReplaceDefaults(t *testing.T) {
	n := NewNormalizer(nil, alwaysRule{})
	got := n.Normalize(model.RawPatient{
		ID:   "p6",
		Labs: map[string]float64{"systolic blood pressure": 200},
	})
	require.Equal(t, []string{"Flagged"}, got.Diagnoses)
}
