package exclusion

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eligibility-cli/internal/model"
)

func rules(mod func(rs *model.TrialRuleSet)) model.TrialRuleSet {
	rs := model.NewTrialRuleSet("")
	mod(&rs)
	return rs
}

func TestEvaluate_NoRulesExcludesNobody(t *testing.T) {
	p := model.NormalizedPatient{
		ID:          "p1",
		Age:         model.Int(99),
		Gender:      model.GenderFemale,
		Weight:      model.Float(300),
		Diagnoses:   []string{"Pregnancy"},
		Medications: []string{"Warfarin"},
		Labs:        map[string]float64{"potassium": 9},
	}
	v := Evaluate(p, model.NewTrialRuleSet(""))
	assert.False(t, v.Excluded)
	assert.NotNil(t, v.Reasons)
	assert.Empty(t, v.Reasons)
}

func TestEvaluate_Scenarios(t *testing.T) {
	ageRules := rules(func(rs *model.TrialRuleSet) {
		rs.Inclusion.Age = &model.Bounds{Min: model.Float(18), Max: model.Float(65)}
	})

	tests := []struct {
		name     string
		patient  model.NormalizedPatient
		rules    model.TrialRuleSet
		excluded bool
		reasons  []string
	}{
		{
			name:     "age above max",
			patient:  model.NormalizedPatient{ID: "p", Age: model.Int(70)},
			rules:    ageRules,
			excluded: true,
			reasons:  []string{"Age 70 > Required Max 65"},
		},
		{
			name:     "age below min",
			patient:  model.NormalizedPatient{ID: "p", Age: model.Int(17)},
			rules:    ageRules,
			excluded: true,
			reasons:  []string{"Age 17 < Required Min 18"},
		},
		{
			name:    "age on boundary",
			patient: model.NormalizedPatient{ID: "p", Age: model.Int(65)},
			rules:   ageRules,
		},
		{
			name:    "missing age",
			patient: model.NormalizedPatient{ID: "p"},
			rules:   ageRules,
		},
		{
			name:    "gender matches ignoring case",
			patient: model.NormalizedPatient{ID: "p", Gender: model.GenderFemale},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Inclusion.Gender = &model.GenderRule{Value: "Female"}
			}),
		},
		{
			name:     "gender mismatch",
			patient:  model.NormalizedPatient{ID: "p", Gender: model.GenderMale},
			rules:    rules(func(rs *model.TrialRuleSet) { rs.Inclusion.Gender = &model.GenderRule{Value: "female"} }),
			excluded: true,
			reasons:  []string{"Gender male != Required female"},
		},
		{
			name:    "gender any",
			patient: model.NormalizedPatient{ID: "p", Gender: model.GenderMale},
			rules:   rules(func(rs *model.TrialRuleSet) { rs.Inclusion.Gender = &model.GenderRule{Value: "ANY"} }),
		},
		{
			name:    "missing gender",
			patient: model.NormalizedPatient{ID: "p"},
			rules:   rules(func(rs *model.TrialRuleSet) { rs.Inclusion.Gender = &model.GenderRule{Value: "female"} }),
		},
		{
			name:     "weight below min",
			patient:  model.NormalizedPatient{ID: "p", Weight: model.Float(44.5)},
			rules:    rules(func(rs *model.TrialRuleSet) { rs.Inclusion.Weight = &model.Bounds{Min: model.Float(45)} }),
			excluded: true,
			reasons:  []string{"Weight 44.5 < Required Min 45"},
		},
		{
			name:    "diagnosis intersection ignores case",
			patient: model.NormalizedPatient{ID: "p", Diagnoses: []string{"pregnancy", "Asthma"}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Diagnoses = []string{"Pregnancy"}
			}),
			excluded: true,
			reasons:  []string{"Excluded Diagnoses found: Pregnancy"},
		},
		{
			name:    "several diagnoses in one reason",
			patient: model.NormalizedPatient{ID: "p", Diagnoses: []string{"Pregnancy", "Active Cancer", "Asthma"}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Diagnoses = []string{"Active Cancer", "Hepatitis B", "Pregnancy"}
			}),
			excluded: true,
			reasons:  []string{"Excluded Diagnoses found: Active Cancer, Pregnancy"},
		},
		{
			name:    "medication intersection",
			patient: model.NormalizedPatient{ID: "p", Medications: []string{"WARFARIN"}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Medications = []string{"Warfarin"}
			}),
			excluded: true,
			reasons:  []string{"Excluded Medications found: Warfarin"},
		},
		{
			name:    "exclusion lab closed band",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"potassium": 6.0}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Labs["potassium"] = model.Bounds{Min: model.Float(5.5), Max: model.Float(7.0)}
			}),
			excluded: true,
			reasons:  []string{"Exclusion Lab hit: potassium 6 is in excluded range [5.5, 7]"},
		},
		{
			name:    "exclusion lab band edges are closed",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"potassium": 7.0}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Labs["potassium"] = model.Bounds{Min: model.Float(5.5), Max: model.Float(7.0)}
			}),
			excluded: true,
			reasons:  []string{"Exclusion Lab hit: potassium 7 is in excluded range [5.5, 7]"},
		},
		{
			name:    "exclusion lab outside band",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"potassium": 4.2}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Labs["potassium"] = model.Bounds{Min: model.Float(5.5), Max: model.Float(7.0)}
			}),
		},
		{
			name:    "exclusion lab min only",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"alt": 120}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Labs["alt"] = model.Bounds{Min: model.Float(120)}
			}),
			excluded: true,
			reasons:  []string{"Exclusion Lab hit: alt 120 >= excluded min 120"},
		},
		{
			name:    "exclusion lab max only",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"platelets": 50}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Labs["platelets"] = model.Bounds{Max: model.Float(75)}
			}),
			excluded: true,
			reasons:  []string{"Exclusion Lab hit: platelets 50 <= excluded max 75"},
		},
		{
			name:    "exclusion lab with no bounds never fires",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"platelets": 50}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Exclusion.Labs["platelets"] = model.Bounds{}
			}),
		},
		{
			name:    "inclusion lab failure",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"hemoglobin": 8}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Inclusion.Labs["hemoglobin"] = model.Bounds{Min: model.Float(10)}
			}),
			excluded: true,
			reasons:  []string{"Inclusion failed: hemoglobin 8 < min 10"},
		},
		{
			name:    "inclusion lab within range",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"hemoglobin": 12}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Inclusion.Labs["hemoglobin"] = model.Bounds{Min: model.Float(10), Max: model.Float(18)}
			}),
		},
		{
			name:    "lab rule without patient value",
			patient: model.NormalizedPatient{ID: "p", Labs: map[string]float64{"sodium": 140}},
			rules: rules(func(rs *model.TrialRuleSet) {
				rs.Inclusion.Labs["hemoglobin"] = model.Bounds{Min: model.Float(10)}
				rs.Exclusion.Labs["potassium"] = model.Bounds{Min: model.Float(5.5)}
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.patient, tt.rules)
			assert.Equal(t, tt.excluded, v.Excluded)
			if tt.reasons == nil {
				tt.reasons = []string{}
			}
			assert.Equal(t, tt.reasons, v.Reasons)
		})
	}
}

func TestEvaluate_AllChecksReportedInOrder(t *testing.T) {
	rs := rules(func(rs *model.TrialRuleSet) {
		rs.Inclusion.Age = &model.Bounds{Max: model.Float(65)}
		rs.Inclusion.Gender = &model.GenderRule{Value: "female"}
		rs.Inclusion.Weight = &model.Bounds{Max: model.Float(100)}
		rs.Inclusion.Labs["hemoglobin"] = model.Bounds{Min: model.Float(10), Max: model.Float(9)}
		rs.Exclusion.Diagnoses = []string{"Uncontrolled Blood Pressure"}
		rs.Exclusion.Medications = []string{"Warfarin"}
		rs.Exclusion.Labs["potassium"] = model.Bounds{Min: model.Float(5.5), Max: model.Float(7)}
		rs.Exclusion.Labs["alt"] = model.Bounds{Min: model.Float(100)}
	})
	p := model.NormalizedPatient{
		ID:          "p",
		Age:         model.Int(80),
		Gender:      model.GenderMale,
		Weight:      model.Float(120.25),
		Diagnoses:   []string{"Uncontrolled Blood Pressure"},
		Medications: []string{"warfarin"},
		Labs:        map[string]float64{"hemoglobin": 9.5, "potassium": 6, "alt": 150},
	}

	v := Evaluate(p, rs)

	require.True(t, v.Excluded)
	want := []string{
		"Age 80 > Required Max 65",
		"Gender male != Required female",
		"Weight 120.25 > Required Max 100",
		"Excluded Diagnoses found: Uncontrolled Blood Pressure",
		"Excluded Medications found: Warfarin",
		"Inclusion failed: hemoglobin 9.5 < min 10; Inclusion failed: hemoglobin 9.5 > max 9; " +
			"Exclusion Lab hit: alt 150 >= excluded min 100; " +
			"Exclusion Lab hit: potassium 6 is in excluded range [5.5, 7]",
	}
	if diff := cmp.Diff(want, v.Reasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}
}

// fullRules constrains every datum a patient can carry.
func fullRules() model.TrialRuleSet {
	return rules(func(rs *model.TrialRuleSet) {
		rs.Inclusion.Age = &model.Bounds{Min: model.Float(18), Max: model.Float(65)}
		rs.Inclusion.Gender = &model.GenderRule{Value: "female"}
		rs.Inclusion.Weight = &model.Bounds{Min: model.Float(50), Max: model.Float(120)}
		rs.Inclusion.Labs["hemoglobin"] = model.Bounds{Min: model.Float(10)}
		rs.Exclusion.Diagnoses = []string{"Pregnancy"}
		rs.Exclusion.Medications = []string{"Warfarin"}
		rs.Exclusion.Labs["potassium"] = model.Bounds{Min: model.Float(5.5), Max: model.Float(7)}
	})
}

func randomPatient(r *rand.Rand, id string) model.NormalizedPatient {
	p := model.NormalizedPatient{ID: id, Labs: map[string]float64{}}
	if r.IntN(4) > 0 {
		p.Age = model.Int(r.IntN(90))
	}
	switch r.IntN(3) {
	case 0:
		p.Gender = model.GenderMale
	case 1:
		p.Gender = model.GenderFemale
	}
	if r.IntN(4) > 0 {
		p.Weight = model.Float(30 + r.Float64()*120)
	}
	if r.IntN(3) == 0 {
		p.Diagnoses = []string{"Pregnancy"}
	}
	if r.IntN(3) == 0 {
		p.Medications = []string{"Warfarin"}
	}
	if r.IntN(2) == 0 {
		p.Labs["hemoglobin"] = 6 + r.Float64()*10
	}
	if r.IntN(2) == 0 {
		p.Labs["potassium"] = 3 + r.Float64()*5
	}
	return p
}

// Removing any single datum never turns a non-excluded patient into an
// excluded one, and never adds a reason.
func TestEvaluate_MissingDataIsConservative(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	rs := fullRules()

	removals := map[string]func(p model.NormalizedPatient) model.NormalizedPatient{
		"age":         func(p model.NormalizedPatient) model.NormalizedPatient { p.Age = nil; return p },
		"gender":      func(p model.NormalizedPatient) model.NormalizedPatient { p.Gender = model.GenderUnknown; return p },
		"weight":      func(p model.NormalizedPatient) model.NormalizedPatient { p.Weight = nil; return p },
		"diagnoses":   func(p model.NormalizedPatient) model.NormalizedPatient { p.Diagnoses = nil; return p },
		"medications": func(p model.NormalizedPatient) model.NormalizedPatient { p.Medications = nil; return p },
		"hemoglobin": func(p model.NormalizedPatient) model.NormalizedPatient {
			p.Labs = copyLabs(p.Labs)
			delete(p.Labs, "hemoglobin")
			return p
		},
		"potassium": func(p model.NormalizedPatient) model.NormalizedPatient {
			p.Labs = copyLabs(p.Labs)
			delete(p.Labs, "potassium")
			return p
		},
	}

	for i := 0; i < 500; i++ {
		p := randomPatient(r, "p")
		before := Evaluate(p, rs)
		for name, remove := range removals {
			after := Evaluate(remove(p), rs)
			if !before.Excluded {
				assert.False(t, after.Excluded, "removing %s excluded patient %+v", name, p)
			}
			assert.LessOrEqual(t, len(after.Reasons), len(before.Reasons), "removing %s added a reason", name)
		}
	}
}

func copyLabs(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func TestEvaluate_OrderIndependent(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	rs := fullRules()

	patients := make([]model.NormalizedPatient, 50)
	for i := range patients {
		patients[i] = randomPatient(r, string(rune('a'+i%26))+string(rune('0'+i/26)))
	}

	want := make(map[string]model.ExclusionVerdict, len(patients))
	for _, p := range patients {
		want[p.ID] = Evaluate(p, rs)
	}

	for round := 0; round < 5; round++ {
		r.Shuffle(len(patients), func(i, j int) { patients[i], patients[j] = patients[j], patients[i] })
		got := make(map[string]model.ExclusionVerdict, len(patients))
		for _, p := range patients {
			got[p.ID] = Evaluate(p, rs)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round %d verdicts differ (-want +got):\n%s", round, diff)
		}
	}
}

func TestEvaluate_ReasonsEmptyIffNotExcluded(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	rs := fullRules()
	for i := 0; i < 200; i++ {
		v := Evaluate(randomPatient(r, "p"), rs)
		assert.Equal(t, v.Excluded, len(v.Reasons) > 0)
	}
}

func TestChecks_Order(t *testing.T) {
	names := make([]string, len(Checks))
	for i, c := range Checks {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"age", "gender", "weight", "diagnoses", "medications", "labs"}, names)
}

func TestNum(t *testing.T) {
	assert.Equal(t, "65", num(65))
	assert.Equal(t, "5.5", num(5.5))
	assert.Equal(t, "0.001", num(0.001))
	assert.Equal(t, "-3", num(-3))
}
