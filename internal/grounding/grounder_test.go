package grounding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eligibility-cli/internal/config"
)

type failingGrounder struct{}

func (failingGrounder) Ground(string) (string, bool) { return "", false }

func TestCanonicalize(t *testing.T) {
	lx := NewLexicon([]LexiconEntry{
		{Label: "hypertension", Synonyms: []string{"HTN", "high blood pressure"}},
	})

	tests := []struct {
		name string
		g    Grounder
		in   string
		want string
	}{
		{"nil grounder title-cases", nil, "type 2 diabetes", "Type 2 Diabetes"},
		{"identity", Identity{}, "  chronic kidney disease ", "Chronic Kidney Disease"},
		{"lexicon synonym", lx, "htn", "Hypertension"},
		{"lexicon contained form", lx, "history of high blood pressure", "Hypertension"},
		{"failure falls back to original", failingGrounder{}, "rare condition", "Rare Condition"},
		{"blank", Identity{}, "   ", ""},
		{"mixed case collapses", nil, "PREGNANCY", "Pregnancy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.g, tt.in))
		})
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	lx := NewLexicon([]LexiconEntry{{Label: "Atrial Fibrillation", Synonyms: []string{"afib"}}})
	for _, in := range []string{"AFib", "covid-19", "Type 2 Diabetes", "heart failure"} {
		once := Canonicalize(lx, in)
		assert.Equal(t, once, Canonicalize(lx, once), in)
	}
}

func TestCanonicalSet_CollapsesDuplicates(t *testing.T) {
	got := CanonicalSet(nil, []string{"asthma", "Asthma", " ASTHMA ", "", "copd"})
	assert.Equal(t, []string{"Asthma", "Copd"}, got)
}

func TestUnion(t *testing.T) {
	got := Union([]string{"Warfarin", "Heparin"}, []string{"warfarin", "Aspirin"}, nil)
	assert.Equal(t, []string{"Aspirin", "Heparin", "Warfarin"}, got)
	assert.NotNil(t, Union())
	assert.Empty(t, Union())
}

func TestContains(t *testing.T) {
	set := []string{"Uncontrolled Blood Pressure"}
	assert.True(t, Contains(set, "uncontrolled blood pressure"))
	assert.False(t, Contains(set, "blood pressure"))
}

func TestLexicon_LongestFormWins(t *testing.T) {
	lx := NewLexicon([]LexiconEntry{
		{Label: "Diabetes", Synonyms: []string{"diabetes"}},
		{Label: "Type 2 Diabetes Mellitus", Synonyms: []string{"type 2 diabetes"}},
	})

	label, ok := lx.Ground("patient with type 2 diabetes and obesity")
	require.True(t, ok)
	assert.Equal(t, "Type 2 Diabetes Mellitus", label)

	_, ok = lx.Ground("asthma")
	assert.False(t, ok)
}

func TestLoadLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	content := `
entities:
  - label: Chronic Kidney Disease
    synonyms: [CKD, "chronic renal failure"]
  - label: Warfarin
    synonyms: [coumadin]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lx, err := LoadLexicon(path)
	require.NoError(t, err)
	assert.Equal(t, 5, lx.Len())

	label, ok := lx.Ground("Coumadin")
	require.True(t, ok)
	assert.Equal(t, "Warfarin", label)
}

func TestLoadLexicon_Missing(t *testing.T) {
	_, err := LoadLexicon(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNew_DegradesToIdentity(t *testing.T) {
	g := New(config.GroundingConfig{Provider: "lexicon", LexiconPath: "/does/not/exist.yaml"})
	assert.IsType(t, Identity{}, g)

	g = New(config.GroundingConfig{Provider: "scispacy"})
	assert.IsType(t, Identity{}, g)

	g = New(config.GroundingConfig{})
	assert.IsType(t, Identity{}, g)
}
