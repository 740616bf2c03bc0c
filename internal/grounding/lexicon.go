package grounding

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/eligibility-cli/internal/config"
)

// LexiconEntry is one canonical entity and the surface forms that map to it.
type LexiconEntry struct {
	Label    string   `yaml:"label"`
	Synonyms []string `yaml:"synonyms"`
}

type lexiconFile struct {
	Entities []LexiconEntry `yaml:"entities"`
}

// Lexicon grounds names against a synonym dictionary. Exact matches win;
// otherwise the longest known surface form contained in the name (on word
// boundaries) is used, so "history of type 2 diabetes" grounds like
// "type 2 diabetes".
type Lexicon struct {
	forms  map[string]string
	sorted []string // surface forms, longest first
}

// NewLexicon builds a lexicon from entries. Every label is also a surface
// form of itself so grounding a canonical label is stable.
func NewLexicon(entries []LexiconEntry) *Lexicon {
	lx := &Lexicon{forms: make(map[string]string)}
	for _, e := range entries {
		label := strings.TrimSpace(e.Label)
		if label == "" {
			continue
		}
		lx.add(label, label)
		for _, s := range e.Synonyms {
			lx.add(s, label)
		}
	}
	lx.sorted = make([]string, 0, len(lx.forms))
	for form := range lx.forms {
		lx.sorted = append(lx.sorted, form)
	}
	sort.Slice(lx.sorted, func(i, j int) bool {
		if len(lx.sorted[i]) != len(lx.sorted[j]) {
			return len(lx.sorted[i]) > len(lx.sorted[j])
		}
		return lx.sorted[i] < lx.sorted[j]
	})
	return lx
}

func (lx *Lexicon) add(form, label string) {
	key := normalizeForm(form)
	if key == "" {
		return
	}
	if _, exists := lx.forms[key]; !exists {
		lx.forms[key] = label
	}
}

// LoadLexicon reads a YAML lexicon file.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grounding: read lexicon %s", path)
	}
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "grounding: parse lexicon %s", path)
	}
	return NewLexicon(f.Entities), nil
}

// Ground implements Grounder.
func (lx *Lexicon) Ground(name string) (string, bool) {
	key := normalizeForm(name)
	if key == "" {
		return "", false
	}
	if label, ok := lx.forms[key]; ok {
		return label, true
	}
	padded := " " + key + " "
	for _, form := range lx.sorted {
		if strings.Contains(padded, " "+form+" ") {
			return lx.forms[form], true
		}
	}
	return "", false
}

// Len returns the number of known surface forms.
func (lx *Lexicon) Len() int {
	return len(lx.forms)
}

func normalizeForm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// New builds the grounder selected by cfg. A lexicon that cannot be loaded
// degrades to Identity with a warning rather than failing the run.
func New(cfg config.GroundingConfig) Grounder {
	switch strings.ToLower(cfg.Provider) {
	case "lexicon":
		lx, err := LoadLexicon(cfg.LexiconPath)
		if err != nil {
			zap.L().Warn("grounding: lexicon unavailable, falling back to identity",
				zap.String("path", cfg.LexiconPath),
				zap.Error(err),
			)
			return Identity{}
		}
		zap.L().Info("grounding: lexicon loaded",
			zap.String("path", cfg.LexiconPath),
			zap.Int("forms", lx.Len()),
		)
		return lx
	case "identity", "":
		return Identity{}
	default:
		zap.L().Warn("grounding: unknown provider, falling back to identity",
			zap.String("provider", cfg.Provider),
		)
		return Identity{}
	}
}
