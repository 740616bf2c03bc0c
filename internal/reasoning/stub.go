package reasoning

import (
	"context"
	"fmt"

	"github.com/sells-group/eligibility-cli/internal/model"
)

var _ Reasoner = (*StubReasoner)(nil)

// StubReasoner answers without a model. Every patient is marked eligible
// with a fixed confidence and a note naming the inclusion criteria that were
// not checked. Used for offline runs.
type StubReasoner struct {
	Confidence float64
}

// Reason implements Reasoner.
func (s *StubReasoner) Reason(_ context.Context, p model.NormalizedPatient, inclusion model.InclusionRules) (*model.EligibilityResult, error) {
	conf := s.Confidence
	if conf == 0 {
		conf = 0.5
	}
	reasoning := []string{fmt.Sprintf("Offline mode: inclusion criteria for patient %s were not reviewed by a model.", p.ID)}
	if n := len(inclusion.Diagnoses); n > 0 {
		reasoning = append(reasoning, fmt.Sprintf("%d required diagnoses not verified.", n))
	}
	if n := len(inclusion.Labs); n > 0 {
		reasoning = append(reasoning, fmt.Sprintf("%d inclusion lab ranges not verified.", n))
	}
	return &model.EligibilityResult{
		Eligible:   true,
		Confidence: clamp(conf),
		Reasoning:  reasoning,
		Summary:    "Offline stub result.",
	}, nil
}
