// Package pipeline runs one eligibility pass: it folds the trial's rule
// fragments into a rule set, normalizes and screens every patient, asks the
// reasoning collaborator about the survivors and records the run.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/eligibility-cli/internal/config"
	"github.com/sells-group/eligibility-cli/internal/exclusion"
	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
	"github.com/sells-group/eligibility-cli/internal/patient"
	"github.com/sells-group/eligibility-cli/internal/reasoning"
	"github.com/sells-group/eligibility-cli/internal/rules"
	"github.com/sells-group/eligibility-cli/internal/store"
)

// Phase names recorded on every run.
const (
	PhaseAggregate = "aggregate_rules"
	PhaseExclusion = "exclusion"
	PhaseReasoning = "reasoning"
)

// Pipeline orchestrates aggregation, exclusion and inclusion reasoning.
type Pipeline struct {
	cfg        config.PipelineConfig
	grounder   grounding.Grounder
	normalizer *patient.Normalizer
	reasoner   reasoning.Reasoner
	store      store.Store
}

// New creates a Pipeline. A nil reasoner leaves surviving patients
// unreasoned and a nil store skips persistence.
func New(cfg config.PipelineConfig, g grounding.Grounder, r reasoning.Reasoner, st store.Store, inference ...patient.InferenceRule) *Pipeline {
	if g == nil {
		g = grounding.Identity{}
	}
	if inference == nil {
		inference = patient.DefaultInferenceRules()
	}
	return &Pipeline{
		cfg:        cfg,
		grounder:   g,
		normalizer: patient.NewNormalizer(g, inference...),
		reasoner:   r,
		store:      st,
	}
}

// Run executes one full pass over the given fragments and patients.
func (p *Pipeline) Run(ctx context.Context, fragments []model.RawRuleFragment, patients []model.RawPatient) (*model.RunResult, error) {
	trialID := p.cfg.TrialID
	if trialID == "" {
		trialID = model.DefaultTrialID
	}
	log := zap.L().With(zap.String("trial_id", trialID))
	log.Info("pipeline: starting run",
		zap.Int("fragments", len(fragments)),
		zap.Int("patients", len(patients)),
	)

	// A store that cannot record the run never blocks screening; the run
	// continues unpersisted under a local id.
	st := p.store
	runID := uuid.New().String()
	if st != nil {
		run, err := st.CreateRun(ctx, trialID)
		if err != nil {
			log.Warn("pipeline: run not persisted, store unavailable", zap.Error(err))
			st = nil
		} else {
			runID = run.ID
		}
	}
	log = log.With(zap.String("run_id", runID))

	result := &model.RunResult{RunID: runID}

	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		start := time.Now()
		pr, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if pr == nil {
			pr = &model.PhaseResult{}
		}
		pr.Name = name
		pr.Duration = duration

		switch {
		case fnErr != nil:
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		case pr.Status == "":
			pr.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		phasesMu.Lock()
		result.Phases = append(result.Phases, *pr)
		phasesMu.Unlock()
		return fnErr
	}

	fail := func(err error) (*model.RunResult, error) {
		if st != nil {
			// Persist the failure even if the run context was cancelled.
			if ferr := st.FailRun(context.WithoutCancel(ctx), runID, err.Error()); ferr != nil {
				log.Warn("pipeline: failed to record run failure", zap.Error(ferr))
			}
		}
		return nil, err
	}

	// Rule aggregation is a barrier: no patient is screened against a
	// partial rule set.
	_ = trackPhase(PhaseAggregate, func() (*model.PhaseResult, error) {
		result.Rules = rules.Aggregate(trialID, p.grounder, fragments)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"fragments":             len(fragments),
				"inclusion_diagnoses":   len(result.Rules.Inclusion.Diagnoses),
				"inclusion_labs":        len(result.Rules.Inclusion.Labs),
				"exclusion_diagnoses":   len(result.Rules.Exclusion.Diagnoses),
				"exclusion_medications": len(result.Rules.Exclusion.Medications),
				"exclusion_labs":        len(result.Rules.Exclusion.Labs),
			},
		}, nil
	})

	err := trackPhase(PhaseExclusion, func() (*model.PhaseResult, error) {
		screened, err := p.Screen(ctx, result.Rules, patients)
		if err != nil {
			return nil, err
		}
		result.Patients = screened
		excluded := 0
		for _, pr := range screened {
			if pr.Verdict.Excluded {
				excluded++
			}
		}
		log.Info("exclusion: routing complete",
			zap.Int("eligible", len(screened)-excluded),
			zap.Int("excluded", excluded),
		)
		return &model.PhaseResult{
			Metadata: map[string]any{"screened": len(screened), "excluded": excluded},
		}, nil
	})
	if err != nil {
		return fail(err)
	}

	err = trackPhase(PhaseReasoning, func() (*model.PhaseResult, error) {
		if p.reasoner == nil || !p.cfg.Reasoning {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		reasoned, failed, err := p.reason(ctx, result.Rules.Inclusion, result.Patients)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{
			Metadata: map[string]any{"reasoned": reasoned, "fallbacks": failed},
		}, nil
	})
	if err != nil {
		return fail(err)
	}

	result.Summary = Summarize(result.Patients)
	log.Info("pipeline: run complete",
		zap.Int("total", result.Summary.Total),
		zap.Int("eligible", result.Summary.Eligible),
		zap.Int("ineligible", result.Summary.Ineligible),
		zap.Int("excluded", result.Summary.Excluded),
		zap.Int("not_reasoned", result.Summary.NotReasoned),
	)

	if st != nil {
		if err := st.CompleteRun(ctx, runID, result); err != nil {
			return nil, eris.Wrap(err, "pipeline: complete run")
		}
	}
	return result, nil
}

// Screen normalizes every patient and evaluates it against the canonical
// form of rs. The returned slice keeps input order. Screen neither reasons
// nor persists.
func (p *Pipeline) Screen(ctx context.Context, rs model.TrialRuleSet, patients []model.RawPatient) ([]model.PatientResult, error) {
	rs = rules.Canonical(rs)
	out := make([]model.PatientResult, len(patients))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())
	for i, raw := range patients {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			np := p.normalizer.Normalize(raw)
			verdict := exclusion.Evaluate(np, rs)
			if verdict.Excluded {
				zap.L().Info("exclusion: patient excluded",
					zap.String("patient_id", np.ID),
					zap.Strings("reasons", verdict.Reasons),
				)
			}
			out[i] = model.PatientResult{Patient: np, Verdict: verdict}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: screen patients")
	}
	return out, nil
}

// reason fills Eligibility for every patient that passed exclusion. A failed
// call yields the fallback result; only cancellation aborts the phase.
func (p *Pipeline) reason(ctx context.Context, inclusion model.InclusionRules, results []model.PatientResult) (reasoned, failed int, err error) {
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())
	for i := range results {
		if results[i].Verdict.Excluded {
			continue
		}
		g.Go(func() error {
			np := results[i].Patient
			res, rerr := p.reasoner.Reason(gCtx, np, inclusion)
			if rerr != nil {
				if cerr := gCtx.Err(); cerr != nil {
					return cerr
				}
				zap.L().Warn("reasoning: failed, using fallback",
					zap.String("patient_id", np.ID),
					zap.Error(rerr),
				)
				res = reasoning.Fallback(rerr)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			results[i].Eligibility = res
			mu.Lock()
			reasoned++
			mu.Unlock()
			return nil
		})
	}
	if werr := g.Wait(); werr != nil {
		return reasoned, failed, eris.Wrap(werr, "pipeline: reason inclusion")
	}
	return reasoned, failed, nil
}

func (p *Pipeline) concurrency() int {
	if p.cfg.Concurrency < 1 {
		return 1
	}
	return p.cfg.Concurrency
}

// Summarize tallies a run's patient results.
func Summarize(results []model.PatientResult) model.RunSummary {
	s := model.RunSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status() {
		case model.StatusExcludedHard:
			s.Excluded++
		case model.StatusNotReasoned:
			s.NotReasoned++
		case model.StatusEligible:
			s.Eligible++
		default:
			s.Ineligible++
		}
	}
	return s
}
