// Package reasoning asks a language model whether a patient that passed
// every exclusion check meets the trial's inclusion criteria.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/llmjson"
	"github.com/sells-group/eligibility-cli/internal/model"
	"github.com/sells-group/eligibility-cli/internal/resilience"
	"github.com/sells-group/eligibility-cli/pkg/anthropic"
)

// Reasoner judges inclusion for a patient that was not excluded.
type Reasoner interface {
	Reason(ctx context.Context, p model.NormalizedPatient, inclusion model.InclusionRules) (*model.EligibilityResult, error)
}

const systemPrompt = "You are a clinical trial eligibility reasoning agent."

const userPrompt = `Determine if the patient strictly meets the INCLUSION criteria.
Exclusion criteria have already been passed.

INPUT DATA:
%s

INSTRUCTIONS:
1. Compare patient data against inclusion criteria.
2. Rule: If data is missing for inclusion, mark as Eligible (true) but note it in reasoning.
3. Assign a confidence score (0.0 - 1.0).
4. Provide step-by-step reasoning.

OUTPUT VALID JSON ONLY:
{
  "eligible": boolean,
  "confidence": float,
  "reasoning": ["point 1", "point 2"],
  "summary": "Short summary string"
}`

type promptPatient struct {
	Age         *int               `json:"age"`
	Gender      model.Gender       `json:"gender"`
	Weight      *float64           `json:"weight"`
	Diagnoses   []string           `json:"diagnoses"`
	Labs        map[string]float64 `json:"labs"`
	Medications []string           `json:"medications"`
}

type promptInput struct {
	Patient   promptPatient        `json:"patient_data"`
	Inclusion model.InclusionRules `json:"inclusion_criteria"`
}

// Config configures a ClaudeReasoner.
type Config struct {
	Model     string
	MaxTokens int64
	Retry     resilience.RetryConfig

	// BreakerThreshold consecutive failures stop further calls for
	// BreakerReset. Zero values use the resilience defaults.
	BreakerThreshold int
	BreakerReset     time.Duration
}

// ClaudeReasoner implements Reasoner over the Anthropic Messages API.
type ClaudeReasoner struct {
	client  anthropic.Client
	cfg     Config
	breaker *resilience.Breaker
}

// NewClaudeReasoner creates a ClaudeReasoner. It is safe for concurrent use.
func NewClaudeReasoner(client anthropic.Client, cfg Config) *ClaudeReasoner {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "reason_inclusion")
	}
	return &ClaudeReasoner{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewBreaker("reasoning", cfg.BreakerThreshold, cfg.BreakerReset),
	}
}

// Reason implements Reasoner.
func (r *ClaudeReasoner) Reason(ctx context.Context, p model.NormalizedPatient, inclusion model.InclusionRules) (*model.EligibilityResult, error) {
	input, err := json.MarshalIndent(promptInput{
		Patient: promptPatient{
			Age:         p.Age,
			Gender:      p.Gender,
			Weight:      p.Weight,
			Diagnoses:   p.Diagnoses,
			Labs:        p.Labs,
			Medications: p.Medications,
		},
		Inclusion: inclusion,
	}, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "reasoning: marshal prompt input")
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: fmt.Sprintf(userPrompt, input)}},
		Temperature: &temp,
	}

	resp, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, r.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return r.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reasoning: patient %s", p.ID)
	}
	resp.Usage.LogCost(r.cfg.Model, "reason_inclusion")

	result, err := ParseResult(resp.Text())
	if err != nil {
		zap.L().Debug("reasoning: unparseable response",
			zap.String("patient_id", p.ID),
			zap.String("response", resp.Text()),
		)
		return nil, eris.Wrapf(err, "reasoning: patient %s", p.ID)
	}
	return result, nil
}

type rawResult struct {
	Eligible   *bool    `json:"eligible"`
	Confidence *float64 `json:"confidence"`
	Reasoning  []string `json:"reasoning"`
	Summary    *string  `json:"summary"`
}

// ParseResult decodes a model response. All four fields must be present;
// confidence is clamped to [0, 1].
func ParseResult(text string) (*model.EligibilityResult, error) {
	var raw rawResult
	if err := llmjson.Unmarshal(text, &raw); err != nil {
		return nil, err
	}

	var missing []string
	if raw.Eligible == nil {
		missing = append(missing, "eligible")
	}
	if raw.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if raw.Reasoning == nil {
		missing = append(missing, "reasoning")
	}
	if raw.Summary == nil {
		missing = append(missing, "summary")
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("reasoning: response missing fields %v", missing)
	}

	return &model.EligibilityResult{
		Eligible:   *raw.Eligible,
		Confidence: clamp(*raw.Confidence),
		Reasoning:  raw.Reasoning,
		Summary:    *raw.Summary,
	}, nil
}

// Fallback is the result recorded when reasoning fails for a patient.
func Fallback(err error) *model.EligibilityResult {
	return &model.EligibilityResult{
		Eligible:   false,
		Confidence: 0,
		Reasoning:  []string{"LLM processing failed: " + err.Error()},
		Summary:    "Error during reasoning stage.",
	}
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
