package rules

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/eligibility-cli/internal/llmjson"
	"github.com/sells-group/eligibility-cli/internal/model"
	"github.com/sells-group/eligibility-cli/internal/resilience"
	"github.com/sells-group/eligibility-cli/pkg/anthropic"
)

const extractionPrompt = `Extract structured Clinical Trial Eligibility Criteria.
ONLY use information explicitly stated in the TEXT.
IF INFO IS MISSING, use null or [].

REQUIRED JSON STRUCTURE:
{
  "inclusion": {
    "age": { "min": int, "max": int, "quote": "source text" },
    "gender": { "value": "male/female/any", "quote": "source text" },
    "weight": { "min": float, "max": float, "quote": "source text" },
    "diagnoses": [ { "name": "string", "quote": "source text" } ],
    "labs": [ { "name": "string", "min": float, "max": float, "unit": "string", "quote": "source text" } ]
  },
  "exclusion": {
    "diagnoses": [ { "name": "string", "quote": "source text" } ],
    "medications": [ { "name": "string", "quote": "source text" } ],
    "labs": [ { "name": "string", "min": float, "max": float, "unit": "string", "quote": "source text" } ]
  }
}

Respond with the JSON object only.

TEXT:
%s`

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	Model       string
	MaxTokens   int64
	Concurrency int
	Retry       resilience.RetryConfig
}

// Extractor turns trial documents into raw rule fragments with a language
// model.
type Extractor struct {
	client anthropic.Client
	cfg    ExtractorConfig
}

// NewExtractor creates an Extractor.
func NewExtractor(client anthropic.Client, cfg ExtractorConfig) *Extractor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "extract_rules")
	}
	return &Extractor{client: client, cfg: cfg}
}

// ExtractAll extracts a fragment from each document concurrently. Fragments
// come back in document order. A document whose extraction fails is logged
// and left out; only context cancellation fails the call.
func (e *Extractor) ExtractAll(ctx context.Context, docs []Document) ([]model.RawRuleFragment, error) {
	results := make([]*model.RawRuleFragment, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			frag, err := e.Extract(gctx, doc)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Error("rules: extraction failed",
					zap.String("file", doc.Name),
					zap.Error(err),
				)
				return nil
			}
			results[i] = frag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "rules: extract all")
	}

	fragments := make([]model.RawRuleFragment, 0, len(docs))
	for _, f := range results {
		if f != nil {
			fragments = append(fragments, *f)
		}
	}
	zap.L().Info("rules: extraction complete",
		zap.Int("documents", len(docs)),
		zap.Int("fragments", len(fragments)),
	)
	return fragments, nil
}

// Extract asks the model for the rule fragment stated in one document.
func (e *Extractor) Extract(ctx context.Context, doc Document) (*model.RawRuleFragment, error) {
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: fmt.Sprintf(extractionPrompt, doc.Text)}},
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, e.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "rules: extract %s", doc.Name)
	}
	resp.Usage.LogCost(e.cfg.Model, "extract_rules")

	frag, err := ParseFragment(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", doc.Name)
	}
	frag.Source = doc.Name
	return frag, nil
}

// ParseFragment decodes a model response into a RawRuleFragment.
func ParseFragment(text string) (*model.RawRuleFragment, error) {
	var frag model.RawRuleFragment
	if err := llmjson.Unmarshal(text, &frag); err != nil {
		return nil, err
	}
	return &frag, nil
}
