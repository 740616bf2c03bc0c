package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/config"
	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/model"
	"github.com/sells-group/eligibility-cli/internal/ocr"
	"github.com/sells-group/eligibility-cli/internal/patient"
	"github.com/sells-group/eligibility-cli/internal/pipeline"
	"github.com/sells-group/eligibility-cli/internal/reasoning"
	"github.com/sells-group/eligibility-cli/internal/resilience"
	"github.com/sells-group/eligibility-cli/internal/rules"
	"github.com/sells-group/eligibility-cli/internal/store"
	anthropicpkg "github.com/sells-group/eligibility-cli/pkg/anthropic"
)

// pipelineOptions selects which collaborators initPipeline wires.
type pipelineOptions struct {
	Offline     bool
	Extract     bool // rule fragments come from LLM extraction
	NoReasoning bool
	NoStore     bool
}

// pipelineEnv holds the initialized store, grounder and pipeline needed by
// the run, evaluate and serve commands.
type pipelineEnv struct {
	Store    store.Store // nil when persistence is disabled
	Grounder grounding.Grounder
	Pipeline *pipeline.Pipeline
	Client   anthropicpkg.Client // nil offline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates configuration for the requested options, opens the
// store and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, c *config.Config, opts pipelineOptions) (*pipelineEnv, error) {
	reason := c.Pipeline.Reasoning && !opts.NoReasoning
	needsLLM := !opts.Offline && (opts.Extract || reason)

	mode := "offline"
	switch {
	case needsLLM && reason:
		mode = "reason"
	case needsLLM:
		mode = "extract"
	}
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	env := &pipelineEnv{Grounder: grounding.New(c.Grounding)}
	if needsLLM {
		env.Client = newAnthropicClient(c)
	}

	if !opts.NoStore {
		st, err := store.New(ctx, c.Store)
		if err != nil {
			return nil, eris.Wrap(err, "init store")
		}
		env.Store = st
	}

	var reasoner reasoning.Reasoner
	switch {
	case !reason:
	case opts.Offline:
		reasoner = &reasoning.StubReasoner{}
		zap.L().Info("offline mode, using stub reasoner")
	default:
		reasoner = reasoning.NewClaudeReasoner(env.Client, reasoning.Config{
			Model:     c.Anthropic.Model,
			MaxTokens: 1024,
			Retry:     resilience.DefaultRetryConfig(),
		})
	}

	pcfg := c.Pipeline
	pcfg.Reasoning = reasoner != nil
	env.Pipeline = pipeline.New(pcfg, env.Grounder, reasoner, env.Store)
	return env, nil
}

func newAnthropicClient(c *config.Config) anthropicpkg.Client {
	return anthropicpkg.NewClient(c.Anthropic.Key,
		anthropicpkg.WithRequestsPerMinute(c.Anthropic.RequestsPerMinute),
	)
}

// loadFragments reads raw rule fragments from a JSON file when one is
// given, otherwise extracts them from the trial documents in dir.
func loadFragments(ctx context.Context, c *config.Config, fragmentsFile, dir string, client anthropicpkg.Client) ([]model.RawRuleFragment, error) {
	if fragmentsFile != "" {
		var fragments []model.RawRuleFragment
		if err := readJSONFile(fragmentsFile, &fragments); err != nil {
			return nil, err
		}
		return fragments, nil
	}
	if client == nil {
		return nil, eris.New("rule extraction needs --fragments or an Anthropic key")
	}

	docs, err := rules.LoadDocuments(ctx, dir, c.Pipeline.DocumentWindowChars, ocr.NewExtractor(c.OCR))
	if err != nil {
		return nil, eris.Wrap(err, "load documents")
	}
	if len(docs) == 0 {
		zap.L().Warn("rules: no trial documents found", zap.String("dir", dir))
		return nil, nil
	}

	extractor := rules.NewExtractor(client, rules.ExtractorConfig{
		Model:       c.Anthropic.Model,
		MaxTokens:   c.Anthropic.MaxTokens,
		Concurrency: c.Pipeline.Concurrency,
		Retry:       resilience.DefaultRetryConfig(),
	})
	return extractor.ExtractAll(ctx, docs)
}

// loadPatients reads raw patients from a JSON file when one is given,
// otherwise ingests the CSV tables in dir.
func loadPatients(ctx context.Context, patientsFile, dir string) ([]model.RawPatient, error) {
	if patientsFile != "" {
		var patients []model.RawPatient
		if err := readJSONFile(patientsFile, &patients); err != nil {
			return nil, err
		}
		return patients, nil
	}
	patients, err := patient.IngestDir(ctx, dir, time.Now())
	if err != nil {
		return nil, eris.Wrap(err, "ingest patients")
	}
	return patients, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "parse %s", path)
	}
	return nil
}
