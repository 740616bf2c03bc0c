package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/eligibility-cli/internal/model"
	"github.com/sells-group/eligibility-cli/internal/pipeline"
	"github.com/sells-group/eligibility-cli/internal/rules"
)

var (
	evalRules       string
	evalPatients    string
	evalPatientsDir string
	evalOutput      string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Screen patients against an aggregated rule set",
	Long:  "Runs normalization and the deterministic exclusion checks only. No language model is called and nothing is persisted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var rs model.TrialRuleSet
		if err := readJSONFile(evalRules, &rs); err != nil {
			return err
		}
		rs = rules.Canonical(rs)
		patients, err := loadPatients(ctx, evalPatients, valueOr(evalPatientsDir, cfg.Data.PatientsDir))
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, cfg, pipelineOptions{Offline: true, NoReasoning: true, NoStore: true})
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Pipeline.Screen(ctx, rs, patients)
		if err != nil {
			return err
		}

		if evalOutput != "" {
			return pipeline.WriteJSON(evalOutput, results)
		}
		return writeIndented(cmd.OutOrStdout(), results)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalRules, "rules", "", "trial_rules.json produced by the rules or run command")
	evaluateCmd.Flags().StringVar(&evalPatients, "patients", "", "JSON file of raw patients (skips CSV ingestion)")
	evaluateCmd.Flags().StringVar(&evalPatientsDir, "patients-dir", "", "directory of patient CSV tables (default from config)")
	evaluateCmd.Flags().StringVar(&evalOutput, "output", "", "write verdicts to this file instead of stdout")
	_ = evaluateCmd.MarkFlagRequired("rules")
	rootCmd.AddCommand(evaluateCmd)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}
