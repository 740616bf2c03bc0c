package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/grounding"
	"github.com/sells-group/eligibility-cli/internal/pipeline"
	"github.com/sells-group/eligibility-cli/internal/rules"
	anthropicpkg "github.com/sells-group/eligibility-cli/pkg/anthropic"
)

var (
	rulesFragments string
	rulesDocuments string
	rulesOutput    string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Build the aggregated trial rule set",
	Long:  "Extracts (or loads) rule fragments and writes the merged trial_rules.json without screening any patients.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		extract := rulesFragments == ""
		mode := "offline"
		if extract {
			mode = "extract"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		var client anthropicpkg.Client
		if extract {
			client = newAnthropicClient(cfg)
		}
		fragments, err := loadFragments(ctx, cfg, rulesFragments, valueOr(rulesDocuments, cfg.Data.DocumentsDir), client)
		if err != nil {
			return err
		}

		rs := rules.Aggregate(cfg.Pipeline.TrialID, grounding.New(cfg.Grounding), fragments)
		path := filepath.Join(valueOr(rulesOutput, cfg.Data.OutputDir), pipeline.TrialRulesFile)
		if err := pipeline.WriteJSON(path, rs); err != nil {
			return err
		}
		zap.L().Info("rules: trial rules written",
			zap.String("path", path),
			zap.Int("fragments", len(fragments)),
		)
		return nil
	},
}

func init() {
	rulesCmd.Flags().StringVar(&rulesFragments, "fragments", "", "JSON file of raw rule fragments (skips LLM extraction)")
	rulesCmd.Flags().StringVar(&rulesDocuments, "documents", "", "directory of trial documents (default from config)")
	rulesCmd.Flags().StringVar(&rulesOutput, "output", "", "output directory (default from config)")
	rootCmd.AddCommand(rulesCmd)
}
