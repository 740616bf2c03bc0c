package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/pipeline"
)

var (
	runFragments   string
	runDocuments   string
	runPatients    string
	runPatientsDir string
	runOutput      string
	runTrialID     string
	runOffline     bool
	runNoReasoning bool
	runNoStore     bool
	runXLSX        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full eligibility pipeline",
	Long:  "Builds the trial rule set, screens every patient, reasons about inclusion for the patients that pass exclusion and writes the reports.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runOffline && runFragments == "" {
			return eris.New("--offline requires --fragments")
		}
		if runTrialID != "" {
			cfg.Pipeline.TrialID = runTrialID
		}

		env, err := initPipeline(ctx, cfg, pipelineOptions{
			Offline:     runOffline,
			Extract:     runFragments == "",
			NoReasoning: runNoReasoning,
			NoStore:     runNoStore,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		fragments, err := loadFragments(ctx, cfg, runFragments, valueOr(runDocuments, cfg.Data.DocumentsDir), env.Client)
		if err != nil {
			return err
		}
		patients, err := loadPatients(ctx, runPatients, valueOr(runPatientsDir, cfg.Data.PatientsDir))
		if err != nil {
			return err
		}

		result, err := env.Pipeline.Run(ctx, fragments, patients)
		if err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		outDir := valueOr(runOutput, cfg.Data.OutputDir)
		paths, err := pipeline.WriteOutputs(outDir, patients, result, runXLSX)
		if err != nil {
			return err
		}
		zap.L().Info("reports written",
			zap.String("run_id", result.RunID),
			zap.Strings("files", paths),
		)

		pipeline.PrintSummary(cmd.OutOrStdout(), result.Summary, pipeline.BuildDetails(result.Patients))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFragments, "fragments", "", "JSON file of raw rule fragments (skips LLM extraction)")
	runCmd.Flags().StringVar(&runDocuments, "documents", "", "directory of trial documents (default from config)")
	runCmd.Flags().StringVar(&runPatients, "patients", "", "JSON file of raw patients (skips CSV ingestion)")
	runCmd.Flags().StringVar(&runPatientsDir, "patients-dir", "", "directory of patient CSV tables (default from config)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output directory (default from config)")
	runCmd.Flags().StringVar(&runTrialID, "trial-id", "", "trial identifier recorded on the rule set")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "use the stub reasoner and no LLM calls")
	runCmd.Flags().BoolVar(&runNoReasoning, "no-reasoning", false, "skip inclusion reasoning")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "do not persist the run")
	runCmd.Flags().BoolVar(&runXLSX, "xlsx", false, "also write an XLSX eligibility report")
	rootCmd.AddCommand(runCmd)
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
