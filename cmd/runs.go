package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/eligibility-cli/internal/model"
	"github.com/sells-group/eligibility-cli/internal/pipeline"
	"github.com/sells-group/eligibility-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted eligibility runs",
}

// openStore opens the configured run store for a read-only command.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return store.New(ctx, cfg.Store)
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var filter store.RunFilter
		status, _ := cmd.Flags().GetString("status")
		filter.Status = model.RunStatus(status)
		filter.TrialID, _ = cmd.Flags().GetString("trial")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(cmd.Context(), filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the report of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrapf(err, "runs show %s", args[0])
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndented(cmd.OutOrStdout(), run)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), pipeline.FormatReport(run))
		return err
	},
}

var runsPatientsCmd = &cobra.Command{
	Use:   "patients <run-id>",
	Short: "List per-patient outcomes of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter store.OutcomeFilter
		if v, _ := cmd.Flags().GetString("status"); v != "" {
			status, ok := model.ParseStatus(v)
			if !ok {
				return eris.Errorf("runs patients: unknown status %q (want eligible, ineligible, excluded or not_reasoned)", v)
			}
			filter.Status = status
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetRun(cmd.Context(), args[0]); err != nil {
			return eris.Wrapf(err, "runs patients %s", args[0])
		}
		outcomes, err := st.ListOutcomes(cmd.Context(), args[0], filter)
		if err != nil {
			return eris.Wrapf(err, "runs patients %s", args[0])
		}
		if len(outcomes) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No matching patients.")
			return nil
		}
		formatOutcomes(cmd.OutOrStdout(), outcomes)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().String("trial", "", "filter by trial id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("json", false, "print the stored run as JSON")

	runsPatientsCmd.Flags().String("status", "", "filter by outcome (eligible, ineligible, excluded, not_reasoned)")
	runsPatientsCmd.Flags().Int("limit", 0, "max number of patients to display (default 100)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsPatientsCmd)
	rootCmd.AddCommand(runsCmd)
}

func formatRunsList(out io.Writer, runs []model.Run) {
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Run", "Trial", "Status", "Patients", "Eligible", "Excluded", "Started", "Took"})
	for _, r := range runs {
		row := []string{shortID(r.ID), r.TrialID, string(r.Status), "", "", ""}
		if res := r.Result; res != nil {
			row[3] = strconv.Itoa(res.Summary.Total)
			row[4] = strconv.Itoa(res.Summary.Eligible)
			row[5] = strconv.Itoa(res.Summary.Excluded)
		}
		row = append(row,
			r.CreatedAt.Format(time.DateTime),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String(),
		)
		tw.Append(row)
	}
	tw.Render()
}

func formatOutcomes(out io.Writer, outcomes []model.PatientOutcome) {
	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Patient", "Status", "Confidence", "Reasons"})
	tw.SetAutoWrapText(false)
	for _, o := range outcomes {
		conf := ""
		if o.Confidence != nil {
			conf = strconv.FormatFloat(*o.Confidence, 'f', 2, 64)
		}
		tw.Append([]string{o.PatientID, o.Status, conf, strings.Join(o.Reasons, "; ")})
	}
	tw.Render()
}

// shortID keeps the first block of a UUID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
