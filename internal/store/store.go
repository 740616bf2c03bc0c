package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/eligibility-cli/internal/config"
	"github.com/sells-group/eligibility-cli/internal/model"
)

// ErrNotFound is returned (wrapped) when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	TrialID string          `json:"trial_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// OutcomeFilter narrows the patient outcomes of one run.
type OutcomeFilter struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for eligibility runs.
//
// CompleteRun stores the full result and replaces the run's patient
// outcomes in one transaction, so ListOutcomes never observes a partial
// cohort.
type Store interface {
	CreateRun(ctx context.Context, trialID string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	ListOutcomes(ctx context.Context, runID string, filter OutcomeFilter) ([]model.PatientOutcome, error)

	Migrate(ctx context.Context) error
	Close() error
}

// New opens the backend named by cfg.Driver and applies migrations.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// outcomes flattens a result into the rows persisted for runID.
func outcomes(runID string, result *model.RunResult) []model.PatientOutcome {
	if result == nil {
		return nil
	}
	out := make([]model.PatientOutcome, 0, len(result.Patients))
	for _, p := range result.Patients {
		out = append(out, p.Outcome(runID))
	}
	return out
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

func nonNil(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return reasons
}

func decodeReasons(data []byte, o *model.PatientOutcome) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &o.Reasons); err != nil {
		return eris.Wrapf(err, "store: decode reasons for patient %s", o.PatientID)
	}
	if len(o.Reasons) == 0 {
		o.Reasons = nil
	}
	return nil
}
