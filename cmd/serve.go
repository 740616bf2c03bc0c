package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/eligibility-cli/internal/model"
	"github.com/sells-group/eligibility-cli/internal/pipeline"
	"github.com/sells-group/eligibility-cli/internal/rules"
	"github.com/sells-group/eligibility-cli/internal/store"
)

const maxRequestBytes = 10 << 20

var (
	servePort        int
	serveOffline     bool
	serveNoReasoning bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the eligibility HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		env, err := initPipeline(ctx, cfg, pipelineOptions{
			Offline:     serveOffline,
			NoReasoning: serveNoReasoning,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.WithoutCancel(ctx))
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "use the stub reasoner and no LLM calls")
	serveCmd.Flags().BoolVar(&serveNoReasoning, "no-reasoning", false, "skip inclusion reasoning")
	rootCmd.AddCommand(serveCmd)
}

// evaluateRequest is the body of POST /v1/evaluate. When Rules is set the
// patients are only screened against it; otherwise Fragments are aggregated
// and a full run is executed.
type evaluateRequest struct {
	Rules     *model.TrialRuleSet     `json:"rules,omitempty"`
	Fragments []model.RawRuleFragment `json:"fragments,omitempty"`
	Patients  []model.RawPatient      `json:"patients"`
}

type evaluateResponse struct {
	RunID    string                    `json:"run_id,omitempty"`
	Rules    model.TrialRuleSet        `json:"trial_rules"`
	Patients []model.PatientResult     `json:"patients"`
	Details  []model.EligibilityDetail `json:"details"`
	Summary  model.RunSummary          `json:"summary"`
}

// buildRouter wires the HTTP API over env.
func buildRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", handleEvaluate(env))
		r.Get("/runs", handleListRuns(env))
		r.Get("/runs/{id}", handleGetRun(env))
		r.Get("/runs/{id}/patients", handleListOutcomes(env))
	})
	return r
}

func handleEvaluate(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Rules != nil {
			rs := rules.Canonical(*req.Rules)
			results, err := env.Pipeline.Screen(r.Context(), rs, req.Patients)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, evaluateResponse{
				Rules:    rs,
				Patients: results,
				Details:  pipeline.BuildDetails(results),
				Summary:  pipeline.Summarize(results),
			})
			return
		}

		result, err := env.Pipeline.Run(r.Context(), req.Fragments, req.Patients)
		if err != nil {
			zap.L().Error("evaluate request failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, evaluateResponse{
			RunID:    result.RunID,
			Rules:    result.Rules,
			Patients: result.Patients,
			Details:  pipeline.BuildDetails(result.Patients),
			Summary:  result.Summary,
		})
	}
}

func handleListRuns(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "run store disabled")
			return
		}
		q := r.URL.Query()
		filter := store.RunFilter{
			Status:  model.RunStatus(q.Get("status")),
			TrialID: q.Get("trial_id"),
		}
		var err error
		if filter.Limit, filter.Offset, err = pageParams(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		runs, err := env.Store.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "run store disabled")
			return
		}
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleListOutcomes(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "run store disabled")
			return
		}
		q := r.URL.Query()
		var filter store.OutcomeFilter
		if v := q.Get("status"); v != "" {
			status, ok := model.ParseStatus(v)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", v))
				return
			}
			filter.Status = status
		}
		var err error
		if filter.Limit, filter.Offset, err = pageParams(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		runID := chi.URLParam(r, "id")
		if _, err := env.Store.GetRun(r.Context(), runID); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		outcomes, err := env.Store.ListOutcomes(r.Context(), runID, filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if outcomes == nil {
			outcomes = []model.PatientOutcome{}
		}
		writeJSON(w, http.StatusOK, outcomes)
	}
}

// pageParams reads optional non-negative limit and offset query values.
func pageParams(q url.Values) (limit, offset int, err error) {
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, eris.Errorf("%s must be a non-negative integer", p.name)
		}
		*p.dst = n
	}
	return limit, offset, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
