// Read-only REST handlers over optimizer state: metrics ring stats, a
// date's durable metrics, budget status, and A/B experiment results.
// Mirrors the gateway's routing-rule REST handler shape, minus any mutation
// endpoints — every one of these reads state the pipeline already records.

package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/evansantos/slimclaw/config"
	"github.com/evansantos/slimclaw/optimizer"
)

// Introspection serves the read-only /v1/optimizer/* and /v1/models
// endpoints over already-recorded pipeline state.
type Introspection struct {
	cfg      *config.Config
	metrics  *optimizer.MetricsCollector
	reporter *optimizer.JSONLReporter
	budget   *optimizer.BudgetTracker
	abtest   *optimizer.ABTestManager
	log      zerolog.Logger
}

// NewIntrospection constructs the introspection handlers. Any component
// may be nil when its feature is disabled; the corresponding endpoint
// then reports an empty result rather than panicking.
func NewIntrospection(cfg *config.Config, metrics *optimizer.MetricsCollector, reporter *optimizer.JSONLReporter, budget *optimizer.BudgetTracker, abtest *optimizer.ABTestManager, log zerolog.Logger) *Introspection {
	return &Introspection{cfg: cfg, metrics: metrics, reporter: reporter, budget: budget, abtest: abtest, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Stats handles GET /v1/optimizer/stats.
func (h *Introspection) Stats(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusOK, optimizer.CollectorStats{})
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.GetStats())
}

// MetricsForDate handles GET /v1/optimizer/metrics/{date}.
func (h *Introspection) MetricsForDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if h.reporter == nil {
		writeJSON(w, http.StatusOK, []optimizer.OptimizerMetrics{})
		return
	}
	writeJSON(w, http.StatusOK, h.reporter.ReadMetricsForDate(date))
}

// Budget handles GET /v1/optimizer/budget.
func (h *Introspection) Budget(w http.ResponseWriter, r *http.Request) {
	if h.budget == nil {
		writeJSON(w, http.StatusOK, map[string]optimizer.BudgetState{})
		return
	}
	writeJSON(w, http.StatusOK, h.budget.GetStatus())
}

// Experiments handles GET /v1/optimizer/experiments, listing every
// configured experiment's id alongside its current results.
func (h *Introspection) Experiments(w http.ResponseWriter, r *http.Request) {
	out := make([]optimizer.ExperimentResults, 0, len(h.cfg.Routing.ABTesting.Experiments))
	for _, exp := range h.cfg.Routing.ABTesting.Experiments {
		if h.abtest == nil {
			continue
		}
		if results, ok := h.abtest.GetResults(exp.ID); ok {
			out = append(out, results)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Experiment handles GET /v1/optimizer/experiments/{id}.
func (h *Introspection) Experiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.abtest == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "experiment not found"})
		return
	}
	results, ok := h.abtest.GetResults(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "experiment not found"})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Models handles GET /v1/models, advertising the model configured for
// each routing tier, in lieu of a live provider registry. Tiers with no
// configured model are left out of the list.
func (h *Introspection) Models(w http.ResponseWriter, r *http.Request) {
	data := make([]map[string]interface{}, 0, len(tierDefaultModels))
	for _, tier := range tierDefaultModels {
		model, ok := h.cfg.Routing.Tiers.ForTier(string(tier))
		if !ok {
			continue
		}
		data = append(data, map[string]interface{}{
			"id":     model,
			"object": "model",
			"tier":   string(tier),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}
