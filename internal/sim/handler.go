package sim

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/arcboost/stimulus-engine/internal/metrics"
	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/params"
)

// HandleRun handles POST /api/sim/run. The body is a ParameterSet payload;
// the response is the full SimulationResult. Nothing is persisted.
func HandleRun(w http.ResponseWriter, r *http.Request) {
	var p params.ParameterSet
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := Compute(&p)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeError(w, verr.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.SimDuration.Observe(time.Since(start).Seconds())
	metrics.SimRunsTotal.WithLabelValues(strconv.FormatBool(p.Markov.Use)).Inc()

	slog.Info("simulation computed",
		"tiers", p.Tiers(),
		"k", res.K,
		"deltaM", res.DeltaM,
		"markov", p.Markov.Use,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
