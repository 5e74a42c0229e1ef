// Package preset supplies the static catalog of named parameter sets the
// dashboard offers as starting scenarios. The engine only ever consumes a
// preset's params payload, never its name.
package preset

import (
	"encoding/json"
	"net/http"

	"github.com/arcboost/stimulus-engine/internal/params"
)

// Preset is a named, pre-filled ParameterSet.
type Preset struct {
	Name   string              `json:"name"`
	Params params.ParameterSet `json:"params"`
}

// Catalog returns the built-in scenario presets.
func Catalog() []Preset {
	return []Preset{
		{
			Name: "Baseline (open)",
			Params: params.ParameterSet{
				L:      []float64{0.7, 0.7, 0.7},
				Omega:  []float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
				Lambda: 0.8,
				Tau:    0.07,
				G:      300_000_000_000,
			},
		},
		{
			Name: "Tiered boost",
			Params: params.ParameterSet{
				L:      []float64{0.0, 0.5, 0.7},
				Omega:  []float64{0.3, 0.5, 0.2},
				Lambda: 0.8,
				Tau:    0.07,
				G:      300_000_000_000,
			},
		},
		{
			Name: "Optimized regional",
			Params: params.ParameterSet{
				L:      []float64{0.3, 0.3, 0.3},
				Omega:  []float64{0.4, 0.4, 0.2},
				Lambda: 0.8,
				Tau:    0.07,
				G:      300_000_000_000,
			},
		},
	}
}

// HandleList handles GET /api/sim/presets.
func HandleList(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]Preset{"presets": Catalog()})
}
