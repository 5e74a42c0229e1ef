// Package sim implements the deterministic macro-simulation engine.
//
// Compute is a pure function over a validated ParameterSet: it never
// touches storage, never blocks, and concurrent calls with different
// inputs are fully independent. The closed-form multiplier, venture
// formation, New-Keynesian price band, and optional Markov tier-transition
// sub-models each contribute one fragment of the SimulationResult.
//
// Internal math uses float64 throughout: multipliers, probabilities, and
// inflation bands are dimensionless rates, not ledger money. Monetary
// ledger values elsewhere in the engine use shopspring/decimal.
package sim

import (
	"github.com/arcboost/stimulus-engine/internal/params"
)

// VentureResult is the venture-formation fragment: per-tier liquidity
// density, formation probability, venture count, and the total V.
type VentureResult struct {
	D     []float64 `json:"D_i"`
	Pv    []float64 `json:"Pv_i"`
	V     []float64 `json:"V_i"`
	Total float64   `json:"V"`
}

// NKResult is the New-Keynesian inflation-impact band, dPiLow ≤ dPiHigh.
type NKResult struct {
	DPiLow  float64 `json:"dPi_low"`
	DPiHigh float64 `json:"dPi_high"`
}

// MarkovResult is the optional tier-transition fragment. A consumer
// checks Result.Markov against nil to handle "markov absent" explicitly.
type MarkovResult struct {
	AVAT  float64 `json:"aVAT"`
	ALeak float64 `json:"aLEAK"`
	KEff  float64 `json:"k_eff"`
}

// Result is the complete engine output. Derived, never persisted; fully
// determined by the ParameterSet.
type Result struct {
	K       float64       `json:"k"`
	KI      []float64     `json:"k_i"`
	DeltaM  float64       `json:"deltaM"`
	VAT     float64       `json:"vat"`
	Venture VentureResult `json:"venture"`
	NK      NKResult      `json:"nk"`
	Markov  *MarkovResult `json:"markov,omitempty"`
}

// Compute runs all sub-models against p. Malformed input is rejected
// before any computation with a ValidationError naming the offending
// field; given a valid input the result is total — no NaNs, no partial
// fragments.
func Compute(p *params.ParameterSet) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cf := computeClosedForm(p)

	res := &Result{
		K:       cf.k,
		KI:      cf.ki,
		DeltaM:  cf.deltaM,
		VAT:     cf.vat,
		Venture: computeVenture(p, cf),
		NK:      computeNK(p),
	}

	if p.Markov.Use {
		mk, err := computeMarkov(p)
		if err != nil {
			return nil, err
		}
		res.Markov = mk
	}

	return res, nil
}
