// Package params defines the validated input to the simulation engine.
//
// A ParameterSet describes one fiscal-stimulus scenario: per-tier leakage
// and spending weights, the re-spend propensity, VAT rate, and total
// injection, plus the venture-formation, New-Keynesian, and optional
// Markov sub-model inputs. It is immutable once handed to the engine;
// Validate rejects malformed input with a ValidationError naming the
// offending field, so the engine itself is total.
package params

import (
	"fmt"
	"math"

	"github.com/arcboost/stimulus-engine/internal/model"
)

// Tolerance for distribution sums (omega, markov rows, s0).
const distTolerance = 1e-6

// VentureParams are the policy-intensity coefficients of the venture
// formation sub-model.
type VentureParams struct {
	Alpha0             float64 `json:"alpha0"`
	Alpha1             float64 `json:"alpha1"`
	Alpha2             float64 `json:"alpha2"`
	ParticipantsActive float64 `json:"participants_active"`
}

// NKParams feed the New-Keynesian Phillips-curve price impact sketch.
type NKParams struct {
	X     float64 `json:"x"`     // output-gap proxy
	Kappa float64 `json:"kappa"` // price-stickiness slope
}

// MarkovParams configure the optional tier-transition sub-model.
// Pi routes circulating funds between tiers; Ell is per-state leakage;
// S0 is the initial distribution over tiers.
type MarkovParams struct {
	Use bool        `json:"use"`
	Pi  [][]float64 `json:"pi"`
	Ell []float64   `json:"ell"`
	S0  []float64   `json:"s0"`
}

// ParameterSet is one complete simulation input.
type ParameterSet struct {
	L       []float64     `json:"L"`      // per-tier leakage, each in [0,1]
	Omega   []float64     `json:"omega"`  // per-tier spending weight, sums to 1
	Lambda  float64       `json:"lambda"` // re-spend propensity in [0,1]
	Tau     float64       `json:"tau"`    // VAT rate in [0,1]
	G       float64       `json:"G"`      // total stimulus, > 0
	Venture VentureParams `json:"venture"`
	NK      NKParams      `json:"nk"`
	Markov  MarkovParams  `json:"markov"`
}

// Tiers returns the number of recipient tiers.
func (p *ParameterSet) Tiers() int { return len(p.L) }

// Validate checks every invariant the engine relies on. Weights are never
// silently normalized: a distribution that does not sum to 1 is rejected.
func (p *ParameterSet) Validate() error {
	if len(p.L) == 0 {
		return model.Invalid("L", "at least one tier required")
	}
	if len(p.L) != len(p.Omega) {
		return model.Invalid("omega", "length %d does not match L length %d", len(p.Omega), len(p.L))
	}
	for i, l := range p.L {
		if err := inUnitRange(fmt.Sprintf("L[%d]", i), l); err != nil {
			return err
		}
	}
	sum := 0.0
	for i, w := range p.Omega {
		if err := inUnitRange(fmt.Sprintf("omega[%d]", i), w); err != nil {
			return err
		}
		sum += w
	}
	if math.Abs(sum-1.0) > distTolerance {
		return model.Invalid("omega", "weights sum to %g, must sum to 1", sum)
	}
	if err := inUnitRange("lambda", p.Lambda); err != nil {
		return err
	}
	if err := inUnitRange("tau", p.Tau); err != nil {
		return err
	}
	if !isFinite(p.G) || p.G <= 0 {
		return model.Invalid("G", "total stimulus must be positive and finite, got %g", p.G)
	}
	// The retained-spending series must converge for every tier.
	for i, l := range p.L {
		if 1.0-p.Lambda*(1.0-l)*(1.0-p.Tau) <= distTolerance {
			return model.Invalid("lambda", "lambda*(1-L[%d])*(1-tau) too close to 1, multiplier diverges", i)
		}
	}
	if err := p.validateVenture(); err != nil {
		return err
	}
	if err := p.validateNK(); err != nil {
		return err
	}
	if p.Markov.Use {
		if err := p.validateMarkov(); err != nil {
			return err
		}
	}
	return nil
}

func (p *ParameterSet) validateVenture() error {
	v := p.Venture
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"venture.alpha0", v.Alpha0},
		{"venture.alpha1", v.Alpha1},
		{"venture.alpha2", v.Alpha2},
		{"venture.participants_active", v.ParticipantsActive},
	} {
		if !isFinite(f.val) || f.val < 0 {
			return model.Invalid(f.name, "must be non-negative and finite, got %g", f.val)
		}
	}
	// Liquidity density is G*k_i/participants; a vanishing participant
	// pool against a large G overflows every tier's density.
	if v.ParticipantsActive > 0 {
		for i, l := range p.L {
			ki := 1.0 / (1.0 - p.Lambda*(1.0-l)*(1.0-p.Tau))
			if !isFinite(p.G * ki / v.ParticipantsActive) {
				return model.Invalid("venture.participants_active", "liquidity density overflows for tier %d, G too large relative to participant pool", i)
			}
		}
	}
	return nil
}

func (p *ParameterSet) validateNK() error {
	if !isFinite(p.NK.X) || p.NK.X < 0 {
		return model.Invalid("nk.x", "must be non-negative and finite, got %g", p.NK.X)
	}
	if !isFinite(p.NK.Kappa) || p.NK.Kappa < 0 {
		return model.Invalid("nk.kappa", "must be non-negative and finite, got %g", p.NK.Kappa)
	}
	return nil
}

// validateMarkov rejects a non-stochastic routing matrix or a malformed
// initial distribution outright rather than normalizing it.
func (p *ParameterSet) validateMarkov() error {
	m := p.Markov
	n := len(m.Ell)
	if n == 0 {
		return model.Invalid("markov.ell", "at least one state required")
	}
	if len(m.S0) != n {
		return model.Invalid("markov.s0", "length %d does not match ell length %d", len(m.S0), n)
	}
	if len(m.Pi) != n {
		return model.Invalid("markov.pi", "matrix has %d rows, want %d", len(m.Pi), n)
	}
	for j, row := range m.Pi {
		if len(row) != n {
			return model.Invalid("markov.pi", "row %d has %d columns, want %d", j, len(row), n)
		}
		rowSum := 0.0
		for k, v := range row {
			if !isFinite(v) || v < 0 {
				return model.Invalid("markov.pi", "entry [%d][%d] must be non-negative and finite, got %g", j, k, v)
			}
			rowSum += v
		}
		if math.Abs(rowSum-1.0) > distTolerance {
			return model.Invalid("markov.pi", "row %d sums to %g, must sum to 1", j, rowSum)
		}
	}
	for j, l := range m.Ell {
		if err := inUnitRange(fmt.Sprintf("markov.ell[%d]", j), l); err != nil {
			return err
		}
		if p.Tau+l > 1.0 {
			return model.Invalid("markov.ell", "tau + ell[%d] = %g exceeds 1", j, p.Tau+l)
		}
	}
	s0Sum := 0.0
	for j, s := range m.S0 {
		if !isFinite(s) || s < 0 {
			return model.Invalid("markov.s0", "entry [%d] must be non-negative and finite, got %g", j, s)
		}
		s0Sum += s
	}
	if math.Abs(s0Sum-1.0) > distTolerance {
		return model.Invalid("markov.s0", "distribution sums to %g, must sum to 1", s0Sum)
	}
	return nil
}

func inUnitRange(field string, v float64) error {
	if !isFinite(v) || v < 0 || v > 1 {
		return model.Invalid(field, "must be in [0,1], got %g", v)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
