package sim

import "github.com/arcboost/stimulus-engine/internal/params"

// highBandFactor widens the upper bound of the Phillips-curve sketch; the
// band brackets demand-pressure uncertainty rather than modelling it.
const highBandFactor = 1.5

// computeNK evaluates the New-Keynesian price-impact band. Inflation
// responds to the output gap through the Phillips curve, dPi = kappa * x;
// the high-demand bound scales the same slope.
func computeNK(p *params.ParameterSet) NKResult {
	low := p.NK.Kappa * p.NK.X
	return NKResult{
		DPiLow:  low,
		DPiHigh: highBandFactor * low,
	}
}
