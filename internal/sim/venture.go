package sim

import (
	"math"

	"github.com/arcboost/stimulus-engine/internal/params"
)

// computeVenture models the emergence of new economic participants
// induced by the stimulus. Each tier's participant pool is the active
// population weighted by its spending share; liquidity density D_i is
// circulated money per participant; formation probability is the
// policy-intensity polynomial
//
//	Pv_i = clamp(alpha0 + alpha1*D_i + alpha2*D_i², 0, 1)
//
// which is monotone increasing in D_i and in each alpha. V_i = Pv_i * P_i.
func computeVenture(p *params.ParameterSet, cf closedForm) VentureResult {
	n := p.Tiers()
	vr := VentureResult{
		D:  make([]float64, n),
		Pv: make([]float64, n),
		V:  make([]float64, n),
	}

	v := p.Venture
	for i := 0; i < n; i++ {
		pi := v.ParticipantsActive * p.Omega[i]
		var di float64
		if pi > 0 {
			di = cf.mi[i] / pi
		}
		if math.IsInf(di, 1) {
			di = math.MaxFloat64
		}

		// Accumulate only the live polynomial terms: di*di can overflow
		// to +Inf, and 0*Inf is NaN rather than the zero the formula
		// means when a coefficient is switched off.
		pv := v.Alpha0
		if v.Alpha1 > 0 {
			pv += v.Alpha1 * di
		}
		if v.Alpha2 > 0 {
			pv += v.Alpha2 * di * di
		}
		if pv < 0 {
			pv = 0
		} else if pv > 1 {
			pv = 1
		}

		vr.D[i] = di
		vr.Pv[i] = pv
		vr.V[i] = pv * pi
		vr.Total += vr.V[i]
	}

	return vr
}
