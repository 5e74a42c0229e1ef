package sim

import "github.com/arcboost/stimulus-engine/internal/params"

// closedForm carries the multiplier fragment between sub-models: the
// venture model reuses the per-tier circulated amounts mi.
type closedForm struct {
	ki     []float64 // per-tier multiplier
	k      float64   // aggregate multiplier, Σ omega_i * k_i
	mi     []float64 // per-tier circulated money, omega_i * G * k_i
	deltaM float64   // G * k
	vat    float64   // total VAT recapture
}

// tierMultiplier is the retained-spending geometric series for one tier:
//
//	k_i = 1 / (1 - lambda * (1 - L_i) * (1 - tau))
//
// Each circulation round retains (1-L_i) of spending locally, loses tau to
// VAT, and re-spends fraction lambda. Full leakage (L_i = 1) collapses the
// series to the initial injection, k_i = 1. Validation guarantees the
// denominator is bounded away from zero.
func tierMultiplier(lambda, leak, tau float64) float64 {
	return 1.0 / (1.0 - lambda*(1.0-leak)*(1.0-tau))
}

// computeClosedForm evaluates the multipliers, money creation, and VAT
// recapture. VAT per tier is tau applied to the circulated base net of
// leakage, tau * M_i * (1 - L_i), which keeps total VAT below deltaM.
func computeClosedForm(p *params.ParameterSet) closedForm {
	n := p.Tiers()
	cf := closedForm{
		ki: make([]float64, n),
		mi: make([]float64, n),
	}

	for i := 0; i < n; i++ {
		kv := tierMultiplier(p.Lambda, p.L[i], p.Tau)
		cf.ki[i] = kv
		cf.k += p.Omega[i] * kv

		gi := p.Omega[i] * p.G
		cf.mi[i] = gi * kv
		if p.Tau > 0 {
			cf.vat += p.Tau * cf.mi[i] * (1.0 - p.L[i])
		}
	}

	cf.deltaM = p.G * cf.k
	return cf
}
