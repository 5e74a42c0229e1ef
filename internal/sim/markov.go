package sim

import (
	"math"

	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/params"
)

// computeMarkov treats circulation as an absorbing Markov chain. Each
// circulation round, a unit of money in state j either routes onward to
// state k with probability (1 - tau - ell_j) * pi[j][k], is absorbed by
// VAT with probability tau, or leaks with probability ell_j. The
// fundamental matrix N = (I - Q)^-1 yields expected visit counts
// v = s0ᵀN, from which the absorption shares follow:
//
//	aVAT  = Σ v_j * tau
//	aLEAK = Σ v_j * ell_j
//
// aVAT + aLEAK = 1 for any valid input (all mass is eventually absorbed).
// The effective multiplier recombines the closed form with the effective
// leakage, k_eff = 1 / (1 - lambda*(1-aLEAK)*(1-tau)), so that a chain
// leaking harder than every tier yields k_eff ≤ k.
func computeMarkov(p *params.ParameterSet) (*MarkovResult, error) {
	m := p.Markov
	n := len(m.Ell)

	// I - Q
	iq := make([][]float64, n)
	for j := 0; j < n; j++ {
		iq[j] = make([]float64, n)
		retain := 1.0 - p.Tau - m.Ell[j]
		for k := 0; k < n; k++ {
			q := retain * m.Pi[j][k]
			if j == k {
				iq[j][k] = 1.0 - q
			} else {
				iq[j][k] = -q
			}
		}
	}

	fund, err := invert(iq)
	if err != nil {
		return nil, err
	}

	// v = s0ᵀ N
	v := make([]float64, n)
	for j := 0; j < n; j++ {
		for k := 0; k < n; k++ {
			v[k] += m.S0[j] * fund[j][k]
		}
	}

	var aVAT, aLeak float64
	for j := 0; j < n; j++ {
		aVAT += v[j] * p.Tau
		aLeak += v[j] * m.Ell[j]
	}

	return &MarkovResult{
		AVAT:  aVAT,
		ALeak: aLeak,
		KEff:  tierMultiplier(p.Lambda, aLeak, p.Tau),
	}, nil
}

// invert computes the inverse of a square matrix by Gauss-Jordan
// elimination with partial pivoting. A singular I-Q means the chain never
// absorbs, which is a configuration error, not a numeric fallback.
func invert(a [][]float64) ([][]float64, error) {
	n := len(a)

	// Augmented [a | I], working on a copy.
	aug := make([][]float64, n)
	for i := 0; i < n; i++ {
		aug[i] = make([]float64, 2*n)
		copy(aug[i], a[i])
		aug[i][n+i] = 1.0
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			return nil, model.Invalid("markov.pi", "transition structure is singular, chain never absorbs")
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for c := 0; c < 2*n; c++ {
			aug[col][c] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			if factor == 0 {
				continue
			}
			for c := 0; c < 2*n; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}

	inv := make([][]float64, n)
	for i := 0; i < n; i++ {
		inv[i] = aug[i][n:]
	}
	return inv, nil
}
