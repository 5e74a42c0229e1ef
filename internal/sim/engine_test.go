package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/arcboost/stimulus-engine/internal/model"
	"github.com/arcboost/stimulus-engine/internal/params"
)

const tol = 1e-9

func baseline() params.ParameterSet {
	return params.ParameterSet{
		L:      []float64{0.7, 0.7, 0.7},
		Omega:  []float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
		Lambda: 0.8,
		Tau:    0.07,
		G:      3e11,
	}
}

func mustCompute(t *testing.T, p params.ParameterSet) *Result {
	t.Helper()
	res, err := Compute(&p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func TestCompute_RejectsInvalidInput(t *testing.T) {
	p := baseline()
	p.Omega = []float64{0.3, 0.3, 0.3}

	_, err := Compute(&p)
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for bad omega, got %v", err)
	}
}

func TestCompute_FullLeakageCollapsesMultiplier(t *testing.T) {
	// L_i = 1: every unit leaks immediately, so k_i = 1 and the money
	// created is exactly the injection.
	p := baseline()
	p.L = []float64{1, 1, 1}

	res := mustCompute(t, p)
	for i, ki := range res.KI {
		if math.Abs(ki-1.0) > tol {
			t.Errorf("k_%d = %g, want 1 at full leakage", i, ki)
		}
	}
	if math.Abs(res.K-1.0) > tol {
		t.Errorf("k = %g, want 1", res.K)
	}
	if math.Abs(res.DeltaM-p.G) > 1e-3 {
		t.Errorf("deltaM = %g, want exactly G = %g", res.DeltaM, p.G)
	}
	if res.VAT != 0 {
		t.Errorf("vat = %g, want 0 at full leakage", res.VAT)
	}
}

func TestCompute_MultiplierDecreasesWithLeakage(t *testing.T) {
	low := baseline()
	low.L = []float64{0.2, 0.2, 0.2}
	high := baseline()
	high.L = []float64{0.8, 0.8, 0.8}

	kLow := mustCompute(t, low).K
	kHigh := mustCompute(t, high).K
	if kLow <= kHigh {
		t.Errorf("lower leakage must yield higher k: k(L=0.2)=%g, k(L=0.8)=%g", kLow, kHigh)
	}
}

func TestCompute_MultiplierDecreasesWithTau(t *testing.T) {
	noVAT := baseline()
	noVAT.Tau = 0
	withVAT := baseline()
	withVAT.Tau = 0.2

	k0 := mustCompute(t, noVAT).K
	k2 := mustCompute(t, withVAT).K
	if k0 <= k2 {
		t.Errorf("higher tau must yield lower k: k(tau=0)=%g, k(tau=0.2)=%g", k0, k2)
	}
}

func TestCompute_BaselineScenario(t *testing.T) {
	p := baseline()
	res := mustCompute(t, p)

	if res.K < 1 {
		t.Errorf("k = %g, must be at least 1", res.K)
	}
	if math.Abs(res.DeltaM-p.G*res.K) > 1e-3 {
		t.Errorf("deltaM = %g, want G*k = %g", res.DeltaM, p.G*res.K)
	}
	if res.VAT <= 0 || res.VAT >= res.DeltaM {
		t.Errorf("vat = %g, want in (0, deltaM=%g)", res.VAT, res.DeltaM)
	}
	if res.Markov != nil {
		t.Error("markov fragment must be absent when unused")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	p := baseline()
	p.Venture = params.VentureParams{Alpha0: 0.01, Alpha1: 1e-9, ParticipantsActive: 1e6}
	p.NK = params.NKParams{X: 0.02, Kappa: 0.1}

	a := mustCompute(t, p)
	b := mustCompute(t, p)
	if a.K != b.K || a.DeltaM != b.DeltaM || a.VAT != b.VAT || a.Venture.Total != b.Venture.Total {
		t.Errorf("identical inputs must yield identical results: %+v vs %+v", a, b)
	}
}

func TestCompute_VentureProbabilityClamped(t *testing.T) {
	p := baseline()
	p.Venture = params.VentureParams{Alpha0: 0.5, Alpha1: 1, Alpha2: 1, ParticipantsActive: 100}

	res := mustCompute(t, p)
	for i, pv := range res.Venture.Pv {
		if pv < 0 || pv > 1 {
			t.Errorf("Pv_%d = %g, must be in [0,1]", i, pv)
		}
	}
	var sum float64
	for _, v := range res.Venture.V {
		sum += v
	}
	if math.Abs(sum-res.Venture.Total) > tol {
		t.Errorf("venture total %g does not match Σ V_i = %g", res.Venture.Total, sum)
	}
}

func TestCompute_VentureZeroParticipants(t *testing.T) {
	p := baseline()
	p.Venture = params.VentureParams{Alpha0: 0.5, Alpha1: 1}

	res := mustCompute(t, p)
	for i, di := range res.Venture.D {
		if di != 0 {
			t.Errorf("D_%d = %g, want 0 with no active participants", i, di)
		}
	}
}

func TestCompute_VentureExtremeDensityStaysFinite(t *testing.T) {
	// Density large enough that D_i² overflows. With alpha2 switched off
	// the squared term must not poison Pv with 0*Inf.
	p := baseline()
	p.G = 1e200
	p.Venture = params.VentureParams{Alpha0: 0.5, ParticipantsActive: 1}

	res := mustCompute(t, p)
	for i := range res.Venture.D {
		if math.IsInf(res.Venture.D[i], 0) || math.IsNaN(res.Venture.D[i]) {
			t.Errorf("D_%d = %g, must be finite", i, res.Venture.D[i])
		}
		if math.IsNaN(res.Venture.Pv[i]) || math.IsNaN(res.Venture.V[i]) {
			t.Errorf("tier %d: Pv=%g V=%g, must never be NaN", i, res.Venture.Pv[i], res.Venture.V[i])
		}
		if math.Abs(res.Venture.Pv[i]-0.5) > tol {
			t.Errorf("Pv_%d = %g, want alpha0 = 0.5 with alpha1 = alpha2 = 0", i, res.Venture.Pv[i])
		}
	}
}

func TestCompute_NKBandOrdered(t *testing.T) {
	p := baseline()
	p.NK = params.NKParams{X: 0.02, Kappa: 0.1}

	res := mustCompute(t, p)
	if math.Abs(res.NK.DPiLow-0.002) > tol {
		t.Errorf("dPi_low = %g, want kappa*x = 0.002", res.NK.DPiLow)
	}
	if res.NK.DPiHigh < res.NK.DPiLow {
		t.Errorf("band inverted: low=%g high=%g", res.NK.DPiLow, res.NK.DPiHigh)
	}
}

func TestCompute_NKZeroGap(t *testing.T) {
	p := baseline()
	res := mustCompute(t, p)
	if res.NK.DPiLow != 0 || res.NK.DPiHigh != 0 {
		t.Errorf("zero output gap must yield zero band, got [%g, %g]", res.NK.DPiLow, res.NK.DPiHigh)
	}
}
