package params

import (
	"errors"
	"math"
	"testing"

	"github.com/arcboost/stimulus-engine/internal/model"
)

// baseline is a known-good three-tier scenario.
func baseline() ParameterSet {
	return ParameterSet{
		L:      []float64{0.7, 0.7, 0.7},
		Omega:  []float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
		Lambda: 0.8,
		Tau:    0.07,
		G:      3e11,
	}
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation error for %s, got nil", field)
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if verr.Field != field {
		t.Errorf("expected error on field %q, got %q: %v", field, verr.Field, verr)
	}
}

func TestValidate_Baseline(t *testing.T) {
	p := baseline()
	if err := p.Validate(); err != nil {
		t.Fatalf("baseline should validate: %v", err)
	}
}

func TestValidate_EmptyTiers(t *testing.T) {
	p := baseline()
	p.L = nil
	p.Omega = nil
	assertFieldError(t, p.Validate(), "L")
}

func TestValidate_LengthMismatch(t *testing.T) {
	p := baseline()
	p.Omega = []float64{0.5, 0.5}
	assertFieldError(t, p.Validate(), "omega")
}

func TestValidate_OmegaNotDistribution(t *testing.T) {
	p := baseline()
	p.Omega = []float64{0.3, 0.3, 0.3} // sums to 0.9, must be rejected, never normalized
	assertFieldError(t, p.Validate(), "omega")
}

func TestValidate_LeakageOutOfRange(t *testing.T) {
	p := baseline()
	p.L[1] = 1.2
	assertFieldError(t, p.Validate(), "L[1]")

	p = baseline()
	p.L[0] = -0.1
	assertFieldError(t, p.Validate(), "L[0]")
}

func TestValidate_NonFiniteInput(t *testing.T) {
	p := baseline()
	p.Lambda = math.NaN()
	assertFieldError(t, p.Validate(), "lambda")

	p = baseline()
	p.G = math.Inf(1)
	assertFieldError(t, p.Validate(), "G")
}

func TestValidate_NonPositiveG(t *testing.T) {
	p := baseline()
	p.G = 0
	assertFieldError(t, p.Validate(), "G")
}

func TestValidate_DivergentSeries(t *testing.T) {
	// lambda=1, tau=0, L=0: each round re-spends everything, the series
	// never converges.
	p := baseline()
	p.L = []float64{0, 0, 0}
	p.Lambda = 1
	p.Tau = 0
	assertFieldError(t, p.Validate(), "lambda")
}

func TestValidate_VentureNegativeAlpha(t *testing.T) {
	p := baseline()
	p.Venture.Alpha1 = -0.5
	assertFieldError(t, p.Validate(), "venture.alpha1")
}

func TestValidate_VentureDensityOverflow(t *testing.T) {
	// A near-zero participant pool against an enormous G pushes liquidity
	// density past the float range; the engine must never see it.
	p := baseline()
	p.G = 1e300
	p.Venture.ParticipantsActive = 1e-300
	assertFieldError(t, p.Validate(), "venture.participants_active")
}

func TestValidate_MarkovRowNotStochastic(t *testing.T) {
	p := baseline()
	p.Markov = MarkovParams{
		Use: true,
		Pi:  [][]float64{{0.5, 0.4}, {0.5, 0.5}}, // first row sums to 0.9
		Ell: []float64{0.1, 0.1},
		S0:  []float64{1, 0},
	}
	assertFieldError(t, p.Validate(), "markov.pi")
}

func TestValidate_MarkovTauPlusEllExceedsOne(t *testing.T) {
	p := baseline()
	p.Markov = MarkovParams{
		Use: true,
		Pi:  [][]float64{{1}},
		Ell: []float64{0.97}, // tau 0.07 + 0.97 > 1
		S0:  []float64{1},
	}
	assertFieldError(t, p.Validate(), "markov.ell")
}

func TestValidate_MarkovS0NotDistribution(t *testing.T) {
	p := baseline()
	p.Markov = MarkovParams{
		Use: true,
		Pi:  [][]float64{{1}},
		Ell: []float64{0.1},
		S0:  []float64{0.5},
	}
	assertFieldError(t, p.Validate(), "markov.s0")
}

func TestValidate_MarkovSkippedWhenUnused(t *testing.T) {
	p := baseline()
	p.Markov = MarkovParams{
		Use: false,
		Pi:  [][]float64{{0.5}}, // malformed, but unused
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("unused markov block must not be validated: %v", err)
	}
}
