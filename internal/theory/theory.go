// Package theory computes the expectations simulated statistics are
// compared against.
package theory

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/combin"

	"popgenval/internal/model"
)

const eulerGamma = 0.5772156649015329

// Quadrature points per integral.
const quadPoints = 400

var ErrUndefined = errors.New("expectation undefined for scenario")

// NeutralSFS returns theta/k for k in 1..n-1. Index 0 is unused.
func NeutralSFS(theta float64, n int) []float64 {
	out := make([]float64, max(n, 1))
	for k := 1; k < n; k++ {
		out[k] = theta / float64(k)
	}
	return out
}

// SelectedSFS returns the expected unfolded sample spectrum under the
// Poisson random field with additive selection of scaled strength
// gamma = 2Ns (Sawyer and Hartl 1992). Index 0 is unused.
func SelectedSFS(theta, gamma float64, n int) []float64 {
	if gamma == 0 {
		return NeutralSFS(theta, n)
	}
	out := make([]float64, max(n, 1))
	for k := 1; k < n; k++ {
		logCoeff := combin.LogGeneralizedBinomial(float64(n), float64(k))
		f := func(x float64) float64 {
			if x <= 0 || x >= 1 {
				return 0
			}
			return math.Exp(logCoeff+float64(k-1)*math.Log(x)+float64(n-k-1)*math.Log1p(-x)) * sawyerHartl(gamma, x)
		}
		out[k] = theta * quad.Fixed(f, 0, 1, quadPoints, nil, 0)
	}
	return out
}

// sawyerHartl is (1-exp(-2g(1-x)))/(1-exp(-2g)), evaluated without overflow
// for large |g|.
func sawyerHartl(g, x float64) float64 {
	if g > 0 {
		return math.Expm1(-2*g*(1-x)) / math.Expm1(-2*g)
	}
	return math.Exp(2*g*x) * math.Expm1(2*g*(1-x)) / math.Expm1(2*g)
}

// KimStephanSFS is equation 5 of Kim and Stephan (2002): the expected
// unfolded spectrum at a neutral site at scaled distance rho = 4Nr from a
// completed sweep with alpha = 2Ns. Index 0 is unused.
func KimStephanSFS(sc model.Scenario, n int) ([]float64, error) {
	if sc.PopulationSize <= 0 || sc.Alpha <= 1 {
		return nil, ErrUndefined
	}
	out := make([]float64, max(n, 1))
	r, s := sc.RecombinationRate(), sc.SelectionCoefficient()
	c := -math.Expm1(r / s * math.Log(1/sc.Alpha))
	if c <= 0 {
		return out, nil
	}
	theta := sc.Theta
	for k := 1; k < n; k++ {
		logCoeff := combin.LogGeneralizedBinomial(float64(n), float64(k))
		sampling := func(p float64) float64 {
			if p <= 0 || p >= 1 {
				return 0
			}
			return math.Exp(logCoeff + float64(k)*math.Log(p) + float64(n-k)*math.Log1p(-p))
		}
		// Frequencies below C carry the partially hitchhiked variants; the
		// region above 1-C the ones dragged to high frequency.
		low := quad.Fixed(func(p float64) float64 {
			return sampling(p) * (theta/p - theta/c)
		}, 0, c, quadPoints, nil, 0)
		var high float64
		if lo := math.Max(c, 1-c); lo < 1 {
			high = quad.Fixed(func(p float64) float64 {
				return sampling(p) * theta / c
			}, lo, 1, quadPoints, nil, 0)
		}
		out[k] = low + high
	}
	return out, nil
}

// NeutralFixationTime is the expected time to fixation of a new neutral
// mutation, conditioned on fixation: 4N generations.
func NeutralFixationTime(populationSize int) float64 {
	return 4 * float64(populationSize)
}

// SweepDuration approximates the conditional fixation time of a beneficial
// mutation, 2 ln(4Ns)/s generations. Neutral scenarios fall back to 4N.
func SweepDuration(sc model.Scenario) float64 {
	s := sc.SelectionCoefficient()
	if s <= 0 || 4*float64(sc.PopulationSize)*s <= 1 {
		return NeutralFixationTime(sc.PopulationSize)
	}
	return 2 * math.Log(4*float64(sc.PopulationSize)*s) / s
}

// SweepDurationStochastic adds the establishment correction,
// 2(ln(2Ns)+gamma_E)/s.
func SweepDurationStochastic(sc model.Scenario) float64 {
	s := sc.SelectionCoefficient()
	if s <= 0 || sc.Alpha <= 1 {
		return NeutralFixationTime(sc.PopulationSize)
	}
	return 2 * (math.Log(sc.Alpha) + eulerGamma) / s
}

// IslandFst is the equilibrium Fst of an island model with d demes and
// scaled migration M = 4Nm per deme.
func IslandFst(migration float64, demes int) float64 {
	if demes < 2 {
		return 0
	}
	a := float64(demes) / float64(demes-1)
	return 1 / (1 + migration*a*a)
}

// ExpectedPi is theta under neutrality.
func ExpectedPi(theta float64) float64 {
	return theta
}

// ExpectedSegregatingSites is Watterson's theta times a_n.
func ExpectedSegregatingSites(theta float64, n int) float64 {
	var a float64
	for k := 1; k < n; k++ {
		a += 1 / float64(k)
	}
	return theta * a
}
