package kernel

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"popgenval/internal/dispatch"
	"popgenval/internal/model"
)

const IMFstName = "im_fst"

// Marginal spectra of the two demes are stored in the sfs table under these
// statistics.
const (
	StatisticCountDeme0 = "count_deme0"
	StatisticCountDeme1 = "count_deme1"
)

// IMFst runs a neutral ancestral population of size N to equilibrium, splits
// it into demes of size N*Split and N*(1-Split), and evolves both for
// Generations generations with scaled migration rates M = 4Nm into deme 0
// and deme 1. It samples n copies per deme and reports Hudson's Fst and the
// marginal spectra.
func IMFst(ctx context.Context, task dispatch.Task) ([]model.Row, error) {
	sc := task.Scenario
	ancestral := newSitePopulation(model.Scenario{PopulationSize: sc.PopulationSize, Theta: sc.Theta, Dominance: 1})
	burnIn := defaultBurnInScale * sc.PopulationSize
	ancestry := ancestrySource(task.Seeds)
	for g := 0; g < burnIn; g++ {
		if g%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ancestral.step(ancestry)
	}

	demes := splitDemes(sc, ancestral.counts)
	forward := forwardSource(task.Seeds)
	generations := sc.Generations
	if generations <= 0 {
		generations = sc.PopulationSize
	}
	for g := 0; g < generations; g++ {
		if g%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		demes.step(forward)
	}

	n := sc.SampleSize
	sfs0 := make([]float64, n)
	sfs1 := make([]float64, n)
	var within, between float64
	for i := range demes.x0 {
		k0 := binomial(ancestry, n, demes.x0[i])
		k1 := binomial(ancestry, n, demes.x1[i])
		if k0 > 0 && k0 < n {
			sfs0[k0]++
		}
		if k1 > 0 && k1 < n {
			sfs1[k1]++
		}
		nn := float64(n)
		w0 := 2 * float64(k0) * float64(n-k0) / (nn * (nn - 1))
		w1 := 2 * float64(k1) * float64(n-k1) / (nn * (nn - 1))
		within += (w0 + w1) / 2
		between += (float64(k0)*float64(n-k1) + float64(k1)*float64(n-k0)) / (nn * nn)
	}

	rows := make([]model.Row, 0, 2*n)
	if between > 0 {
		rows = append(rows, model.Row{Table: model.TableFst, Scenario: sc, Statistic: model.StatisticFst, Value: 1 - within/between})
	}
	for k := 1; k < n; k++ {
		rows = append(rows,
			model.Row{Table: model.TableSFS, Scenario: sc, Statistic: StatisticCountDeme0, Class: k, Value: sfs0[k]},
			model.Row{Table: model.TableSFS, Scenario: sc, Statistic: StatisticCountDeme1, Class: k, Value: sfs1[k]},
		)
	}
	return rows, nil
}

// twoDemes tracks per-site derived frequencies in both demes.
type twoDemes struct {
	twoN0, twoN1 int
	m0, m1       float64
	mut0, mut1   float64
	x0, x1       []float64
}

func splitDemes(sc model.Scenario, ancestral []int) *twoDemes {
	n0 := int(math.Round(float64(sc.PopulationSize) * sc.Split))
	n0 = max(1, min(n0, sc.PopulationSize-1))
	n1 := sc.PopulationSize - n0
	ref := 4 * float64(sc.PopulationSize)
	d := &twoDemes{
		twoN0: 2 * n0,
		twoN1: 2 * n1,
		m0:    math.Min(1, sc.Migration[0]/ref),
		m1:    math.Min(1, sc.Migration[1]/ref),
		mut0:  sc.Theta / 2 * float64(n0) / float64(sc.PopulationSize),
		mut1:  sc.Theta / 2 * float64(n1) / float64(sc.PopulationSize),
	}
	twoN := float64(2 * sc.PopulationSize)
	for _, c := range ancestral {
		x := float64(c) / twoN
		d.x0 = append(d.x0, x)
		d.x1 = append(d.x1, x)
	}
	return d
}

func (d *twoDemes) step(src rand.Source) {
	keep := 0
	for i := range d.x0 {
		in0 := (1-d.m0)*d.x0[i] + d.m0*d.x1[i]
		in1 := (1-d.m1)*d.x1[i] + d.m1*d.x0[i]
		x0 := float64(binomial(src, d.twoN0, in0)) / float64(d.twoN0)
		x1 := float64(binomial(src, d.twoN1, in1)) / float64(d.twoN1)
		if (x0 == 0 && x1 == 0) || (x0 == 1 && x1 == 1) {
			continue
		}
		d.x0[keep], d.x1[keep] = x0, x1
		keep++
	}
	d.x0, d.x1 = d.x0[:keep], d.x1[:keep]

	for i := poisson(src, d.mut0); i > 0; i-- {
		d.x0 = append(d.x0, 1/float64(d.twoN0))
		d.x1 = append(d.x1, 0)
	}
	for i := poisson(src, d.mut1); i > 0; i-- {
		d.x0 = append(d.x0, 0)
		d.x1 = append(d.x1, 1/float64(d.twoN1))
	}
}

func imCompatible(sc model.Scenario) error {
	if sc.PopulationSize < 2 {
		return errors.New("population size must be >= 2")
	}
	if sc.Split <= 0 || sc.Split >= 1 {
		return errors.New("split must be in (0, 1)")
	}
	if sc.SampleSize < 2 {
		return errors.New("sample size must be >= 2")
	}
	if sc.Alpha != 0 {
		return errors.New("only neutral mutations are simulated")
	}
	return nil
}
