package kernel

import (
	"context"
	"errors"
	"math/rand/v2"

	"popgenval/internal/dispatch"
	"popgenval/internal/model"
)

const PRFSFSName = "prf_sfs"

// Generations run by prf_sfs when the scenario leaves them unset, in units
// of N.
const defaultBurnInScale = 10

// PRFSFS evolves unlinked infinite-sites mutations in a Wright-Fisher
// population. Every mutation carries 2Ns = Alpha with dominance h. After
// the burn-in a sample of n gene copies is drawn and the unfolded spectrum,
// nucleotide diversity and the number of segregating sites are reported.
func PRFSFS(ctx context.Context, task dispatch.Task) ([]model.Row, error) {
	sc := task.Scenario
	forward := forwardSource(task.Seeds)
	sampling := ancestrySource(task.Seeds)

	generations := sc.Generations
	if generations <= 0 {
		generations = defaultBurnInScale * sc.PopulationSize
	}
	pop := newSitePopulation(sc)
	for g := 0; g < generations; g++ {
		if g%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pop.step(forward)
	}

	n := sc.SampleSize
	sfs := pop.sampleSFS(sampling, n)
	return sfsRows(sc, sfs), nil
}

// sitePopulation holds derived-allele counts of segregating sites. Sites are
// independent, so each is resampled on its own.
type sitePopulation struct {
	twoN      int
	mutations float64
	wAA       float64
	wAa       float64
	waa       float64
	counts    []int
}

func newSitePopulation(sc model.Scenario) *sitePopulation {
	s := sc.SelectionCoefficient()
	return &sitePopulation{
		twoN:      2 * sc.PopulationSize,
		mutations: sc.Theta / 2,
		wAA:       1,
		wAa:       1 + sc.Dominance*s,
		waa:       1 + 2*s,
	}
}

func (p *sitePopulation) step(src rand.Source) {
	live := p.counts[:0]
	for _, c := range p.counts {
		next := binomial(src, p.twoN, p.expected(c))
		if next > 0 && next < p.twoN {
			live = append(live, next)
		}
	}
	for i := poisson(src, p.mutations); i > 0; i-- {
		live = append(live, 1)
	}
	p.counts = live
}

func (p *sitePopulation) expected(c int) float64 {
	q := float64(c) / float64(p.twoN)
	pp := 1 - q
	wbar := p.wAA*pp*pp + 2*p.wAa*pp*q + p.waa*q*q
	return q + pp*q*(pp*(p.wAa-p.wAA)+q*(p.waa-p.wAa))/wbar
}

// sampleSFS draws n gene copies with replacement and tallies derived counts;
// index k holds the number of sites with k derived copies, for 0 < k < n.
func (p *sitePopulation) sampleSFS(src rand.Source, n int) []float64 {
	sfs := make([]float64, n)
	for _, c := range p.counts {
		k := binomial(src, n, float64(c)/float64(p.twoN))
		if k > 0 && k < n {
			sfs[k]++
		}
	}
	return sfs
}

func sfsRows(sc model.Scenario, sfs []float64) []model.Row {
	n := len(sfs)
	rows := make([]model.Row, 0, n+1)
	var pi, segregating float64
	for k := 1; k < n; k++ {
		rows = append(rows, model.Row{
			Table:     model.TableSFS,
			Scenario:  sc,
			Statistic: model.StatisticCount,
			Class:     k,
			Value:     sfs[k],
		})
		pi += sfs[k] * 2 * float64(k) * float64(n-k) / float64(n*(n-1))
		segregating += sfs[k]
	}
	rows = append(rows,
		model.Row{Table: model.TableDiversity, Scenario: sc, Statistic: model.StatisticPi, Value: pi},
		model.Row{Table: model.TableDiversity, Scenario: sc, Statistic: model.StatisticSegregated, Value: segregating},
	)
	return rows
}

func prfCompatible(sc model.Scenario) error {
	if sc.PopulationSize <= 0 {
		return errors.New("population size must be > 0")
	}
	if sc.SampleSize < 2 {
		return errors.New("sample size must be >= 2")
	}
	if sc.SampleSize > 2*sc.PopulationSize {
		return errors.New("sample size exceeds 2N")
	}
	// Sites are unlinked; a linked-site grid would be compared against the
	// sweep spectrum it never simulates.
	if sc.Rho != 0 {
		return errors.New("prf_sfs simulates unlinked sites, rho must be 0")
	}
	return nil
}
