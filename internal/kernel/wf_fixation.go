package kernel

import (
	"context"
	"errors"

	"popgenval/internal/dispatch"
	"popgenval/internal/model"
)

const WFFixationName = "wf_fixation"

// WFFixation follows one new mutation in a diploid population of size N
// with genotype fitnesses 1, 1+hs and 1+2s, restarting from a single copy
// until it fixes. It reports the generations taken by the fixing attempt.
func WFFixation(ctx context.Context, task dispatch.Task) ([]model.Row, error) {
	sc := task.Scenario
	src := forwardSource(task.Seeds)
	twoN := 2 * sc.PopulationSize
	s := sc.SelectionCoefficient()
	wAA, wAa, waa := 1.0, 1.0+sc.Dominance*s, 1.0+2*s

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		copies, generation := 1, 0
		for copies > 0 && copies < twoN {
			q := float64(copies) / float64(twoN)
			p := 1 - q
			wbar := wAA*p*p + 2*wAa*p*q + waa*q*q
			dq := p * q * (p*(wAa-wAA) + q*(waa-wAa)) / wbar
			copies = binomial(src, twoN, q+dq)
			generation++
		}
		if copies == twoN {
			return []model.Row{{
				Table:     model.TableFixationTimes,
				Scenario:  sc,
				Statistic: model.StatisticFixation,
				Value:     float64(generation),
			}}, nil
		}
	}
}

func wfFixationCompatible(sc model.Scenario) error {
	if sc.PopulationSize <= 0 {
		return errors.New("population size must be > 0")
	}
	if sc.Alpha < 0 {
		return errors.New("fixation of a deleterious mutation is not simulated")
	}
	return nil
}
