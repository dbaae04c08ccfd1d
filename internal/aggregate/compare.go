package aggregate

import (
	"errors"
	"math"

	"popgenval/internal/model"
	"popgenval/internal/theory"
)

// Comparison pairs an observed group mean with its theoretical expectation.
type Comparison struct {
	GroupKey
	Count    int     `json:"count"`
	Observed float64 `json:"observed"`
	StdErr   float64 `json:"std_err"`
	Expected float64 `json:"expected"`
	Residual float64 `json:"residual"`
	Relative float64 `json:"relative_error"`
	Z        float64 `json:"z"`
	Model    string  `json:"model"`
}

// Compare matches every group with an expectation. Groups without one are
// skipped.
func Compare(groups []Group) []Comparison {
	cache := make(map[string][]float64)
	out := make([]Comparison, 0, len(groups))
	for _, g := range groups {
		expected, name, ok := expectation(g, cache)
		if !ok {
			continue
		}
		c := Comparison{
			GroupKey: g.GroupKey,
			Count:    g.Count,
			Observed: g.Mean,
			StdErr:   g.StdErr(),
			Expected: expected,
			Residual: g.Mean - expected,
			Model:    name,
		}
		if expected != 0 {
			c.Relative = c.Residual / expected
		}
		if c.StdErr > 0 {
			c.Z = c.Residual / c.StdErr
		}
		out = append(out, c)
	}
	return out
}

func expectation(g Group, cache map[string][]float64) (float64, string, bool) {
	sc := g.Scenario
	switch {
	case g.Table == model.TableFixationTimes && g.Statistic == model.StatisticFixation:
		if sc.Alpha > 1 {
			return theory.SweepDuration(sc), "sweep_duration", true
		}
		return theory.NeutralFixationTime(sc.PopulationSize), "neutral_fixation_time", true

	case g.Table == model.TableSFS && g.Statistic == model.StatisticCount:
		sfs, name, err := spectrum(sc, cache)
		if err != nil || g.Class <= 0 || g.Class >= len(sfs) {
			return 0, "", false
		}
		return sfs[g.Class], name, true

	case g.Table == model.TableDiversity && sc.Alpha == 0:
		switch g.Statistic {
		case model.StatisticPi:
			return theory.ExpectedPi(sc.Theta), "neutral_pi", true
		case model.StatisticSegregated:
			return theory.ExpectedSegregatingSites(sc.Theta, sc.SampleSize), "watterson", true
		}

	case g.Table == model.TableFst && g.Statistic == model.StatisticFst:
		m := (sc.Migration[0] + sc.Migration[1]) / 2
		return theory.IslandFst(m, 2), "island_fst", true
	}
	return 0, "", false
}

// spectrum picks Kim-Stephan for neutral sites linked to a sweep and the
// Poisson random field otherwise.
func spectrum(sc model.Scenario, cache map[string][]float64) ([]float64, string, error) {
	key := sc.Key()
	sweep := sc.Rho > 0 && sc.Alpha > 1
	name := "prf_sfs"
	if sweep {
		name = "kim_stephan"
	}
	if sfs, ok := cache[key]; ok {
		return sfs, name, nil
	}
	if sc.SampleSize < 2 {
		return nil, "", errors.New("sample size must be >= 2")
	}
	var (
		sfs []float64
		err error
	)
	if sweep {
		sfs, err = theory.KimStephanSFS(sc, sc.SampleSize)
	} else {
		sfs = theory.SelectedSFS(sc.Theta, sc.Alpha, sc.SampleSize)
	}
	if err != nil {
		return nil, "", err
	}
	cache[key] = sfs
	return sfs, name, nil
}

// MaxAbsZ returns the largest |z| over cmps.
func MaxAbsZ(cmps []Comparison) float64 {
	var worst float64
	for _, c := range cmps {
		worst = math.Max(worst, math.Abs(c.Z))
	}
	return worst
}
