package aggregate

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/montanaflynn/stats"

	"popgenval/internal/model"
)

func TestDescribe(t *testing.T) {
	d, err := Describe([]float64{4, 1, 3, 2, 5})
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if d.Count != 5 || d.Mean != 3 || d.Min != 1 || d.Max != 5 || d.Median != 3 {
		t.Fatalf("unexpected description: %+v", d)
	}
	if math.Abs(d.Std-math.Sqrt(2.5)) > 1e-12 {
		t.Fatalf("expected sample std sqrt(2.5), got %v", d.Std)
	}
	if d.Q1 >= d.Median || d.Q3 <= d.Median {
		t.Fatalf("unexpected quartiles: %+v", d)
	}
	if _, err := Describe(nil); !errors.Is(err, stats.ErrEmptyInput) {
		t.Fatalf("expected empty input error, got %v", err)
	}
	single, err := Describe([]float64{7})
	if err != nil {
		t.Fatalf("describe single: %v", err)
	}
	if single.Std != 0 || single.Q1 != 7 || single.Q3 != 7 {
		t.Fatalf("unexpected single description: %+v", single)
	}
}

func TestSummariseIsOrderIndependent(t *testing.T) {
	a := model.Scenario{PopulationSize: 100, Alpha: 10, Theta: 1, SampleSize: 4}
	b := a
	b.Alpha = 100
	var rows []model.Row
	for i := 0; i < 200; i++ {
		sc := a
		if i%2 == 1 {
			sc = b
		}
		rows = append(rows, model.Row{
			Table:     model.TableSFS,
			Scenario:  sc,
			Statistic: model.StatisticCount,
			Class:     1 + i%3,
			Value:     float64(i%17) * 0.1,
		})
	}
	first, err := Summarise(rows, nil)
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}

	shuffled := append([]model.Row(nil), rows...)
	rng := rand.New(rand.NewPCG(1, 2))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second, err := Summarise(shuffled, nil)
	if err != nil {
		t.Fatalf("summarise shuffled: %v", err)
	}
	if len(first) != 6 || len(second) != len(first) {
		t.Fatalf("expected 6 groups, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].GroupKey != second[i].GroupKey || first[i].Description != second[i].Description {
			t.Fatalf("group %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSummariseSplitsBySource(t *testing.T) {
	sc := model.Scenario{PopulationSize: 100, Alpha: 100}
	rows := []model.Row{
		{RunID: "a", Table: model.TableFixationTimes, Scenario: sc, Statistic: model.StatisticFixation, Value: 10},
		{RunID: "b", Table: model.TableFixationTimes, Scenario: sc, Statistic: model.StatisticFixation, Value: 20},
		{RunID: "b", Table: model.TableFixationTimes, Scenario: sc, Statistic: model.StatisticFixation, Value: 30},
	}
	kernels := map[string]string{"a": "exec", "b": "wf_fixation"}
	groups, err := Summarise(rows, func(r model.Row) string { return kernels[r.RunID] })
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}
	if len(groups) != 2 || groups[0].Source != "exec" || groups[1].Mean != 25 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestCompareFixationAndSpectrum(t *testing.T) {
	sweep := model.Scenario{PopulationSize: 1000, Alpha: 100, Dominance: 1, Theta: 1, SampleSize: 5}
	neutral := model.Scenario{PopulationSize: 100, Dominance: 1, Theta: 2, SampleSize: 5}
	rows := []model.Row{
		{Table: model.TableFixationTimes, Scenario: sweep, Statistic: model.StatisticFixation, Value: 200},
		{Table: model.TableFixationTimes, Scenario: sweep, Statistic: model.StatisticFixation, Value: 220},
		{Table: model.TableSFS, Scenario: neutral, Statistic: model.StatisticCount, Class: 2, Value: 1},
		{Table: model.TableSFS, Scenario: neutral, Statistic: model.StatisticCount, Class: 2, Value: 1},
		{Table: model.TableSFS, Scenario: neutral, Statistic: "count_deme0", Class: 2, Value: 1},
	}
	groups, err := Summarise(rows, nil)
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}
	cmps := Compare(groups)
	if len(cmps) != 2 {
		t.Fatalf("expected two comparisons, got %+v", cmps)
	}
	for _, c := range cmps {
		switch c.Table {
		case model.TableFixationTimes:
			want := 2 * math.Log(200) / 0.05
			if math.Abs(c.Expected-want) > 1e-9 || c.Model != "sweep_duration" {
				t.Fatalf("unexpected fixation comparison: %+v", c)
			}
			if math.Abs(c.Residual-(210-want)) > 1e-9 {
				t.Fatalf("unexpected residual: %+v", c)
			}
		case model.TableSFS:
			if c.Expected != 1 || c.Residual != 0 || c.Model != "prf_sfs" {
				t.Fatalf("unexpected spectrum comparison: %+v", c)
			}
		}
	}
}

func TestCompareUsesKimStephanForLinkedSites(t *testing.T) {
	sc := model.Scenario{PopulationSize: 1000, Alpha: 1000, Rho: 10, Dominance: 1, Theta: 1, SampleSize: 10}
	groups, err := Summarise([]model.Row{
		{Table: model.TableSFS, Scenario: sc, Statistic: model.StatisticCount, Class: 1, Value: 0.3},
	}, nil)
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}
	cmps := Compare(groups)
	if len(cmps) != 1 || cmps[0].Model != "kim_stephan" || cmps[0].Expected <= 0 {
		t.Fatalf("unexpected comparison: %+v", cmps)
	}
	if MaxAbsZ(cmps) != 0 {
		t.Fatalf("single replicate has no z score")
	}
}
