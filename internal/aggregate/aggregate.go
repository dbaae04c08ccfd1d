// Package aggregate groups stored rows and describes each group.
package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"popgenval/internal/model"
)

// GroupKey identifies one set of replicate values.
type GroupKey struct {
	Source      string `json:"source,omitempty"`
	Table       string `json:"table"`
	Statistic   string `json:"statistic"`
	ScenarioKey string `json:"scenario"`
	Class       int    `json:"class"`
}

// Description mirrors a pandas describe row.
type Description struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

type Group struct {
	GroupKey
	Scenario model.Scenario `json:"parameters"`
	Description
}

// Labeler names the source of a row, for example the kernel of its run.
// A nil Labeler puts every row in the same source.
type Labeler func(model.Row) string

// Summarise groups rows and describes each group. The result does not
// depend on row order.
func Summarise(rows []model.Row, label Labeler) ([]Group, error) {
	type bucket struct {
		scenario model.Scenario
		values   []float64
	}
	buckets := make(map[GroupKey]*bucket)
	for _, row := range rows {
		key := GroupKey{
			Table:       row.Table,
			Statistic:   row.Statistic,
			ScenarioKey: row.Scenario.Key(),
			Class:       row.Class,
		}
		if label != nil {
			key.Source = label(row)
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{scenario: row.Scenario}
			buckets[key] = b
		}
		b.values = append(b.values, row.Value)
	}

	out := make([]Group, 0, len(buckets))
	for key, b := range buckets {
		desc, err := Describe(b.values)
		if err != nil {
			return nil, fmt.Errorf("describe %s/%s %s class %d: %w", key.Table, key.Statistic, key.ScenarioKey, key.Class, err)
		}
		out = append(out, Group{GroupKey: key, Scenario: b.scenario, Description: desc})
	}
	SortGroups(out)
	return out, nil
}

// Describe computes count, mean, sample standard deviation, extrema and
// quartiles. Values are sorted first so the result is independent of input
// order.
func Describe(values []float64) (Description, error) {
	if len(values) == 0 {
		return Description{}, stats.ErrEmptyInput
	}
	data := stats.Float64Data(append([]float64(nil), values...))
	sort.Float64s(data)

	d := Description{Count: len(data), Min: data[0], Max: data[len(data)-1]}
	var err error
	if d.Mean, err = data.Mean(); err != nil {
		return Description{}, err
	}
	if len(data) > 1 {
		if d.Std, err = data.StandardDeviationSample(); err != nil {
			return Description{}, err
		}
	}
	if d.Median, err = data.Median(); err != nil {
		return Description{}, err
	}
	if len(data) >= 4 {
		q, err := stats.Quartile(data)
		if err != nil {
			return Description{}, err
		}
		d.Q1, d.Q3 = q.Q1, q.Q3
	} else {
		d.Q1, d.Q3 = d.Median, d.Median
	}
	return d, nil
}

// SortGroups orders by source, table, statistic, scenario and class.
func SortGroups(groups []Group) {
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].GroupKey, groups[j].GroupKey
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Statistic != b.Statistic {
			return a.Statistic < b.Statistic
		}
		if a.ScenarioKey != b.ScenarioKey {
			return a.ScenarioKey < b.ScenarioKey
		}
		return a.Class < b.Class
	})
}

// StdErr is the standard error of the group mean, or 0 for a single value.
func (g Group) StdErr() float64 {
	if g.Count < 2 {
		return 0
	}
	return g.Std / math.Sqrt(float64(g.Count))
}
