package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"popgenval/internal/model"
)

var ErrEmptyGrid = errors.New("scenario grid has no values")

// Grid lists the values of each parameter axis. Enumerate walks the cross
// product. An empty axis contributes its scalar default.
type Grid struct {
	PopulationSizes []int        `json:"population_sizes" yaml:"population_sizes"`
	Alphas          []float64    `json:"alphas" yaml:"alphas"`
	Rhos            []float64    `json:"rhos" yaml:"rhos"`
	Splits          []float64    `json:"splits,omitempty" yaml:"splits,omitempty"`
	Migrations      [][2]float64 `json:"migrations,omitempty" yaml:"migrations,omitempty"`
	// Dominance and Theta default to 1 when unset; an explicit 0 is kept.
	Dominance       *float64     `json:"dominance,omitempty" yaml:"dominance,omitempty"`
	Theta           *float64     `json:"theta,omitempty" yaml:"theta,omitempty"`
	SampleSize      int          `json:"sample_size" yaml:"sample_size"`
	Generations     int          `json:"generations,omitempty" yaml:"generations,omitempty"`
}

func (g Grid) normalized() Grid {
	if len(g.Alphas) == 0 {
		g.Alphas = []float64{0}
	}
	if len(g.Rhos) == 0 {
		g.Rhos = []float64{0}
	}
	if len(g.Splits) == 0 {
		g.Splits = []float64{0}
	}
	if len(g.Migrations) == 0 {
		g.Migrations = [][2]float64{{0, 0}}
	}
	if g.Dominance == nil {
		g.Dominance = Float(1)
	}
	if g.Theta == nil {
		g.Theta = Float(1)
	}
	if g.SampleSize == 0 {
		g.SampleSize = 20
	}
	return g
}

// Size is the number of scenarios Enumerate returns.
func (g Grid) Size() int {
	if len(g.PopulationSizes) == 0 {
		return 0
	}
	n := g.normalized()
	return len(n.PopulationSizes) * len(n.Alphas) * len(n.Rhos) * len(n.Splits) * len(n.Migrations)
}

func (g Grid) Validate() error {
	if len(g.PopulationSizes) == 0 {
		return ErrEmptyGrid
	}
	for _, size := range g.PopulationSizes {
		if size <= 0 {
			return fmt.Errorf("population size must be > 0, got %d", size)
		}
	}
	for _, rho := range g.Rhos {
		if rho < 0 {
			return fmt.Errorf("rho must be >= 0, got %g", rho)
		}
	}
	for _, split := range g.Splits {
		if split < 0 || split >= 1 {
			return fmt.Errorf("split fraction must be in [0, 1), got %g", split)
		}
	}
	for _, m := range g.Migrations {
		if m[0] < 0 || m[1] < 0 {
			return fmt.Errorf("migration rates must be >= 0, got %v", m)
		}
	}
	if g.Dominance != nil && (*g.Dominance < 0 || *g.Dominance > 2) {
		return fmt.Errorf("dominance must be in [0, 2], got %g", *g.Dominance)
	}
	if g.Theta != nil && *g.Theta < 0 {
		return fmt.Errorf("theta must be >= 0, got %g", *g.Theta)
	}
	if g.SampleSize < 0 || g.SampleSize == 1 {
		return fmt.Errorf("sample size must be >= 2, got %d", g.SampleSize)
	}
	return nil
}

// Enumerate returns the cross product in a fixed nesting order: population
// size, alpha, rho, split, migration.
func (g Grid) Enumerate() ([]model.Scenario, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	n := g.normalized()
	out := make([]model.Scenario, 0, g.Size())
	for _, size := range n.PopulationSizes {
		for _, alpha := range n.Alphas {
			for _, rho := range n.Rhos {
				for _, split := range n.Splits {
					for _, migration := range n.Migrations {
						out = append(out, model.Scenario{
							PopulationSize: size,
							Alpha:          alpha,
							Rho:            rho,
							Split:          split,
							Migration:      migration,
							Dominance:      *n.Dominance,
							Theta:          *n.Theta,
							SampleSize:     n.SampleSize,
							Generations:    n.Generations,
						})
					}
				}
			}
		}
	}
	return out, nil
}

// Float returns a pointer to v, for the optional grid fields.
func Float(v float64) *float64 {
	return &v
}

// Preset returns a named grid used by the validation reports.
func Preset(name string) (Grid, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "classic_sweep":
		return Grid{
			PopulationSizes: []int{1000},
			Alphas:          []float64{100, 1000, 10000},
			// Each rho is the cumulative distance of a neutral site from the
			// selected site, which is what the sweep spectrum takes.
			Rhos:            []float64{10, 100, 1000},
			Dominance:       Float(1),
			Theta:           Float(1),
			SampleSize:      20,
		}, nil
	case "kim_stephan_fig4":
		const n = 200000
		const s = 1e-3
		rhos := make([]float64, 0, 3)
		for _, ratio := range []float64{0.01, 0.1, 0.2} {
			rhos = append(rhos, 4*n*ratio*s)
		}
		return Grid{
			PopulationSizes: []int{n},
			Alphas:          []float64{2 * n * s},
			Rhos:            rhos,
			Dominance:       Float(1),
			Theta:           Float(1),
			SampleSize:      20,
		}, nil
	case "two_deme_im":
		return Grid{
			PopulationSizes: []int{1000},
			Splits:          []float64{0.5},
			Migrations:      [][2]float64{{0, 0}, {1, 1}, {10, 10}},
			Dominance:       Float(1),
			Theta:           Float(1),
			SampleSize:      15,
			Generations:     200,
		}, nil
	case "neutral_sfs":
		return Grid{
			PopulationSizes: []int{100},
			Alphas:          []float64{0, 10},
			Dominance:       Float(1),
			Theta:           Float(10),
			SampleSize:      10,
		}, nil
	default:
		return Grid{}, fmt.Errorf("unknown scenario preset: %s (valid: %s)", name, strings.Join(PresetNames(), ", "))
	}
}

func PresetNames() []string {
	names := []string{"classic_sweep", "kim_stephan_fig4", "two_deme_im", "neutral_sfs"}
	sort.Strings(names)
	return names
}
