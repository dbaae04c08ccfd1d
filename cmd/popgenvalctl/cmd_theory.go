package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"popgenval/internal/model"
	"popgenval/internal/theory"
)

const (
	theorySFS        = "sfs"
	theoryKimStephan = "kim_stephan"
	theoryFixation   = "fixation"
	theoryFst        = "fst"
	theoryDiversity  = "diversity"
)

type theoryRow struct {
	Statistic string  `json:"statistic"`
	Class     int     `json:"class"`
	Expected  float64 `json:"expected"`
}

func newTheoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theory",
		Short: "Print analytical expectations for one scenario",
		Long: `Print analytical expectations for one scenario.

Models:
  sfs          neutral or selected (Poisson random field) site frequency spectrum
  kim_stephan  spectrum at a linked neutral site after a sweep
  fixation     conditional fixation time of a new mutation
  fst          equilibrium island-model Fst
  diversity    expected pi and segregating sites`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			name, _ := flags.GetString("model")
			demes, _ := flags.GetInt("demes")
			migration, _ := flags.GetFloat64("migration")
			sc := model.Scenario{Dominance: 1}
			sc.PopulationSize, _ = flags.GetInt("population-size")
			sc.Alpha, _ = flags.GetFloat64("alpha")
			sc.Rho, _ = flags.GetFloat64("rho")
			sc.Theta, _ = flags.GetFloat64("theta")
			sc.SampleSize, _ = flags.GetInt("sample-size")

			rows, err := theoryRows(name, sc, demes, migration)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, rows)
			}
			for _, row := range rows {
				fmt.Fprintf(out, "%s class=%d expected=%.6g\n", row.Statistic, row.Class, row.Expected)
			}
			return nil
		},
	}
	cmd.Flags().String("model", theorySFS, "expectation: sfs|kim_stephan|fixation|fst|diversity")
	cmd.Flags().Int("population-size", 1000, "diploid population size N")
	cmd.Flags().Float64("alpha", 0, "scaled selection 2Ns")
	cmd.Flags().Float64("rho", 0, "scaled recombination 4Nr to the selected site")
	cmd.Flags().Float64("theta", 1, "scaled mutation rate 4Nu")
	cmd.Flags().Int("sample-size", 20, "sample size n")
	cmd.Flags().Int("demes", 2, "island-model deme count")
	cmd.Flags().Float64("migration", 1, "scaled migration 4Nm")
	return cmd
}

func theoryRows(name string, sc model.Scenario, demes int, migration float64) ([]theoryRow, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case theorySFS:
		return spectrumRows(theory.SelectedSFS(sc.Theta, sc.Alpha, sc.SampleSize)), nil
	case theoryKimStephan:
		sfs, err := theory.KimStephanSFS(sc, sc.SampleSize)
		if err != nil {
			return nil, err
		}
		return spectrumRows(sfs), nil
	case theoryFixation:
		return []theoryRow{
			{Statistic: "sweep_duration", Expected: theory.SweepDuration(sc)},
			{Statistic: "sweep_duration_stochastic", Expected: theory.SweepDurationStochastic(sc)},
			{Statistic: "neutral_fixation_time", Expected: theory.NeutralFixationTime(sc.PopulationSize)},
		}, nil
	case theoryFst:
		if demes < 2 {
			return nil, fmt.Errorf("demes must be >= 2, got %d", demes)
		}
		return []theoryRow{{Statistic: model.StatisticFst, Expected: theory.IslandFst(migration, demes)}}, nil
	case theoryDiversity:
		return []theoryRow{
			{Statistic: model.StatisticPi, Expected: theory.ExpectedPi(sc.Theta)},
			{Statistic: model.StatisticSegregated, Expected: theory.ExpectedSegregatingSites(sc.Theta, sc.SampleSize)},
		}, nil
	default:
		return nil, fmt.Errorf("unknown model: %s (valid: %s)", name,
			strings.Join([]string{theorySFS, theoryKimStephan, theoryFixation, theoryFst, theoryDiversity}, ", "))
	}
}

func spectrumRows(sfs []float64) []theoryRow {
	rows := make([]theoryRow, 0, len(sfs))
	for k := 1; k < len(sfs); k++ {
		rows = append(rows, theoryRow{Statistic: model.StatisticCount, Class: k, Expected: sfs[k]})
	}
	return rows
}
