package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Scenario is one simulation condition. Values are copied, never shared.
type Scenario struct {
	PopulationSize int        `json:"population_size" yaml:"population_size"`
	Alpha          float64    `json:"alpha" yaml:"alpha"`
	Rho            float64    `json:"rho" yaml:"rho"`
	Split          float64    `json:"split,omitempty" yaml:"split,omitempty"`
	Migration      [2]float64 `json:"migration,omitempty" yaml:"migration,omitempty"`
	Dominance      float64    `json:"dominance" yaml:"dominance"`
	Theta          float64    `json:"theta" yaml:"theta"`
	SampleSize     int        `json:"sample_size" yaml:"sample_size"`
	Generations    int        `json:"generations,omitempty" yaml:"generations,omitempty"`
}

// Key is the canonical grouping key. Two scenarios with equal parameters
// always produce the same key.
func (s Scenario) Key() string {
	parts := []string{
		"N=" + strconv.Itoa(s.PopulationSize),
		"2Ns=" + formatFloat(s.Alpha),
		"4Nr=" + formatFloat(s.Rho),
		"h=" + formatFloat(s.Dominance),
		"theta=" + formatFloat(s.Theta),
		"n=" + strconv.Itoa(s.SampleSize),
	}
	if s.Split != 0 {
		parts = append(parts, "split="+formatFloat(s.Split))
	}
	if s.Migration != [2]float64{} {
		parts = append(parts, fmt.Sprintf("M=%s,%s", formatFloat(s.Migration[0]), formatFloat(s.Migration[1])))
	}
	if s.Generations != 0 {
		parts = append(parts, "T="+strconv.Itoa(s.Generations))
	}
	return strings.Join(parts, ";")
}

// SelectionCoefficient converts the scaled strength 2Ns into s.
func (s Scenario) SelectionCoefficient() float64 {
	if s.PopulationSize <= 0 {
		return 0
	}
	return s.Alpha / 2 / float64(s.PopulationSize)
}

// RecombinationRate converts the scaled rate 4Nr into r.
func (s Scenario) RecombinationRate() float64 {
	if s.PopulationSize <= 0 {
		return 0
	}
	return s.Rho / 4 / float64(s.PopulationSize)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// SeedPair holds the two independent seeds of one replicate: one for
// ancestry generation and one for the forward simulator.
type SeedPair struct {
	Ancestry uint32 `json:"ancestry"`
	Forward  uint32 `json:"forward"`
}

// Row is one result record produced by a replicate.
type Row struct {
	Table     string   `json:"table"`
	RunID     string   `json:"run_id,omitempty"`
	Scenario  Scenario `json:"scenario"`
	Statistic string   `json:"statistic"`
	Class     int      `json:"class"`
	Value     float64  `json:"value"`
}

const (
	TableSFS            = "sfs"
	TableFixationTimes  = "fixation_times"
	TableDiversity      = "diversity"
	TableFst            = "fst"
	StatisticCount      = "count"
	StatisticFixation   = "fixation_time"
	StatisticPi         = "pi"
	StatisticSegregated = "segregating_sites"
	StatisticFst        = "fst"
)

// RunMeta is the persisted caption of one dispatch run.
type RunMeta struct {
	VersionedRecord
	RunID        string     `json:"run_id"`
	Name         string     `json:"name,omitempty"`
	Kernel       string     `json:"kernel"`
	InitialSeed  uint64     `json:"initial_seed"`
	SeedMode     string     `json:"seed_mode"`
	Scenarios    []Scenario `json:"scenarios"`
	Replicates   int        `json:"replicates"`
	Workers      int        `json:"workers"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	RowsWritten  int        `json:"rows_written"`
	CreatedAtUTC time.Time  `json:"created_at_utc"`
	Elapsed      string     `json:"elapsed,omitempty"`
}
