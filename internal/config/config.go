// Package config loads experiment definitions from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"popgenval/internal/accumulate"
	"popgenval/internal/dispatch"
	"popgenval/internal/kernel"
	"popgenval/internal/scenario"
	"popgenval/internal/seed"
)

// Experiment is one replicate sweep: what to simulate, how often and
// where the results go.
type Experiment struct {
	Name         string               `json:"name" yaml:"name"`
	Kernel       string               `json:"kernel" yaml:"kernel"`
	Preset       string               `json:"preset,omitempty" yaml:"preset,omitempty"`
	Grid         scenario.Grid        `json:"grid" yaml:"grid"`
	Replicates   int                  `json:"replicates" yaml:"replicates"`
	Workers      int                  `json:"workers" yaml:"workers"`
	FlushRows    int                  `json:"flush_rows" yaml:"flush_rows"`
	Policy       string               `json:"policy" yaml:"policy"`
	Retry        dispatch.RetryPolicy `json:"retry" yaml:"retry"`
	Seeds        SeedConfig           `json:"seeds" yaml:"seeds"`
	Store        StoreConfig          `json:"store" yaml:"store"`
	ArtifactsDir string               `json:"artifacts_dir" yaml:"artifacts_dir"`
	Logging      LoggingConfig        `json:"logging" yaml:"logging"`
	Tracing      TracingConfig        `json:"tracing" yaml:"tracing"`
	Exec         ExecConfig           `json:"exec" yaml:"exec"`
}

type SeedConfig struct {
	Mode string `json:"mode" yaml:"mode"`
	// Key fixes the generator key; 0 draws a fresh one per run.
	Key uint64 `json:"key" yaml:"key"`
}

type StoreConfig struct {
	Kind   string `json:"kind" yaml:"kind"`
	Path   string `json:"path" yaml:"path"`
	Append bool   `json:"append" yaml:"append"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`
}

type ExecConfig struct {
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

func Default() *Experiment {
	return &Experiment{
		Name:       "experiment",
		Kernel:     kernel.WFFixationName,
		Grid:       scenario.Grid{PopulationSizes: []int{1000}, Alphas: []float64{100}},
		Replicates: 100,
		FlushRows:  accumulate.DefaultFlushRows,
		Policy:     string(dispatch.FailFast),
		Retry:      dispatch.DefaultRetryPolicy(),
		Seeds:      SeedConfig{Mode: seed.ModeSequence},
		Store: StoreConfig{
			Path: "output/data.sqlite3",
		},
		ArtifactsDir: "output",
		Logging:      LoggingConfig{Level: "info"},
	}
}

// LoadFromFile reads path over the defaults and applies environment
// overrides. A non-empty preset replaces the grid.
func LoadFromFile(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	exp, err := Parse(data)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(exp)
	return exp, nil
}

func Parse(data []byte) (*Experiment, error) {
	exp := Default()
	if err := yaml.Unmarshal(data, exp); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if exp.Preset != "" {
		grid, err := scenario.Preset(exp.Preset)
		if err != nil {
			return nil, err
		}
		exp.Grid = grid
	}
	exp.Exec.Command = expandEnvVars(exp.Exec.Command)
	return exp, nil
}

func (e *Experiment) Validate() error {
	if strings.TrimSpace(e.Kernel) == "" {
		return fmt.Errorf("kernel is required")
	}
	if e.Replicates <= 0 {
		return fmt.Errorf("replicates must be > 0, got %d", e.Replicates)
	}
	if e.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", e.Workers)
	}
	if e.FlushRows < 0 {
		return fmt.Errorf("flush_rows must be >= 0, got %d", e.FlushRows)
	}
	if _, err := dispatch.ParsePolicy(e.Policy); err != nil {
		return err
	}
	if e.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts must be >= 0, got %d", e.Retry.MaxAttempts)
	}
	switch e.Seeds.Mode {
	case "", seed.ModeSequence, seed.ModeRejection:
	default:
		return fmt.Errorf("invalid seed mode: %s (valid: %s, %s)", e.Seeds.Mode, seed.ModeSequence, seed.ModeRejection)
	}
	switch e.Store.Kind {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store kind: %s (valid: memory, sqlite, or empty for default)", e.Store.Kind)
	}
	if e.Store.Kind == "sqlite" && e.Store.Path == "" {
		return fmt.Errorf("store path is required for sqlite")
	}
	validLevels := map[string]bool{"info": true, "debug": true, "trace": true, "warn": true, "error": true}
	if e.Logging.Level != "" && !validLevels[e.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, warn, error, or empty for default)", e.Logging.Level)
	}
	if e.Kernel == kernel.ExecName && strings.TrimSpace(e.Exec.Command) == "" {
		return fmt.Errorf("exec kernel requires exec.command")
	}
	if err := e.Grid.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	total := e.Grid.Size() * e.Replicates
	if total > 1<<31 {
		return fmt.Errorf("%d tasks exceed the seed space", total)
	}
	return nil
}

// ApplyEnvOverrides lets the environment adjust sizing and output without
// editing the file.
func ApplyEnvOverrides(e *Experiment) {
	if v := os.Getenv("POPGENVAL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			e.Workers = n
		}
	}
	if v := os.Getenv("POPGENVAL_REPLICATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			e.Replicates = n
		}
	}
	if v := os.Getenv("POPGENVAL_DB_PATH"); v != "" {
		e.Store.Path = v
	}
	if v := os.Getenv("POPGENVAL_LOG_LEVEL"); v != "" {
		e.Logging.Level = v
	}
}

func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
