package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"popgenval/internal/config"
	"popgenval/internal/scenario"
	"popgenval/internal/tracing"
	"popgenval/pkg/popgenval"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a replicate sweep",
		Long: `Run every replicate of every scenario in the experiment grid and
append the result rows to the store. Without --config the built-in
defaults are used; flags override both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := loadExperiment(cmd)
			if err != nil {
				return err
			}
			if err := exp.Validate(); err != nil {
				return fmt.Errorf("invalid experiment: %w", err)
			}

			if exp.Tracing.Enabled {
				if err := tracing.Init("popgenvalctl", version, exp.Tracing.Output); err != nil {
					return fmt.Errorf("init tracing: %w", err)
				}
				defer func() { _ = tracing.Shutdown(cmd.Context()) }()
			}

			opts := clientOptions(cmd, exp.Store.Kind, exp.Store.Path, exp.ArtifactsDir)
			opts.Logger = newLogger(cmd, exp.Logging.Level)
			client, err := popgenval.New(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, runErr := client.Run(cmd.Context(), *exp)
			if summary.RunID == "" {
				return runErr
			}
			if jsonOutput(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
				return runErr
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id=%s kernel=%s initial_seed=%d\n", summary.RunID, summary.Kernel, summary.InitialSeed)
			fmt.Fprintf(out, "tasks=%d completed=%d failed=%d skipped=%d retries=%d\n",
				summary.Tasks, summary.Completed, summary.Failed, summary.Skipped, summary.Retries)
			fmt.Fprintf(out, "rows=%d flushes=%d elapsed=%s\n", summary.Rows, summary.Flushes, summary.Elapsed)
			if summary.ArtifactsDir != "" {
				fmt.Fprintf(out, "artifacts=%s max_abs_z=%.3f\n", summary.ArtifactsDir, summary.MaxAbsZ)
			}
			return runErr
		},
	}

	cmd.Flags().String("config", "", "experiment YAML file")
	cmd.Flags().String("preset", "", "named scenario grid, replaces the configured grid")
	cmd.Flags().String("kernel", "", "simulation kernel")
	cmd.Flags().Int("replicates", 0, "replicates per scenario")
	cmd.Flags().Int("workers", 0, "concurrent workers (0 = configured or NumCPU)")
	cmd.Flags().Int("flush-rows", 0, "rows buffered before a store flush")
	cmd.Flags().String("policy", "", "failure policy: fail_fast|continue")
	cmd.Flags().String("seed-mode", "", "seed allocator: sequence|rejection")
	cmd.Flags().Uint64("seed-key", 0, "seed generator key (0 = random)")
	cmd.Flags().Bool("append", false, "keep existing rows instead of resetting the store")
	cmd.Flags().Bool("trace", false, "write OpenTelemetry spans to stderr or the configured file")
	return cmd
}

func loadExperiment(cmd *cobra.Command) (*config.Experiment, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	var exp *config.Experiment
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		exp = loaded
	} else {
		exp = config.Default()
		config.ApplyEnvOverrides(exp)
	}

	if flags.Changed("preset") {
		name, _ := flags.GetString("preset")
		grid, err := scenario.Preset(name)
		if err != nil {
			return nil, err
		}
		exp.Preset = name
		exp.Grid = grid
	}
	if flags.Changed("kernel") {
		exp.Kernel, _ = flags.GetString("kernel")
	}
	if flags.Changed("replicates") {
		exp.Replicates, _ = flags.GetInt("replicates")
	}
	if flags.Changed("workers") {
		exp.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("flush-rows") {
		exp.FlushRows, _ = flags.GetInt("flush-rows")
	}
	if flags.Changed("policy") {
		exp.Policy, _ = flags.GetString("policy")
	}
	if flags.Changed("seed-mode") {
		exp.Seeds.Mode, _ = flags.GetString("seed-mode")
	}
	if flags.Changed("seed-key") {
		exp.Seeds.Key, _ = flags.GetUint64("seed-key")
	}
	if flags.Changed("append") {
		exp.Store.Append, _ = flags.GetBool("append")
	}
	if flags.Changed("trace") {
		exp.Tracing.Enabled, _ = flags.GetBool("trace")
	}
	if flags.Changed("log-level") {
		exp.Logging.Level, _ = flags.GetString("log-level")
	}
	return exp, nil
}
