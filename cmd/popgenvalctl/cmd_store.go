package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"popgenval/internal/scenario"
	"popgenval/pkg/popgenval"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.Runs(cmd.Context(), popgenval.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			for _, run := range runs {
				fmt.Fprintf(out, "run_id=%s created_at=%s kernel=%s initial_seed=%d scenarios=%d replicates=%d completed=%d failed=%d rows=%d\n",
					run.RunID, run.CreatedAtUTC.Format("2006-01-02T15:04:05Z"), run.Kernel, run.InitialSeed,
					len(run.Scenarios), run.Replicates, run.Completed, run.Failed, run.RowsWritten)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "max runs to list")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop every stored row and run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Reset(cmd.Context()); err != nil {
				return err
			}
			store, _ := cmd.Flags().GetString("store")
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"reset": store})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset store=%s\n", store)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to another directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run-id")
			latest, _ := cmd.Flags().GetBool("latest")
			outDir, _ := cmd.Flags().GetString("out")

			client, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			exported, err := client.Export(cmd.Context(), popgenval.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), exported)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "run to export")
	cmd.Flags().Bool("latest", false, "export the most recent run")
	cmd.Flags().String("out", defaultExportsDir, "destination directory")
	return cmd
}

func newSeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Preview the seed pairs a run would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			key, _ := cmd.Flags().GetUint64("key")
			count, _ := cmd.Flags().GetInt("count")
			if count <= 0 {
				return errors.New("count must be > 0")
			}

			pairs, key, err := popgenval.Seeds(mode, key, count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]any{"key": key, "mode": mode, "seeds": pairs})
			}
			fmt.Fprintf(out, "key=%d mode=%s\n", key, mode)
			for i, p := range pairs {
				fmt.Fprintf(out, "%d ancestry=%d forward=%d\n", i, p.Ancestry, p.Forward)
			}
			return nil
		},
	}
	cmd.Flags().String("mode", "sequence", "seed allocator: sequence|rejection")
	cmd.Flags().Uint64("key", 0, "generator key (0 = random)")
	cmd.Flags().Int("count", 10, "number of seed pairs")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List named scenario grids",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			grids := make(map[string]scenario.Grid)
			for _, name := range scenario.PresetNames() {
				grid, err := scenario.Preset(name)
				if err != nil {
					return err
				}
				grids[name] = grid
			}
			if jsonOutput(cmd) {
				return writeJSON(out, grids)
			}
			for _, name := range scenario.PresetNames() {
				grid := grids[name]
				fmt.Fprintf(out, "%s scenarios=%d sizes=%v alphas=%v rhos=%v migrations=%v sample_size=%d\n",
					name, grid.Size(), grid.PopulationSizes, grid.Alphas, grid.Rhos, grid.Migrations, grid.SampleSize)
			}
			return nil
		},
	}
}

func newKernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kernels",
		Short: "List available simulation kernels",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			specs := client.Kernels()
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				type item struct {
					Name        string   `json:"name"`
					Description string   `json:"description"`
					Tables      []string `json:"tables,omitempty"`
				}
				items := make([]item, 0, len(specs))
				for _, s := range specs {
					items = append(items, item{Name: s.Name, Description: s.Description, Tables: s.Tables})
				}
				return writeJSON(out, items)
			}
			for _, s := range specs {
				fmt.Fprintf(out, "%s  %s\n", s.Name, s.Description)
			}
			return nil
		},
	}
}
