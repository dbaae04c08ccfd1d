package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"popgenval/pkg/popgenval"
)

func newSummariseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "summarise",
		Aliases: []string{"summarize"},
		Short:   "Summarise stored rows and compare them with theory",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, _ := cmd.Flags().GetString("table")
			runID, _ := cmd.Flags().GetString("run-id")
			bySource, _ := cmd.Flags().GetBool("by-source")
			compare, _ := cmd.Flags().GetBool("compare")

			client, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			req := popgenval.SummariseRequest{Table: table, RunID: runID, BySource: bySource}
			out := cmd.OutOrStdout()
			if compare {
				cmps, err := client.Compare(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(out, cmps)
				}
				if len(cmps) == 0 {
					fmt.Fprintln(out, "no comparable groups")
					return nil
				}
				for _, c := range cmps {
					fmt.Fprintf(out, "%s%s/%s class=%d %s count=%d observed=%.6g expected=%.6g z=%.3f model=%s\n",
						sourcePrefix(c.Source), c.Table, c.Statistic, c.Class, c.ScenarioKey,
						c.Count, c.Observed, c.Expected, c.Z, c.Model)
				}
				return nil
			}

			groups, err := client.Summarise(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(out, groups)
			}
			if len(groups) == 0 {
				fmt.Fprintln(out, "no rows found")
				return nil
			}
			for _, g := range groups {
				fmt.Fprintf(out, "%s%s/%s class=%d %s count=%d mean=%.6g std=%.6g min=%.6g median=%.6g max=%.6g\n",
					sourcePrefix(g.Source), g.Table, g.Statistic, g.Class, g.ScenarioKey,
					g.Count, g.Mean, g.Std, g.Min, g.Median, g.Max)
			}
			return nil
		},
	}
	cmd.Flags().String("table", "", "restrict to one table (default: all)")
	cmd.Flags().String("run-id", "", "restrict to rows of one run")
	cmd.Flags().Bool("by-source", false, "split groups by the kernel that produced them")
	cmd.Flags().Bool("compare", false, "pair each group with its analytical expectation")
	return cmd
}

func sourcePrefix(source string) string {
	if source == "" {
		return ""
	}
	return "[" + source + "] "
}
