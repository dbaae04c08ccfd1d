package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"popgenval/internal/logging"
	"popgenval/internal/storage"
	"popgenval/pkg/popgenval"
)

var version = "0.1.0-dev"

const (
	defaultDBPath       = "output/data.sqlite3"
	defaultArtifactsDir = "output"
	defaultExportsDir   = "exports"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "popgenvalctl",
		Short: "Replicate sweeps that validate population-genetics simulators",
		Long: `popgenvalctl runs many independent replicates of a forward simulator
over a grid of scenarios, stores every result row, and compares the
summarised output with analytical expectations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	rootCmd.PersistentFlags().String("db-path", defaultDBPath, "sqlite database path")
	rootCmd.PersistentFlags().String("artifacts-dir", defaultArtifactsDir, "directory for run artifacts")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace|debug|info|warn|error")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSummariseCmd(),
		newTheoryCmd(),
		newSeedsCmd(),
		newRunsCmd(),
		newResetCmd(),
		newPresetsCmd(),
		newKernelsCmd(),
		newExportCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "popgenvalctl version %s\n", version)
			return nil
		},
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func newLogger(cmd *cobra.Command, level string) *slog.Logger {
	if level == "" {
		level, _ = cmd.Flags().GetString("log-level")
	}
	return logging.NewLogger(level, cmd.ErrOrStderr())
}

// clientOptions reads the persistent storage flags. Values passed in
// override the flag defaults but not explicitly set flags.
func clientOptions(cmd *cobra.Command, storeKind, dbPath, artifactsDir string) popgenval.Options {
	flags := cmd.Flags()
	if storeKind == "" || flags.Changed("store") {
		storeKind, _ = flags.GetString("store")
	}
	if dbPath == "" || flags.Changed("db-path") {
		dbPath, _ = flags.GetString("db-path")
	}
	if artifactsDir == "" || flags.Changed("artifacts-dir") {
		artifactsDir, _ = flags.GetString("artifacts-dir")
	}
	return popgenval.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   defaultExportsDir,
	}
}

func openClient(cmd *cobra.Command) (*popgenval.Client, error) {
	opts := clientOptions(cmd, "", "", "")
	opts.Logger = newLogger(cmd, "")
	return popgenval.New(opts)
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
