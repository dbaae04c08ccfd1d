// Package popgenval is the programmatic entry point: it runs replicate
// sweeps into a result store and summarises what the store holds.
package popgenval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"popgenval/internal/accumulate"
	"popgenval/internal/aggregate"
	"popgenval/internal/config"
	"popgenval/internal/dispatch"
	"popgenval/internal/kernel"
	"popgenval/internal/logging"
	"popgenval/internal/model"
	"popgenval/internal/seed"
	"popgenval/internal/stats"
	"popgenval/internal/storage"
	"popgenval/internal/tracing"
)

const (
	defaultDBPath       = "output/data.sqlite3"
	defaultArtifactsDir = "output"
	defaultExportsDir   = "exports"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store     storage.Store
	artifacts *stats.Artifacts
	kernels   *kernel.Registry
	logger    *slog.Logger

	exportsDir string
}

type RunSummary struct {
	RunID        string        `json:"run_id"`
	Kernel       string        `json:"kernel"`
	InitialSeed  uint64        `json:"initial_seed"`
	Scenarios    int           `json:"scenarios"`
	Tasks        int           `json:"tasks"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Retries      int           `json:"retries"`
	Rows         int           `json:"rows"`
	Flushes      int           `json:"flushes"`
	Elapsed      time.Duration `json:"elapsed"`
	ArtifactsDir string        `json:"artifacts_dir,omitempty"`
	MaxAbsZ      float64       `json:"max_abs_z"`
}

type SummariseRequest struct {
	Table string
	RunID string
	// BySource splits groups by the kernel of the run that wrote them.
	BySource bool
}

type RunsRequest struct {
	Limit int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	artifacts, err := stats.NewArtifacts(artifactsDir)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		artifacts:  artifacts,
		kernels:    kernel.NewRegistry(),
		logger:     logging.OrDiscard(opts.Logger),
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Kernels lists the simulators a run can use.
func (c *Client) Kernels() []kernel.Spec {
	return c.kernels.List()
}

// Run executes one experiment. Rows flushed before an error stay in the
// store; the returned summary reflects whatever work completed.
func (c *Client) Run(ctx context.Context, exp config.Experiment) (summary RunSummary, err error) {
	if err := exp.Validate(); err != nil {
		return RunSummary{}, fmt.Errorf("invalid experiment: %w", err)
	}
	scenarios, err := exp.Grid.Enumerate()
	if err != nil {
		return RunSummary{}, err
	}

	key := exp.Seeds.Key
	if key == 0 {
		if key, err = seed.RandomKey(); err != nil {
			return RunSummary{}, err
		}
	}
	ancestry, forward, err := seed.Families(exp.Seeds.Mode, key)
	if err != nil {
		return RunSummary{}, err
	}
	pairs, err := seed.Pairs(ancestry, forward, len(scenarios)*exp.Replicates)
	if err != nil {
		return RunSummary{}, err
	}
	tasks, err := dispatch.BuildTasks(scenarios, exp.Replicates, pairs)
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	kern, err := c.kernels.Resolve(exp.Kernel, kernel.Options{
		RunID:       runID,
		ExecCommand: exp.Exec.Command,
		ExecArgs:    exp.Exec.Args,
		ExecDir:     exp.Exec.Dir,
	}, scenarios)
	if err != nil {
		return RunSummary{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "run")
	span.WithAttributes(map[string]string{"run.id": runID, "kernel": exp.Kernel}).
		WithInt("run.tasks", len(tasks))
	defer func() { tracing.EndSpan(span, err) }()

	if err := c.store.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	if !exp.Store.Append {
		if err := c.store.Reset(ctx); err != nil {
			return RunSummary{}, fmt.Errorf("reset store: %w", err)
		}
	}

	policy, _ := dispatch.ParsePolicy(exp.Policy)
	meta := storage.StampRunMeta(model.RunMeta{
		RunID:        runID,
		Name:         exp.Name,
		Kernel:       exp.Kernel,
		InitialSeed:  key,
		SeedMode:     seedMode(exp.Seeds.Mode),
		Scenarios:    scenarios,
		Replicates:   exp.Replicates,
		Workers:      exp.Workers,
		CreatedAtUTC: time.Now().UTC(),
	})
	if err := c.store.SaveRunMeta(ctx, meta); err != nil {
		return RunSummary{}, err
	}
	c.logger.Info("run started",
		"run_id", runID,
		"kernel", exp.Kernel,
		"scenarios", len(scenarios),
		"replicates", exp.Replicates,
		"initial_seed", key,
	)

	// Flushes must outlive cancellation so committed work is kept.
	storeCtx := context.WithoutCancel(ctx)
	acc := accumulate.New(c.store, exp.FlushRows, c.logger)
	pool := dispatch.Pool{Workers: exp.Workers, Policy: policy, Retry: exp.Retry, Logger: c.logger}
	dispatched, runErr := pool.Run(ctx, tasks, kern, func(out dispatch.Outcome) error {
		if out.Err != nil {
			return nil
		}
		for i := range out.Rows {
			out.Rows[i].RunID = runID
		}
		return acc.Append(storeCtx, out.Rows...)
	})
	closeErr := acc.Close(storeCtx)
	counters := acc.Counters()

	meta.Completed = dispatched.Completed
	meta.Failed = dispatched.Failed
	meta.RowsWritten = counters.Flushed
	meta.Elapsed = dispatched.Elapsed.String()
	if err := c.store.SaveRunMeta(storeCtx, meta); err != nil {
		return RunSummary{}, err
	}

	summary = RunSummary{
		RunID:       runID,
		Kernel:      exp.Kernel,
		InitialSeed: key,
		Scenarios:   len(scenarios),
		Tasks:       dispatched.Tasks,
		Completed:   dispatched.Completed,
		Failed:      dispatched.Failed,
		Skipped:     dispatched.Skipped,
		Retries:     dispatched.Retries,
		Rows:        counters.Flushed,
		Flushes:     counters.Flushes,
		Elapsed:     dispatched.Elapsed,
	}
	if err := errors.Join(runErr, closeErr); err != nil {
		return summary, err
	}

	groups, err := c.Summarise(ctx, SummariseRequest{RunID: runID})
	if err != nil {
		return summary, err
	}
	cmps := aggregate.Compare(groups)
	summary.MaxAbsZ = aggregate.MaxAbsZ(cmps)
	runDir, err := c.artifacts.WriteRun(ctx, stats.RunArtifacts{Meta: meta, Groups: groups, Comparisons: cmps})
	if err != nil {
		return summary, err
	}
	summary.ArtifactsDir = runDir
	if err := c.artifacts.AppendRunIndex(ctx, stats.IndexEntry(meta)); err != nil {
		return summary, err
	}
	c.logger.Info("run finished",
		"run_id", runID,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"rows", summary.Rows,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

// Summarise groups stored rows by table, statistic, scenario and class.
func (c *Client) Summarise(ctx context.Context, req SummariseRequest) ([]aggregate.Group, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	tables := []string{req.Table}
	if req.Table == "" {
		var err error
		if tables, err = c.store.Tables(ctx); err != nil {
			return nil, err
		}
	} else if err := storage.ValidateTableName(req.Table); err != nil {
		return nil, err
	}

	var rows []model.Row
	for _, table := range tables {
		loaded, err := c.store.LoadRows(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", table, err)
		}
		for _, row := range loaded {
			if req.RunID != "" && row.RunID != req.RunID {
				continue
			}
			rows = append(rows, row)
		}
	}

	var label aggregate.Labeler
	if req.BySource {
		runs, err := c.store.ListRunMeta(ctx)
		if err != nil {
			return nil, err
		}
		kernels := make(map[string]string, len(runs))
		for _, run := range runs {
			kernels[run.RunID] = run.Kernel
		}
		label = func(row model.Row) string {
			if k, ok := kernels[row.RunID]; ok {
				return k
			}
			return row.RunID
		}
	}
	return aggregate.Summarise(rows, label)
}

// Compare summarises and pairs each group with its expectation.
func (c *Client) Compare(ctx context.Context, req SummariseRequest) ([]aggregate.Comparison, error) {
	groups, err := c.Summarise(ctx, req)
	if err != nil {
		return nil, err
	}
	return aggregate.Compare(groups), nil
}

// Runs lists persisted run captions, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunMeta, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRunMeta(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := c.artifacts.ListRunIndex(ctx)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := c.artifacts.Export(ctx, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Reset drops every stored row and run caption.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	return c.store.Reset(ctx)
}

// Seeds previews the seed pairs a run with this mode and key would use.
// A zero key draws a fresh one, which is returned.
func Seeds(mode string, key uint64, n int) ([]model.SeedPair, uint64, error) {
	if key == 0 {
		var err error
		if key, err = seed.RandomKey(); err != nil {
			return nil, 0, err
		}
	}
	ancestry, forward, err := seed.Families(mode, key)
	if err != nil {
		return nil, 0, err
	}
	pairs, err := seed.Pairs(ancestry, forward, n)
	return pairs, key, err
}

func seedMode(mode string) string {
	if mode == "" {
		return seed.ModeSequence
	}
	return mode
}
