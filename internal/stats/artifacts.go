// Package stats writes per-run artifacts: the run caption, the grouped
// summary, the theory comparison table and an index of past runs.
package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"popgenval/internal/aggregate"
	"popgenval/internal/model"
)

const (
	runIndexFile      = "run_index.json"
	runMetaFile       = "run.json"
	captionFile       = "caption.rst"
	summaryFile       = "summary.json"
	comparisonCSVFile = "comparison.csv"
)

type RunArtifacts struct {
	Meta        model.RunMeta
	Groups      []aggregate.Group
	Comparisons []aggregate.Comparison
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	Name         string `json:"name,omitempty"`
	Kernel       string `json:"kernel"`
	Scenarios    int    `json:"scenarios"`
	Replicates   int    `json:"replicates"`
	Workers      int    `json:"workers"`
	InitialSeed  uint64 `json:"initial_seed"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	RowsWritten  int    `json:"rows_written"`
	CreatedAtUTC string `json:"created_at_utc"`
}

// IndexEntry summarises meta for the run index.
func IndexEntry(meta model.RunMeta) RunIndexEntry {
	return RunIndexEntry{
		RunID:        meta.RunID,
		Name:         meta.Name,
		Kernel:       meta.Kernel,
		Scenarios:    len(meta.Scenarios),
		Replicates:   meta.Replicates,
		Workers:      meta.Workers,
		InitialSeed:  meta.InitialSeed,
		Completed:    meta.Completed,
		Failed:       meta.Failed,
		RowsWritten:  meta.RowsWritten,
		CreatedAtUTC: meta.CreatedAtUTC.UTC().Format(time.RFC3339Nano),
	}
}

// Artifacts stores run outputs under a base directory or URL.
type Artifacts struct {
	base string
	fs   afs.Service
	mu   sync.Mutex
}

func NewArtifacts(base string) (*Artifacts, error) {
	if strings.TrimSpace(base) == "" {
		return nil, fmt.Errorf("artifacts base path is required")
	}
	return &Artifacts{base: base, fs: afs.New()}, nil
}

func (a *Artifacts) Base() string {
	return a.base
}

// WriteRun writes every artifact of one run and returns its directory.
func (a *Artifacts) WriteRun(ctx context.Context, artifacts RunArtifacts) (string, error) {
	runID := artifacts.Meta.RunID
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := url.Join(a.base, runID)
	if err := a.ensureDir(ctx, runDir); err != nil {
		return "", err
	}

	if err := a.writeJSON(ctx, url.Join(runDir, runMetaFile), artifacts.Meta); err != nil {
		return "", err
	}
	if err := a.upload(ctx, url.Join(runDir, captionFile), Caption(artifacts.Meta)); err != nil {
		return "", err
	}
	if err := a.writeJSON(ctx, url.Join(runDir, summaryFile), artifacts.Groups); err != nil {
		return "", err
	}
	csvData, err := ComparisonCSV(artifacts.Comparisons)
	if err != nil {
		return "", err
	}
	if err := a.upload(ctx, url.Join(runDir, comparisonCSVFile), csvData); err != nil {
		return "", err
	}
	return runDir, nil
}

// Caption renders the run caption: the initial seed followed by the
// scenario details.
func Caption(meta model.RunMeta) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "The initial_seed was %d.\n", meta.InitialSeed)
	fmt.Fprintf(&b, "The kernel was %s with %d replicates per scenario on %d workers.\n", meta.Kernel, meta.Replicates, meta.Workers)
	b.WriteString("The model details are:\n\n::\n\n")
	for _, sc := range meta.Scenarios {
		fmt.Fprintf(&b, "\t%s\n", sc.Key())
	}
	b.WriteString("\n")
	return b.Bytes()
}

// ComparisonCSV renders comparisons with a header row.
func ComparisonCSV(cmps []aggregate.Comparison) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"source", "table", "statistic", "scenario", "class", "count", "observed", "std_err", "expected", "residual", "relative_error", "z", "model"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, c := range cmps {
		if err := w.Write([]string{
			c.Source,
			c.Table,
			c.Statistic,
			c.ScenarioKey,
			strconv.Itoa(c.Class),
			strconv.Itoa(c.Count),
			formatFloat(c.Observed),
			formatFloat(c.StdErr),
			formatFloat(c.Expected),
			formatFloat(c.Residual),
			formatFloat(c.Relative),
			formatFloat(c.Z),
			c.Model,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (a *Artifacts) ReadRunMeta(ctx context.Context, runID string) (model.RunMeta, bool, error) {
	path := url.Join(a.base, runID, runMetaFile)
	var meta model.RunMeta
	ok, err := a.readJSON(ctx, path, &meta)
	return meta, ok, err
}

func (a *Artifacts) ReadSummary(ctx context.Context, runID string) ([]aggregate.Group, bool, error) {
	var groups []aggregate.Group
	ok, err := a.readJSON(ctx, url.Join(a.base, runID, summaryFile), &groups)
	return groups, ok, err
}

// Export copies a run directory to outDir/<runID>.
func (a *Artifacts) Export(ctx context.Context, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := url.Join(a.base, runID)
	exists, err := a.fs.Exists(ctx, src)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("run artifacts not found: %s", runID)
	}
	if err := a.ensureDir(ctx, outDir); err != nil {
		return "", err
	}
	dst := url.Join(outDir, runID)
	if err := a.fs.Copy(ctx, src, dst); err != nil {
		return "", fmt.Errorf("export run %s: %w", runID, err)
	}
	return dst, nil
}

// AppendRunIndex adds entry, replacing an entry with the same run id.
func (a *Artifacts) AppendRunIndex(ctx context.Context, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureDir(ctx, a.base); err != nil {
		return err
	}
	var index []RunIndexEntry
	if _, err := a.readJSON(ctx, url.Join(a.base, runIndexFile), &index); err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return a.writeJSON(ctx, url.Join(a.base, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return a.writeJSON(ctx, url.Join(a.base, runIndexFile), index)
}

// ListRunIndex returns entries newest first.
func (a *Artifacts) ListRunIndex(ctx context.Context) ([]RunIndexEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var entries []RunIndexEntry
	if _, err := a.readJSON(ctx, url.Join(a.base, runIndexFile), &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func (a *Artifacts) ensureDir(ctx context.Context, dir string) error {
	exists, _ := a.fs.Exists(ctx, dir)
	if exists {
		return nil
	}
	if err := a.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

func (a *Artifacts) writeJSON(ctx context.Context, path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return a.upload(ctx, path, data)
}

func (a *Artifacts) upload(ctx context.Context, path string, data []byte) error {
	if err := a.fs.Upload(ctx, path, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (a *Artifacts) readJSON(ctx context.Context, path string, out any) (bool, error) {
	exists, err := a.fs.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	data, err := a.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
