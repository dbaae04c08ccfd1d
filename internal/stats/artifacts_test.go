package stats

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"popgenval/internal/aggregate"
	"popgenval/internal/model"
)

func sampleMeta(runID string, created time.Time) model.RunMeta {
	return model.RunMeta{
		RunID:        runID,
		Kernel:       "wf_fixation",
		InitialSeed:  4242,
		Scenarios:    []model.Scenario{{PopulationSize: 1000, Alpha: 100, Dominance: 1, Theta: 1, SampleSize: 20}},
		Replicates:   4,
		Workers:      2,
		Completed:    4,
		RowsWritten:  4,
		CreatedAtUTC: created,
	}
}

func TestWriteRunAndExport(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	arts, err := NewArtifacts(base)
	if err != nil {
		t.Fatalf("new artifacts: %v", err)
	}

	meta := sampleMeta("run-123", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	groups := []aggregate.Group{{
		GroupKey:    aggregate.GroupKey{Table: model.TableFixationTimes, Statistic: model.StatisticFixation, ScenarioKey: meta.Scenarios[0].Key()},
		Scenario:    meta.Scenarios[0],
		Description: aggregate.Description{Count: 4, Mean: 210},
	}}
	runDir, err := arts.WriteRun(ctx, RunArtifacts{Meta: meta, Groups: groups, Comparisons: aggregate.Compare(groups)})
	if err != nil {
		t.Fatalf("write run: %v", err)
	}
	for _, name := range []string{runMetaFile, captionFile, summaryFile, comparisonCSVFile} {
		if _, err := os.Stat(filepath.Join(base, "run-123", name)); err != nil {
			t.Fatalf("expected %s in %s: %v", name, runDir, err)
		}
	}

	caption, err := os.ReadFile(filepath.Join(base, "run-123", captionFile))
	if err != nil {
		t.Fatalf("read caption: %v", err)
	}
	if !strings.Contains(string(caption), "The initial_seed was 4242.") || !strings.Contains(string(caption), "2Ns=100") {
		t.Fatalf("unexpected caption:\n%s", caption)
	}

	loaded, ok, err := arts.ReadRunMeta(ctx, "run-123")
	if err != nil || !ok {
		t.Fatalf("read run meta: ok=%v err=%v", ok, err)
	}
	if loaded.InitialSeed != 4242 || len(loaded.Scenarios) != 1 {
		t.Fatalf("unexpected meta: %+v", loaded)
	}
	summary, ok, err := arts.ReadSummary(ctx, "run-123")
	if err != nil || !ok || len(summary) != 1 || summary[0].Scenario.Alpha != 100 {
		t.Fatalf("unexpected summary: %+v ok=%v err=%v", summary, ok, err)
	}
	if _, ok, err := arts.ReadRunMeta(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%v err=%v", ok, err)
	}

	outDir := filepath.Join(t.TempDir(), "exports")
	if _, err := arts.Export(ctx, "run-123", outDir); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "run-123", captionFile)); err != nil {
		t.Fatalf("expected exported caption: %v", err)
	}
	if _, err := arts.Export(ctx, "missing", outDir); err == nil {
		t.Fatal("expected export of missing run to fail")
	}
}

func TestComparisonCSV(t *testing.T) {
	data, err := ComparisonCSV([]aggregate.Comparison{{
		GroupKey: aggregate.GroupKey{Table: model.TableSFS, Statistic: model.StatisticCount, ScenarioKey: "N=10", Class: 2},
		Count:    3, Observed: 0.5, Expected: 0.5, Model: "prf_sfs",
	}})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", data)
	}
	if !strings.HasPrefix(lines[0], "source,table,statistic") || !strings.Contains(lines[1], "sfs,count,N=10,2,3,0.5") {
		t.Fatalf("unexpected csv:\n%s", data)
	}
}

func TestRunIndexNewestFirst(t *testing.T) {
	ctx := context.Background()
	arts, err := NewArtifacts(filepath.Join(t.TempDir(), "nested", "output"))
	if err != nil {
		t.Fatalf("new artifacts: %v", err)
	}
	older := IndexEntry(sampleMeta("a", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	newer := IndexEntry(sampleMeta("b", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	for _, e := range []RunIndexEntry{older, newer} {
		if err := arts.AppendRunIndex(ctx, e); err != nil {
			t.Fatalf("append index: %v", err)
		}
	}
	older.Failed = 2
	if err := arts.AppendRunIndex(ctx, older); err != nil {
		t.Fatalf("replace index entry: %v", err)
	}
	entries, err := arts.ListRunIndex(ctx)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(entries) != 2 || entries[0].RunID != "b" || entries[1].Failed != 2 {
		t.Fatalf("unexpected index: %+v", entries)
	}
	if err := arts.AppendRunIndex(ctx, RunIndexEntry{}); err == nil {
		t.Fatal("expected run id error")
	}
}

func TestNewArtifactsRequiresBase(t *testing.T) {
	if _, err := NewArtifacts(" "); err == nil {
		t.Fatal("expected base path error")
	}
}
