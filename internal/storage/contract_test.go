package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"popgenval/internal/model"
)

func exerciseStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	scenario := model.Scenario{PopulationSize: 1000, Alpha: 100, Rho: 10, Migration: [2]float64{1, 2}, Dominance: 1, Theta: 1, SampleSize: 20}
	first := []model.Row{
		{RunID: "run-1", Scenario: scenario, Statistic: model.StatisticCount, Class: 1, Value: 0.5},
		{RunID: "run-1", Scenario: scenario, Statistic: model.StatisticCount, Class: 2, Value: 0.25},
	}
	second := []model.Row{
		{RunID: "run-1", Scenario: scenario, Statistic: model.StatisticCount, Class: 3, Value: 0.125},
	}
	if err := store.AppendRows(ctx, model.TableSFS, first); err != nil {
		t.Fatalf("append first batch: %v", err)
	}
	if err := store.AppendRows(ctx, model.TableSFS, second); err != nil {
		t.Fatalf("append second batch: %v", err)
	}
	if err := store.AppendRows(ctx, model.TableFixationTimes, []model.Row{
		{RunID: "run-1", Scenario: scenario, Statistic: model.StatisticFixation, Value: 1234},
	}); err != nil {
		t.Fatalf("append fixation row: %v", err)
	}
	if err := store.AppendRows(ctx, "Bad Name;", first); !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("expected ErrInvalidTable, got %v", err)
	}

	count, err := store.CountRows(ctx, model.TableSFS)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 sfs rows, got %d", count)
	}

	rows, err := store.LoadRows(ctx, model.TableSFS)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 loaded rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Class != i+1 {
			t.Fatalf("expected arrival order, row %d has class %d", i, row.Class)
		}
		if row.Table != model.TableSFS || row.RunID != "run-1" {
			t.Fatalf("unexpected row tags: %+v", row)
		}
		if row.Scenario.Key() != scenario.Key() {
			t.Fatalf("scenario did not round trip: %s vs %s", row.Scenario.Key(), scenario.Key())
		}
	}

	tables, err := store.Tables(ctx)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 2 || tables[0] != model.TableFixationTimes || tables[1] != model.TableSFS {
		t.Fatalf("unexpected tables: %v", tables)
	}

	older := StampRunMeta(model.RunMeta{RunID: "run-0", Kernel: "wf_fixation", CreatedAtUTC: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	newer := StampRunMeta(model.RunMeta{RunID: "run-1", Kernel: "prf_sfs", Scenarios: []model.Scenario{scenario}, CreatedAtUTC: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	for _, meta := range []model.RunMeta{older, newer} {
		if err := store.SaveRunMeta(ctx, meta); err != nil {
			t.Fatalf("save run meta: %v", err)
		}
	}
	loaded, ok, err := store.GetRunMeta(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run meta: ok=%v err=%v", ok, err)
	}
	if loaded.Kernel != "prf_sfs" || len(loaded.Scenarios) != 1 {
		t.Fatalf("unexpected run meta: %+v", loaded)
	}
	if _, ok, err := store.GetRunMeta(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%v err=%v", ok, err)
	}
	runs, err := store.ListRunMeta(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-1" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	count, err = store.CountRows(ctx, model.TableSFS)
	if err != nil {
		t.Fatalf("count after reset: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty table after reset, got %d rows", count)
	}
	runs, err = store.ListRunMeta(ctx)
	if err != nil {
		t.Fatalf("list runs after reset: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(runs))
	}
	if err := store.AppendRows(ctx, model.TableSFS, second); err != nil {
		t.Fatalf("append after reset: %v", err)
	}
}
