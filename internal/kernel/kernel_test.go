package kernel

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"testing"

	"popgenval/internal/dispatch"
	"popgenval/internal/model"
	"popgenval/internal/storage"
)

func task(sc model.Scenario, index int) dispatch.Task {
	return dispatch.Task{
		Index:    index,
		Scenario: sc,
		Seeds:    model.SeedPair{Ancestry: uint32(7*index + 1), Forward: uint32(13*index + 5)},
	}
}

func TestWFFixationIsReproducible(t *testing.T) {
	sc := model.Scenario{PopulationSize: 200, Alpha: 50, Dominance: 1}
	a, err := WFFixation(context.Background(), task(sc, 1))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := WFFixation(context.Background(), task(sc, 1))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(a) != 1 || a[0].Value != b[0].Value {
		t.Fatalf("expected identical rows for identical seeds: %+v vs %+v", a, b)
	}
	if a[0].Table != model.TableFixationTimes || a[0].Value < 1 {
		t.Fatalf("unexpected row: %+v", a[0])
	}
}

func TestWFFixationMeanMatchesSweepDuration(t *testing.T) {
	sc := model.Scenario{PopulationSize: 500, Alpha: 200, Dominance: 1}
	const reps = 40
	var total float64
	for i := 0; i < reps; i++ {
		rows, err := WFFixation(context.Background(), task(sc, i))
		if err != nil {
			t.Fatalf("replicate %d: %v", i, err)
		}
		total += rows[0].Value
	}
	mean := total / reps
	s := sc.SelectionCoefficient()
	expected := 2 * math.Log(4*float64(sc.PopulationSize)*s) / s
	if math.Abs(mean-expected)/expected > 0.3 {
		t.Fatalf("mean fixation time %.1f too far from %.1f", mean, expected)
	}
}

func TestWFFixationNeutralMeanIsFourN(t *testing.T) {
	sc := model.Scenario{PopulationSize: 20, Dominance: 1}
	const reps = 300
	var total float64
	for i := 0; i < reps; i++ {
		rows, err := WFFixation(context.Background(), task(sc, i))
		if err != nil {
			t.Fatalf("replicate %d: %v", i, err)
		}
		total += rows[0].Value
	}
	mean := total / reps
	if math.Abs(mean-80)/80 > 0.2 {
		t.Fatalf("neutral mean fixation time %.1f, expected about 80", mean)
	}
}

func TestWFFixationHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WFFixation(ctx, task(model.Scenario{PopulationSize: 10, Dominance: 1}, 0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPRFSFSNeutralMatchesThetaOverK(t *testing.T) {
	sc := model.Scenario{PopulationSize: 50, Theta: 10, Dominance: 1, SampleSize: 10}
	const reps = 100
	n := sc.SampleSize
	sums := make([]float64, n)
	var pi, segregating float64
	for i := 0; i < reps; i++ {
		rows, err := PRFSFS(context.Background(), task(sc, i))
		if err != nil {
			t.Fatalf("replicate %d: %v", i, err)
		}
		if len(rows) != n+1 {
			t.Fatalf("expected %d rows, got %d", n+1, len(rows))
		}
		for _, row := range rows {
			switch {
			case row.Table == model.TableSFS:
				sums[row.Class] += row.Value
			case row.Statistic == model.StatisticPi:
				pi += row.Value
			case row.Statistic == model.StatisticSegregated:
				segregating += row.Value
			}
		}
	}
	singletons := sums[1] / reps
	if math.Abs(singletons-sc.Theta)/sc.Theta > 0.25 {
		t.Fatalf("mean singleton count %.2f, expected about %.2f", singletons, sc.Theta)
	}
	var harmonic float64
	for k := 1; k < n; k++ {
		harmonic += 1 / float64(k)
	}
	if got, want := segregating/reps, sc.Theta*harmonic; math.Abs(got-want)/want > 0.15 {
		t.Fatalf("mean segregating sites %.2f, expected about %.2f", got, want)
	}
	if got := pi / reps; math.Abs(got-sc.Theta)/sc.Theta > 0.2 {
		t.Fatalf("mean pi %.2f, expected about %.2f", got, sc.Theta)
	}
}

func TestIMFstDecreasesWithMigration(t *testing.T) {
	base := model.Scenario{PopulationSize: 100, Theta: 10, Dominance: 1, SampleSize: 10, Split: 0.5, Generations: 200}
	meanFst := func(m float64) float64 {
		sc := base
		sc.Migration = [2]float64{m, m}
		var total float64
		var count int
		for i := 0; i < 30; i++ {
			rows, err := IMFst(context.Background(), task(sc, i))
			if err != nil {
				t.Fatalf("replicate %d: %v", i, err)
			}
			for _, row := range rows {
				if row.Table == model.TableFst {
					total += row.Value
					count++
				}
			}
		}
		if count == 0 {
			t.Fatalf("no fst rows for M=%v", m)
		}
		return total / float64(count)
	}
	isolated := meanFst(0)
	connected := meanFst(20)
	if isolated <= connected {
		t.Fatalf("expected Fst to drop with migration: M=0 %.3f, M=20 %.3f", isolated, connected)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	names := make([]string, 0)
	for _, spec := range reg.List() {
		names = append(names, spec.Name)
	}
	want := []string{ExecName, IMFstName, PRFSFSName, WFFixationName}
	if len(names) != len(want) {
		t.Fatalf("unexpected kernels: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected kernels: %v", names)
		}
	}

	if _, err := reg.Resolve("slim", Options{}, nil); !errors.Is(err, ErrKernelNotFound) {
		t.Fatalf("expected ErrKernelNotFound, got %v", err)
	}
	_, err := reg.Resolve(IMFstName, Options{}, []model.Scenario{{PopulationSize: 10, SampleSize: 4}})
	if !errors.Is(err, ErrKernelIncompatible) {
		t.Fatalf("expected ErrKernelIncompatible, got %v", err)
	}
	if _, err := reg.Resolve(ExecName, Options{}, nil); err == nil {
		t.Fatal("expected exec kernel without command to fail")
	}
	if err := reg.Register(Spec{Name: WFFixationName, Factory: staticFactory(WFFixation)}); !errors.Is(err, ErrKernelExists) {
		t.Fatalf("expected ErrKernelExists, got %v", err)
	}
	k, err := reg.Resolve(WFFixationName, Options{}, []model.Scenario{{PopulationSize: 10, Alpha: 10, Dominance: 1}})
	if err != nil || k == nil {
		t.Fatalf("resolve wf_fixation: %v", err)
	}
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecKernelDecodesRows(t *testing.T) {
	sh := requireShell(t)
	k := NewExec(Options{
		ExecCommand: sh,
		ExecArgs:    []string{"-c", `cat >/dev/null; echo '[{"table":"fixation_times","statistic":"fixation_time","value":12}]'`},
	})
	sc := model.Scenario{PopulationSize: 10, Alpha: 1}
	rows, err := k(context.Background(), task(sc, 0))
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != 12 || rows[0].Scenario.Key() != sc.Key() {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestExecKernelNonZeroExitIsFatal(t *testing.T) {
	sh := requireShell(t)
	k := NewExec(Options{ExecCommand: sh, ExecArgs: []string{"-c", "echo segfault >&2; exit 3"}})
	_, err := k(context.Background(), task(model.Scenario{PopulationSize: 10}, 0))
	if !errors.Is(err, ErrSimulatorFailed) {
		t.Fatalf("expected ErrSimulatorFailed, got %v", err)
	}
}

func TestExecKernelRejectsMalformedOutput(t *testing.T) {
	sh := requireShell(t)
	k := NewExec(Options{ExecCommand: sh, ExecArgs: []string{"-c", "echo not-json"}})
	if _, err := k(context.Background(), task(model.Scenario{PopulationSize: 10}, 0)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExecKernelRejectsInvalidTableName(t *testing.T) {
	sh := requireShell(t)
	k := NewExec(Options{
		ExecCommand: sh,
		ExecArgs:    []string{"-c", `cat >/dev/null; echo '[{"table":"Bad-Table","statistic":"fst","value":0.1}]'`},
	})
	_, err := k(context.Background(), task(model.Scenario{PopulationSize: 10}, 0))
	if !errors.Is(err, storage.ErrInvalidTable) {
		t.Fatalf("expected ErrInvalidTable, got %v", err)
	}
}

func TestPRFSFSRejectsLinkedScenarios(t *testing.T) {
	reg := NewRegistry()
	linked := model.Scenario{PopulationSize: 50, Alpha: 10, Rho: 10, Dominance: 1, Theta: 1, SampleSize: 10}
	if _, err := reg.Resolve(PRFSFSName, Options{}, []model.Scenario{linked}); !errors.Is(err, ErrKernelIncompatible) {
		t.Fatalf("expected ErrKernelIncompatible, got %v", err)
	}
	linked.Rho = 0
	if _, err := reg.Resolve(PRFSFSName, Options{}, []model.Scenario{linked}); err != nil {
		t.Fatalf("unlinked scenario: %v", err)
	}
}
