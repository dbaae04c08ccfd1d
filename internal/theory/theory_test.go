package theory

import (
	"math"
	"testing"

	"popgenval/internal/model"
)

func closeTo(a, b, rel float64) bool {
	if b == 0 {
		return math.Abs(a) < rel
	}
	return math.Abs(a-b)/math.Abs(b) <= rel
}

func TestNeutralSFS(t *testing.T) {
	got := NeutralSFS(2, 5)
	want := []float64{0, 2, 1, 2.0 / 3, 0.5}
	for k := range want {
		if !closeTo(got[k], want[k], 1e-12) {
			t.Fatalf("class %d: got %v want %v", k, got[k], want[k])
		}
	}
}

func TestSelectedSFSReducesToNeutral(t *testing.T) {
	weak := SelectedSFS(1, 1e-6, 10)
	neutral := NeutralSFS(1, 10)
	for k := 1; k < 10; k++ {
		if !closeTo(weak[k], neutral[k], 1e-3) {
			t.Fatalf("class %d: weak selection %v vs neutral %v", k, weak[k], neutral[k])
		}
	}
}

func TestSelectedSFSLargeSample(t *testing.T) {
	const n = 150
	weak := SelectedSFS(2, 1e-6, n)
	for k := 1; k < n; k++ {
		want := 2 / float64(k)
		if math.IsNaN(weak[k]) || !closeTo(weak[k], want, 1e-3) {
			t.Fatalf("class %d: got %v want %v", k, weak[k], want)
		}
	}
}

func TestSelectedSFSSkew(t *testing.T) {
	n := 10
	positive := SelectedSFS(1, 10, n)
	negative := SelectedSFS(1, -10, n)
	neutral := NeutralSFS(1, n)
	if positive[n-1] <= neutral[n-1] {
		t.Fatalf("beneficial alleles should inflate high-frequency classes: %v vs %v", positive[n-1], neutral[n-1])
	}
	if negative[n-1] >= neutral[n-1] {
		t.Fatalf("deleterious alleles should deplete high-frequency classes: %v vs %v", negative[n-1], neutral[n-1])
	}
	for k := 1; k < n; k++ {
		if math.IsNaN(negative[k]) || math.IsInf(negative[k], 0) {
			t.Fatalf("class %d not finite: %v", k, negative[k])
		}
	}
	strong := SelectedSFS(1, -500, n)
	for k := 1; k < n; k++ {
		if math.IsNaN(strong[k]) || strong[k] < 0 {
			t.Fatalf("strong selection class %d invalid: %v", k, strong[k])
		}
	}
}

func TestKimStephanFarFromSweep(t *testing.T) {
	// With C = 1 only the partial hitchhiking term remains, which integrates
	// to theta(n-k+1)/(k(n+1)).
	sc := model.Scenario{PopulationSize: 10000, Alpha: 1000, Rho: 1e6, Theta: 1}
	n := 10
	got, err := KimStephanSFS(sc, n)
	if err != nil {
		t.Fatalf("kim stephan: %v", err)
	}
	for k := 1; k < n; k++ {
		want := float64(n-k+1) / float64(k*(n+1))
		if !closeTo(got[k], want, 1e-6) {
			t.Fatalf("class %d: %v want %v", k, got[k], want)
		}
	}
}

func TestKimStephanReducedNearSweep(t *testing.T) {
	far := model.Scenario{PopulationSize: 200000, Alpha: 400, Rho: 160, Theta: 1}
	near := far
	near.Rho = 8
	f, err := KimStephanSFS(far, 10)
	if err != nil {
		t.Fatalf("far: %v", err)
	}
	c, err := KimStephanSFS(near, 10)
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	var sumFar, sumNear float64
	for k := 1; k < 10; k++ {
		sumFar += f[k]
		sumNear += c[k]
	}
	if sumNear >= sumFar {
		t.Fatalf("expected fewer segregating sites near the sweep: near %v far %v", sumNear, sumFar)
	}

	zero := far
	zero.Rho = 0
	z, err := KimStephanSFS(zero, 10)
	if err != nil {
		t.Fatalf("zero rho: %v", err)
	}
	for k := 1; k < 10; k++ {
		if z[k] != 0 {
			t.Fatalf("expected empty spectrum at the selected site, class %d = %v", k, z[k])
		}
	}

	if _, err := KimStephanSFS(model.Scenario{PopulationSize: 10}, 10); err == nil {
		t.Fatal("expected neutral scenario to be rejected")
	}
}

func TestSweepDuration(t *testing.T) {
	sc := model.Scenario{PopulationSize: 1000, Alpha: 100}
	s := 0.05
	if got, want := SweepDuration(sc), 2*math.Log(200)/s; !closeTo(got, want, 1e-12) {
		t.Fatalf("sweep duration %v want %v", got, want)
	}
	if got := SweepDuration(model.Scenario{PopulationSize: 50}); got != 200 {
		t.Fatalf("neutral fallback %v", got)
	}
	if SweepDurationStochastic(sc) >= SweepDuration(sc) {
		t.Fatalf("establishment-corrected duration should be shorter")
	}
}

func TestIslandFst(t *testing.T) {
	if got := IslandFst(0, 2); got != 1 {
		t.Fatalf("isolated demes should have Fst 1, got %v", got)
	}
	if got := IslandFst(1, 2); !closeTo(got, 0.2, 1e-12) {
		t.Fatalf("M=1 two demes: got %v", got)
	}
	if IslandFst(10, 2) >= IslandFst(1, 2) {
		t.Fatal("Fst should fall with migration")
	}
}

func TestExpectedSegregatingSites(t *testing.T) {
	if got := ExpectedSegregatingSites(1, 4); !closeTo(got, 1+0.5+1.0/3, 1e-12) {
		t.Fatalf("got %v", got)
	}
}
