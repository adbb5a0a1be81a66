package automation

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/mpc"
	"github.com/san-kum/trailermpc/internal/sim"
	"github.com/san-kum/trailermpc/internal/solver"
)

func holdSteering(p *horizon.Problem, _ int, _ ...solver.Option) (horizon.Solution, error) {
	return p.Solution(p.InitialGuess(nil)), nil
}

func newRunner() *sim.Runner {
	return sim.New(sim.WithSolver(holdSteering))
}

func baseConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Base: sim.Scenario{
			Name:     "mc",
			Dt:       0.1,
			Duration: 0.5,
			Path:     horizon.PathSegment{Start: horizon.Point{X: 0, Y: 0}, End: horizon.Point{X: 100, Y: 0}},
			Executor: mpc.DefaultConfig(),
		},
		Trials:    6,
		Seed:      7,
		Tolerance: 1e-6,
	}
}

func TestPerturbDeterministic(t *testing.T) {
	cfg := baseConfig()
	cfg.Lateral = 1
	cfg.Heading = 0.1
	cfg.Articulation = 0.05

	a, b := cfg.Perturb(), cfg.Perturb()
	if len(a) != cfg.Trials {
		t.Fatalf("expected %d states, got %d", cfg.Trials, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("trial %d: seeded perturbation differs", i)
		}
		if math.Abs(a[i].Y) > cfg.Lateral+1e-12 {
			t.Errorf("trial %d: lateral offset %f out of range", i, a[i].Y)
		}
		if math.Abs(a[i].Heading) > cfg.Heading+1e-12 {
			t.Errorf("trial %d: heading %f out of range", i, a[i].Heading)
		}
		if math.Abs(a[i].Articulation()) > cfg.Articulation+1e-12 {
			t.Errorf("trial %d: articulation %f out of range", i, a[i].Articulation())
		}
	}
}

func TestRunMonteCarloUnperturbed(t *testing.T) {
	cfg := baseConfig()

	results, err := RunMonteCarlo(context.Background(), cfg, newRunner)
	if err != nil {
		t.Fatalf("monte carlo failed: %v", err)
	}
	if len(results) != cfg.Trials {
		t.Fatalf("expected %d results, got %d", cfg.Trials, len(results))
	}
	for _, r := range results {
		if math.Abs(r.Final.X-2.5) > 1e-9 {
			t.Errorf("trial %d: expected final x 2.5, got %f", r.Trial, r.Final.X)
		}
	}
	converged, diverged := MonteCarloStats(results)
	if converged != cfg.Trials || diverged != 0 {
		t.Errorf("expected all trials to converge, got %d/%d", converged, diverged)
	}
}

func TestRunMonteCarloLateralOffset(t *testing.T) {
	cfg := baseConfig()
	cfg.Lateral = 2

	results, err := RunMonteCarlo(context.Background(), cfg, newRunner)
	if err != nil {
		t.Fatalf("monte carlo failed: %v", err)
	}
	// holding zero steering never closes the gap
	for _, r := range results {
		if math.Abs(r.FinalCrossTrack-r.Start.Y) > 1e-9 {
			t.Errorf("trial %d: expected cross-track %f, got %f", r.Trial, r.Start.Y, r.FinalCrossTrack)
		}
	}
	if converged, _ := MonteCarloStats(results); converged != 0 {
		t.Errorf("expected no converged trials, got %d", converged)
	}
}

func TestRunMonteCarloInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MonteCarloConfig)
	}{
		{"no trials", func(c *MonteCarloConfig) { c.Trials = 0 }},
		{"negative width", func(c *MonteCarloConfig) { c.Lateral = -1 }},
		{"zero tolerance", func(c *MonteCarloConfig) { c.Tolerance = 0 }},
		{"articulation at limit", func(c *MonteCarloConfig) { c.Articulation = c.Base.Executor.Limits.MaxArticulation }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			if _, err := RunMonteCarlo(context.Background(), cfg, newRunner); err == nil {
				t.Error("expected error")
			}
		})
	}
}
