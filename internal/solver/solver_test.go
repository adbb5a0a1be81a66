package solver

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/nlp"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

const (
	maxIter = 3000
	eps     = 1e-3
)

func straightInput() horizon.Input {
	return horizon.Input{
		Speed:    5,
		Dt:       0.1,
		Geometry: vehicle.DefaultGeometry(),
		Limits:   vehicle.DefaultLimits(),
		Path:     horizon.PathSegment{Start: horizon.Point{X: 0, Y: 0}, End: horizon.Point{X: 100, Y: 0}},
		Config:   horizon.DefaultConfig(),
	}
}

func mustBuild(t *testing.T, in horizon.Input) *horizon.Problem {
	t.Helper()
	p, err := horizon.Build(in)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return p
}

func mustSolve(t *testing.T, p *horizon.Problem) horizon.Solution {
	t.Helper()
	sol, err := Solve(p, maxIter)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	return sol
}

func checkRate(t *testing.T, in horizon.Input, sol horizon.Solution) {
	t.Helper()
	for k := 0; k+1 < len(sol.Steering); k++ {
		rate := math.Abs(sol.Steering[k+1]-sol.Steering[k]) / in.Dt
		if rate > in.Limits.MaxSteerRate+eps {
			t.Errorf("step %d: steering rate %f exceeds %f", k, rate, in.Limits.MaxSteerRate)
		}
	}
	for k, u := range sol.Steering {
		if math.Abs(u) > in.Limits.MaxSteer+eps {
			t.Errorf("step %d: steering %f exceeds %f", k, u, in.Limits.MaxSteer)
		}
	}
}

func TestSolveStraightAhead(t *testing.T) {
	in := straightInput()
	p := mustBuild(t, in)
	sol := mustSolve(t, p)

	if sol.Len() != in.Config.Steps+1 || len(sol.Steering) != sol.Len() {
		t.Fatalf("expected %d points, got %d/%d", in.Config.Steps+1, sol.Len(), len(sol.Steering))
	}
	for k, u := range sol.Steering {
		if math.Abs(u) > 1e-6 {
			t.Errorf("step %d: expected zero steering, got %g", k, u)
		}
	}
	for k, s := range sol.States {
		want := vehicle.State{X: 0.5 * float64(k)}
		if s.Sub(want).Norm() > 1e-6 {
			t.Errorf("step %d: expected %+v, got %+v", k, want, s)
		}
	}
	if r := p.DynamicsResidual(sol); r > 1e-12 {
		t.Errorf("dynamics residual %g", r)
	}
}

func TestSolveOffsetPath(t *testing.T) {
	in := straightInput()
	in.Path = horizon.PathSegment{Start: horizon.Point{X: 0, Y: 2}, End: horizon.Point{X: 100, Y: 2}}
	p := mustBuild(t, in)
	sol := mustSolve(t, p)

	if sol.Next() <= 0 {
		t.Errorf("expected positive steering toward the line, got %f", sol.Next())
	}

	xtrack := func(s vehicle.State) float64 {
		x, y := vehicle.ControlPoint(s, in.Geometry)
		return math.Abs(in.Path.CrossTrack(x, y))
	}
	start, end := xtrack(sol.States[0]), xtrack(sol.States[sol.Len()-1])
	if end >= start {
		t.Errorf("expected cross-track to shrink, start %f end %f", start, end)
	}
	checkRate(t, in, sol)
}

func TestSolveObstacleAhead(t *testing.T) {
	in := straightInput()
	in.Config.VehicleRadius = 1
	in.Obstacles = []horizon.Obstacle{{X: 10, Y: -0.4, Radius: 1}}
	p := mustBuild(t, in)
	sol := mustSolve(t, p)

	maxLateral := 0.0
	for k, s := range sol.States {
		for _, o := range in.Obstacles {
			if c := o.Clearance(s.X, s.Y, in.Config.VehicleRadius); c < -eps {
				t.Errorf("step %d: clearance %f below zero", k, c)
			}
		}
		maxLateral = math.Max(maxLateral, math.Abs(s.Y))
	}
	if maxLateral < 0.5 {
		t.Errorf("expected lateral deviation around the obstacle, got %f", maxLateral)
	}
	for k, s := range sol.States {
		if math.Abs(s.Articulation()) > in.Limits.MaxArticulation+eps {
			t.Errorf("step %d: articulation %f exceeds limit", k, s.Articulation())
		}
	}
	checkRate(t, in, sol)
}

func TestSolveObstacleOnPath(t *testing.T) {
	in := straightInput()
	in.Config.VehicleRadius = 1
	in.Obstacles = []horizon.Obstacle{{X: 10, Y: 0, Radius: 1}}
	p := mustBuild(t, in)
	sol := mustSolve(t, p)

	maxLateral := 0.0
	for k, s := range sol.States {
		if c := in.Obstacles[0].Clearance(s.X, s.Y, in.Config.VehicleRadius); c < -eps {
			t.Errorf("step %d: clearance %f below zero", k, c)
		}
		maxLateral = math.Max(maxLateral, math.Abs(s.Y))
	}
	if maxLateral < 0.5 {
		t.Errorf("expected lateral deviation around the obstacle, got %f", maxLateral)
	}
	if sol.Next() <= 0 {
		t.Errorf("expected to pass on the left, got steering %f", sol.Next())
	}
	checkRate(t, in, sol)

	again := mustSolve(t, p)
	if math.Abs(again.Next()-sol.Next()) > 1e-9 {
		t.Errorf("runs differ %g vs %g", sol.Next(), again.Next())
	}
}

func TestSolveSoftObstacle(t *testing.T) {
	in := straightInput()
	in.Config.VehicleRadius = 1
	in.Config.Soft = true
	in.Obstacles = []horizon.Obstacle{{X: 10, Y: -0.4, Radius: 1}}
	p := mustBuild(t, in)
	sol := mustSolve(t, p)

	straight := make([]float64, p.Dim())
	if sol.Cost >= p.Cost(straight) {
		t.Errorf("expected soft solve to beat driving straight through, got %f vs %f", sol.Cost, p.Cost(straight))
	}
	checkRate(t, in, sol)
}

func TestSolveInfeasible(t *testing.T) {
	in := straightInput()
	in.Config.VehicleRadius = 1
	// the first predicted position is (0.5, 0) whatever the steering
	in.Obstacles = []horizon.Obstacle{{X: 0.5, Y: 0, Radius: 3}}
	p := mustBuild(t, in)

	s := nlp.DefaultSettings()
	s.MaxOuter = 8
	_, err := Solve(p, maxIter, WithSettings(s))
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("expected ErrInfeasible, got %v", err)
	}
	var ie *InfeasibleError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InfeasibleError, got %T", err)
	}
	if ie.Violation < 1 {
		t.Errorf("expected large violation, got %f", ie.Violation)
	}
}

func TestSolveDeterministic(t *testing.T) {
	in := straightInput()
	in.Path = horizon.PathSegment{Start: horizon.Point{X: 0, Y: 2}, End: horizon.Point{X: 100, Y: 2}}
	p := mustBuild(t, in)

	a := mustSolve(t, p)
	b := mustSolve(t, p)
	for k := range a.Steering {
		if math.Abs(a.Steering[k]-b.Steering[k]) > 1e-9 {
			t.Errorf("step %d: runs differ %g vs %g", k, a.Steering[k], b.Steering[k])
		}
	}
}

func TestSolveWarmStart(t *testing.T) {
	in := straightInput()
	in.Path = horizon.PathSegment{Start: horizon.Point{X: 0, Y: 2}, End: horizon.Point{X: 100, Y: 2}}
	p := mustBuild(t, in)
	cold := mustSolve(t, p)

	warm, err := Solve(p, maxIter, WithInitialGuess(cold.Steering[1:]))
	if err != nil {
		t.Fatalf("warm solve failed: %v", err)
	}
	if warm.Cost > cold.Cost+1e-3 {
		t.Errorf("warm start from the optimum should not be worse: %f vs %f", warm.Cost, cold.Cost)
	}
}

func TestSolveBadArguments(t *testing.T) {
	if _, err := Solve(nil, maxIter); err == nil {
		t.Error("expected error for nil problem")
	}
	p := mustBuild(t, straightInput())
	if _, err := Solve(p, 0); err == nil {
		t.Error("expected error for zero budget")
	}
}

func BenchmarkSolveOffset(b *testing.B) {
	in := straightInput()
	in.Path = horizon.PathSegment{Start: horizon.Point{X: 0, Y: 2}, End: horizon.Point{X: 100, Y: 2}}
	p, err := horizon.Build(in)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Solve(p, maxIter); err != nil {
			b.Fatal(err)
		}
	}
}
