// Package nlp solves smooth nonlinear programs
//
//	minimise f(x)  subject to  h(x) = 0,  g(x) >= 0
//
// with a Powell-Hestenes-Rockafellar augmented Lagrangian. Each outer round
// minimises the augmented Lagrangian with gonum's L-BFGS, using central
// finite-difference gradients, then updates the multipliers and, when the
// constraint violation stalls, the penalty.
package nlp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

var (
	// ErrDimension indicates a starting point that does not match the problem.
	ErrDimension = errors.New("nlp: dimension mismatch")

	// ErrIterationLimit indicates the iteration budget ran out before convergence.
	ErrIterationLimit = errors.New("nlp: iteration limit reached")

	// ErrInfeasible indicates the constraints could not be satisfied to tolerance.
	ErrInfeasible = errors.New("nlp: locally infeasible")
)

// Problem describes the program. Inequality rows are feasible when >= 0.
// Functions must be deterministic and must not retain x or dst.
type Problem struct {
	Dim       int
	Objective func(x []float64) float64

	NumIneq    int
	Inequality func(dst, x []float64)

	NumEq    int
	Equality func(dst, x []float64)
}

type Settings struct {
	// MaxIterations bounds the L-BFGS major iterations over all rounds.
	MaxIterations int
	// MaxOuter bounds the multiplier updates.
	MaxOuter int
	// Tolerance is the accepted constraint violation.
	Tolerance float64

	PenaltyInit   float64
	PenaltyGrowth float64
	PenaltyMax    float64

	GradientThreshold float64
	// Step is the finite-difference step.
	Step float64
}

func DefaultSettings() Settings {
	return Settings{
		MaxIterations:     3000,
		MaxOuter:          30,
		Tolerance:         1e-5,
		PenaltyInit:       10,
		PenaltyGrowth:     10,
		PenaltyMax:        1e8,
		GradientThreshold: 1e-7,
		Step:              1e-6,
	}
}

type Status int

const (
	Converged Status = iota
	IterationLimit
	Infeasible
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case IterationLimit:
		return "iteration limit"
	case Infeasible:
		return "infeasible"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Result struct {
	X          []float64
	F          float64
	Violation  float64
	Iterations int
	Outer      int
	Penalty    float64
	Status     Status
}

// Solve runs the augmented Lagrangian method from x0. The returned result is
// non-nil whenever x0 has the right dimension, also on failure, so callers
// can report how far the solve got.
func Solve(p Problem, x0 []float64, s Settings) (*Result, error) {
	if p.Dim <= 0 || len(x0) != p.Dim {
		return nil, fmt.Errorf("%w: problem has %d variables, start has %d", ErrDimension, p.Dim, len(x0))
	}
	if p.Objective == nil {
		return nil, errors.New("nlp: missing objective")
	}
	if s.MaxIterations <= 0 {
		return nil, fmt.Errorf("nlp: iteration budget must be positive, got %d", s.MaxIterations)
	}

	x := append([]float64(nil), x0...)
	lambda := make([]float64, p.NumEq)
	nu := make([]float64, p.NumIneq)
	h := make([]float64, p.NumEq)
	g := make([]float64, p.NumIneq)
	mu := s.PenaltyInit

	res := &Result{X: x, Status: IterationLimit}
	budget := s.MaxIterations
	prevViol := math.Inf(1)

	for outer := 0; outer < s.MaxOuter; outer++ {
		if budget <= 0 {
			break
		}
		res.Outer = outer + 1

		inner, err := minimize(augmented(p, lambda, nu, mu), x, budget, s)
		if inner == nil {
			return res, fmt.Errorf("nlp: inner solve: %w", err)
		}
		budget -= inner.MajorIterations
		res.Iterations += inner.MajorIterations
		if floats.HasNaN(inner.X) || math.IsNaN(inner.F) {
			return res, fmt.Errorf("%w: objective diverged", ErrInfeasible)
		}
		copy(x, inner.X)

		viol := constraintValues(p, x, h, g)
		res.Violation = viol
		innerDone := inner.Status != optimize.IterationLimit

		for i := range lambda {
			lambda[i] += mu * h[i]
		}
		for j := range nu {
			nu[j] = math.Max(0, nu[j]-mu*g[j])
		}

		if viol <= s.Tolerance && innerDone {
			res.Status = Converged
			break
		}
		if viol > 0.25*prevViol {
			mu = math.Min(mu*s.PenaltyGrowth, s.PenaltyMax)
		}
		prevViol = viol
		res.Status = Infeasible
	}

	res.F = p.Objective(x)
	res.Penalty = mu
	switch {
	case res.Status == Converged:
		return res, nil
	case budget <= 0:
		res.Status = IterationLimit
		return res, fmt.Errorf("%w after %d iterations (violation %.3g)", ErrIterationLimit, res.Iterations, res.Violation)
	default:
		res.Status = Infeasible
		return res, fmt.Errorf("%w: violation %.3g after %d rounds", ErrInfeasible, res.Violation, res.Outer)
	}
}

// augmented returns the PHR augmented Lagrangian for fixed multipliers.
func augmented(p Problem, lambda, nu []float64, mu float64) func([]float64) float64 {
	lambda = append([]float64(nil), lambda...)
	nu = append([]float64(nil), nu...)
	return func(x []float64) float64 {
		f := p.Objective(x)
		if p.NumEq > 0 {
			h := make([]float64, p.NumEq)
			p.Equality(h, x)
			for i, v := range h {
				f += lambda[i]*v + 0.5*mu*v*v
			}
		}
		if p.NumIneq > 0 {
			g := make([]float64, p.NumIneq)
			p.Inequality(g, x)
			for j, v := range g {
				t := math.Max(0, nu[j]-mu*v)
				f += (t*t - nu[j]*nu[j]) / (2 * mu)
			}
		}
		return f
	}
}

func minimize(f func([]float64) float64, x0 []float64, budget int, s Settings) (*optimize.Result, error) {
	fdSettings := &fd.Settings{Formula: fd.Central, Step: s.Step}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, fdSettings)
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   budget,
		GradientThreshold: s.GradientThreshold,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 20,
		},
	}
	return optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
}

// constraintValues fills h and g at x and returns the largest violation.
func constraintValues(p Problem, x, h, g []float64) float64 {
	worst := 0.0
	if p.NumEq > 0 {
		p.Equality(h, x)
		for _, v := range h {
			worst = math.Max(worst, math.Abs(v))
		}
	}
	if p.NumIneq > 0 {
		p.Inequality(g, x)
		for _, v := range g {
			worst = math.Max(worst, -v)
		}
	}
	return worst
}
