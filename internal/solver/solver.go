package solver

import (
	"errors"
	"fmt"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/nlp"
)

// ErrInfeasible is the "no solution" signal: the horizon could not be solved
// to a feasible, converged point within the iteration budget.
var ErrInfeasible = errors.New("solver: no feasible horizon")

// InfeasibleError carries the diagnostics of a failed solve.
type InfeasibleError struct {
	Violation  float64
	Iterations int
	Wrapped    error
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("%s: %v (violation %.3g, %d iterations)", ErrInfeasible, e.Wrapped, e.Violation, e.Iterations)
}

func (e *InfeasibleError) Unwrap() []error {
	return []error{ErrInfeasible, e.Wrapped}
}

type options struct {
	guess    []float64
	settings nlp.Settings
}

type Option func(*options)

// WithInitialGuess seeds the decision vector, typically with the previous
// tick's plan shifted by one step.
func WithInitialGuess(u []float64) Option {
	return func(o *options) { o.guess = u }
}

// WithSettings replaces the solver settings. The iteration budget passed to
// Solve still takes precedence.
func WithSettings(s nlp.Settings) Option {
	return func(o *options) { o.settings = s }
}

// Solve hands the problem to the NLP solver and extracts the predicted
// trajectory. Each call is independent: no retries, no relaxation and no
// state carried between calls.
func Solve(p *horizon.Problem, maxIterations int, opts ...Option) (horizon.Solution, error) {
	if p == nil {
		return horizon.Solution{}, errors.New("solver: nil problem")
	}
	if maxIterations <= 0 {
		return horizon.Solution{}, fmt.Errorf("solver: iteration budget must be positive, got %d", maxIterations)
	}

	o := options{settings: nlp.DefaultSettings()}
	for _, opt := range opts {
		opt(&o)
	}
	o.settings.MaxIterations = maxIterations

	program := nlp.Problem{
		Dim:        p.Dim(),
		Objective:  p.Cost,
		NumIneq:    p.NumInequalities(),
		Inequality: p.Inequalities,
	}

	res, err := nlp.Solve(program, p.InitialGuess(o.guess), o.settings)
	if err != nil {
		ie := &InfeasibleError{Wrapped: err}
		if res != nil {
			ie.Violation = res.Violation
			ie.Iterations = res.Iterations
		}
		return horizon.Solution{}, ie
	}

	sol := p.Solution(res.X)
	sol.Iterations = res.Iterations
	if !sol.IsValid() {
		return horizon.Solution{}, &InfeasibleError{
			Violation:  res.Violation,
			Iterations: res.Iterations,
			Wrapped:    errors.New("non-finite trajectory"),
		}
	}
	return sol, nil
}
