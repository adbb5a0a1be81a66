// Package optim tunes controller parameters by running closed-loop
// scenarios over a parameter grid.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/trailermpc/internal/sim"
)

// ErrNoCandidate is returned when no grid point produced a usable run.
var ErrNoCandidate = errors.New("optim: no grid point could be evaluated")

// Candidate is one evaluated grid point.
type Candidate struct {
	Params map[string]float64
	Score  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameter names for %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("optim: empty range for %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Size is the number of grid points.
func (g *GridSearch) Size() int {
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

// Search runs every grid point and returns the one with the lowest score.
// build turns a parameter set into a scenario; score reads the run result.
// Points whose scenario or run fails are reported in the candidate list and
// skipped.
func (g *GridSearch) Search(
	ctx context.Context,
	build func(params map[string]float64) (sim.Scenario, error),
	newRunner func() *sim.Runner,
	score func(*sim.Result) float64,
) (Candidate, []Candidate, error) {
	best := Candidate{Score: math.Inf(1)}
	all := make([]Candidate, 0, g.Size())

	err := g.searchRecursive(ctx, 0, make(map[string]float64), func(params map[string]float64) {
		c := Candidate{Params: params, Score: math.Inf(1)}
		sc, err := build(params)
		if err == nil {
			var res *sim.Result
			res, err = newRunner().Run(ctx, sc)
			if err == nil {
				c.Score = score(res)
			}
		}
		c.Err = err
		all = append(all, c)
		if err == nil && c.Score < best.Score {
			best = c
		}
	})
	if err != nil {
		return best, all, err
	}
	if best.Params == nil {
		return best, all, ErrNoCandidate
	}
	return best, all, nil
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, visit func(map[string]float64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		visit(current)
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, visit); err != nil {
			return err
		}
	}
	return nil
}

// MetricScore scores a run by a named metric, penalising infeasible ticks.
func MetricScore(name string, infeasiblePenalty float64) func(*sim.Result) float64 {
	return func(res *sim.Result) float64 {
		v, ok := res.Metrics[name]
		if !ok {
			return math.Inf(1)
		}
		return v + infeasiblePenalty*float64(res.Infeasible)
	}
}
