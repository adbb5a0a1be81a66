// Package automation runs batches of perturbed scenarios.
package automation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/san-kum/trailermpc/internal/sim"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

// MonteCarloConfig perturbs the start pose of Base uniformly within the given
// half-widths. A zero Seed picks one from the clock.
type MonteCarloConfig struct {
	Base         sim.Scenario
	Lateral      float64
	Heading      float64
	Articulation float64
	Trials       int
	Seed         int64
	// Tolerance is the final |cross-track| under which a trial converged.
	Tolerance float64
}

type MonteCarloResult struct {
	Trial           int
	Start           vehicle.State
	Final           vehicle.State
	FinalCrossTrack float64
	Infeasible      int
	Converged       bool
}

func (c *MonteCarloConfig) validate() error {
	if c.Trials < 1 {
		return fmt.Errorf("automation: trials must be positive, got %d", c.Trials)
	}
	if c.Lateral < 0 || c.Heading < 0 || c.Articulation < 0 {
		return errors.New("automation: perturbation widths must be non-negative")
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("automation: tolerance must be positive, got %g", c.Tolerance)
	}
	if limit := c.Base.Executor.Limits.MaxArticulation; limit > 0 && c.Articulation >= limit {
		return fmt.Errorf("automation: articulation perturbation %g reaches the limit %g", c.Articulation, limit)
	}
	return nil
}

// Perturb returns the start states of every trial. The same seed always
// gives the same states.
func (c *MonteCarloConfig) Perturb() []vehicle.State {
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	spread := func(w float64) float64 { return (rng.Float64() - 0.5) * 2 * w }

	base := c.Base.Executor.InitialState
	sin, cos := math.Sincos(base.Heading)
	states := make([]vehicle.State, c.Trials)
	for i := range states {
		d := spread(c.Lateral)
		heading := base.Heading + spread(c.Heading)
		states[i] = vehicle.State{
			X:              base.X - d*sin,
			Y:              base.Y + d*cos,
			Heading:        heading,
			TrailerHeading: heading + base.Articulation() + spread(c.Articulation),
		}
	}
	return states
}

// RunMonteCarlo runs every trial concurrently. Infeasible ticks count
// against a trial but do not stop it.
func RunMonteCarlo(ctx context.Context, cfg MonteCarloConfig, newRunner func() *sim.Runner) ([]MonteCarloResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	starts := cfg.Perturb()
	scenarios := make([]sim.Scenario, len(starts))
	for i, s := range starts {
		sc := cfg.Base
		sc.Name = fmt.Sprintf("%s#%d", cfg.Base.Name, i)
		sc.Executor.InitialState = s
		scenarios[i] = sc
	}

	runs, err := sim.RunFleet(ctx, scenarios, newRunner)
	if err != nil {
		return nil, err
	}

	results := make([]MonteCarloResult, len(runs))
	for i, res := range runs {
		r := MonteCarloResult{
			Trial:      i,
			Start:      starts[i],
			Final:      starts[i],
			Infeasible: res.Infeasible,
		}
		if n := len(res.Records); n > 0 {
			last := res.Records[n-1]
			r.Final = last.State
			r.FinalCrossTrack = last.CrossTrack
		}
		r.Converged = len(res.Records) > 0 && math.Abs(r.FinalCrossTrack) <= cfg.Tolerance
		results[i] = r
	}
	return results, nil
}

func MonteCarloStats(results []MonteCarloResult) (converged int, diverged int) {
	for _, r := range results {
		if r.Converged {
			converged++
		} else {
			diverged++
		}
	}
	return
}
