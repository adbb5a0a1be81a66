// Package sim drives an mpc.Executor through a scenario, tick by tick, and
// collects the trajectory together with per-tick metrics.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/san-kum/trailermpc/internal/mpc"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

type Runner struct {
	metrics   []Metric
	observers []Observer
	log       zerolog.Logger
	solve     mpc.SolveFunc
}

type Option func(*Runner)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithSolver replaces the horizon solver of every executor the runner builds.
func WithSolver(fn mpc.SolveFunc) Option {
	return func(r *Runner) { r.solve = fn }
}

func New(opts ...Option) *Runner {
	r := &Runner{
		metrics:   make([]Metric, 0),
		observers: make([]Observer, 0),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) AddMetric(m Metric)     { r.metrics = append(r.metrics, m) }
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// Run builds an executor for the scenario and runs it to completion.
func (r *Runner) Run(ctx context.Context, sc Scenario) (*Result, error) {
	if err := validateScenario(sc); err != nil {
		return nil, err
	}

	opts := []mpc.Option{
		mpc.WithLogger(r.log.With().Str("scenario", sc.Name).Logger()),
		mpc.WithWarmStart(!sc.ColdStart),
	}
	if r.solve != nil {
		opts = append(opts, mpc.WithSolver(r.solve))
	}
	e, err := mpc.New(sc.Executor, opts...)
	if err != nil {
		return nil, fmt.Errorf("sim: scenario %q: %w", sc.Name, err)
	}
	return r.RunExecutor(ctx, e, sc)
}

// RunExecutor ticks an existing executor through the scenario. Infeasible
// ticks are recorded and counted; any other tick error ends the run.
func (r *Runner) RunExecutor(ctx context.Context, e *mpc.Executor, sc Scenario) (*Result, error) {
	if err := validateScenario(sc); err != nil {
		return nil, err
	}

	steps := sc.Steps()
	result := &Result{
		Scenario: sc.Name,
		States:   make([]vehicle.State, 0, steps+1),
		Steering: make([]float64, 0, steps+1),
		Times:    make([]float64, 0, steps+1),
		Records:  make([]Record, 0, steps),
		Metrics:  make(map[string]float64),
	}

	for _, m := range r.metrics {
		m.Reset()
	}

	t := 0.0
	result.States = append(result.States, e.State())
	result.Steering = append(result.Steering, e.Steering())
	result.Times = append(result.Times, t)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			r.finish(result)
			return result, ctx.Err()
		default:
		}

		prev := e.Steering()
		start := time.Now()
		plan, err := e.Tick(ctx, sc.Dt, sc.Path, sc.Obstacles)
		elapsed := time.Since(start)

		if err != nil && !errors.Is(err, mpc.ErrNoSolution) {
			r.finish(result)
			return result, fmt.Errorf("sim: step %d: %w", i, err)
		}
		if err != nil {
			result.Infeasible++
		}

		t += sc.Dt
		s := e.State()
		if !s.IsValid() {
			r.finish(result)
			return result, StepError{Time: t, Step: i, Message: "invalid state (NaN/Inf)"}
		}

		rec := Record{
			Step:      i,
			Time:      t,
			State:     s,
			Steering:  e.Steering(),
			Plan:      plan,
			Err:       err,
			SolveTime: elapsed,

			PrevSteering: prev,
			CrossTrack:   crossTrack(sc, s, e.Geometry()),
			Clearance:    clearance(sc, s),
		}

		for _, m := range r.metrics {
			m.Observe(rec)
		}
		for _, obs := range r.observers {
			obs.OnTick(rec)
		}

		result.StepsTaken++
		result.Records = append(result.Records, rec)
		result.States = append(result.States, s)
		result.Steering = append(result.Steering, rec.Steering)
		result.Times = append(result.Times, t)
	}

	r.finish(result)
	r.log.Info().
		Str("scenario", sc.Name).
		Int("steps", result.StepsTaken).
		Int("infeasible", result.Infeasible).
		Msg("scenario finished")
	return result, nil
}

func (r *Runner) finish(result *Result) {
	for _, m := range r.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}

func validateScenario(sc Scenario) error {
	if !(sc.Dt > 0) {
		return fmt.Errorf("sim: dt must be positive, got %f", sc.Dt)
	}
	if !(sc.Duration > 0) {
		return fmt.Errorf("sim: duration must be positive, got %f", sc.Duration)
	}
	if sc.Steps() < 1 {
		return fmt.Errorf("sim: duration %f shorter than one tick", sc.Duration)
	}
	if !(sc.Path.Length() > 0) {
		return errors.New("sim: path segment has zero length")
	}
	return nil
}

func crossTrack(sc Scenario, s vehicle.State, g vehicle.Geometry) float64 {
	x, y := vehicle.ControlPoint(s, g)
	return sc.Path.CrossTrack(x, y)
}

func clearance(sc Scenario, s vehicle.State) float64 {
	c := math.Inf(1)
	for _, o := range sc.Obstacles {
		c = math.Min(c, o.Clearance(s.X, s.Y, sc.Executor.Horizon.VehicleRadius))
	}
	return c
}
