// Package mpc runs the receding-horizon loop: every tick it builds and solves
// a horizon problem from the current state, applies only the first steering
// command and advances the true state by one Euler step.
package mpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/solver"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

type Status int

const (
	// Idle means no tick has succeeded since creation or the last reconfiguration.
	Idle Status = iota
	Tracking
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const DefaultMaxIterations = 3000

type Config struct {
	Geometry        vehicle.Geometry
	Limits          vehicle.Limits
	Speed           float64
	Horizon         horizon.Config
	MaxIterations   int
	InitialState    vehicle.State
	InitialSteering float64
}

func DefaultConfig() Config {
	return Config{
		Geometry:      vehicle.DefaultGeometry(),
		Limits:        vehicle.DefaultLimits(),
		Speed:         5,
		Horizon:       horizon.DefaultConfig(),
		MaxIterations: DefaultMaxIterations,
	}
}

func (c Config) validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := vehicle.ValidateSpeed(c.Speed); err != nil {
		return err
	}
	if c.Horizon.Steps < 1 {
		return &vehicle.ConfigError{Field: "horizon", Value: float64(c.Horizon.Steps), Wrapped: horizon.ErrInvalidInput}
	}
	if c.MaxIterations < 1 {
		return &vehicle.ConfigError{Field: "max_iterations", Value: float64(c.MaxIterations), Wrapped: horizon.ErrInvalidInput}
	}
	if !c.InitialState.IsValid() {
		return &vehicle.ConfigError{Field: "initial_state", Value: math.NaN(), Wrapped: horizon.ErrInvalidInput}
	}
	if math.Abs(c.InitialSteering) > c.Limits.MaxSteer {
		return &vehicle.ConfigError{Field: "initial_steering", Value: c.InitialSteering, Wrapped: vehicle.ErrInvalidLimits}
	}
	return nil
}

// SolveFunc solves one horizon problem. solver.Solve is the default.
type SolveFunc func(p *horizon.Problem, maxIterations int, opts ...solver.Option) (horizon.Solution, error)

type Option func(*Executor)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithWarmStart seeds each solve with the previous plan shifted by one
// step. Enabled by default.
func WithWarmStart(enabled bool) Option {
	return func(e *Executor) { e.warmStart = enabled }
}

func WithSolver(fn SolveFunc) Option {
	return func(e *Executor) { e.solve = fn }
}

// Executor owns the state of one vehicle. Ticks and reconfigurations are
// serialised; a reconfiguration issued during a tick takes effect before
// the next one.
type Executor struct {
	mu sync.Mutex

	cfg      Config
	state    vehicle.State
	steering float64
	status   Status
	ticks    int

	warmStart bool
	warm      []float64

	solve SolveFunc
	log   zerolog.Logger
}

func New(cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Executor{
		cfg:       cfg,
		state:     cfg.InitialState,
		steering:  cfg.InitialSteering,
		status:    Idle,
		warmStart: true,
		solve:     solver.Solve,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Tick computes and applies one control step. On success it returns the
// full predicted horizon, whose States[1] is the new vehicle state. When the
// solver fails the error matches ErrNoSolution and nothing changes.
func (e *Executor) Tick(ctx context.Context, dt float64, path horizon.PathSegment, obstacles []horizon.Obstacle) (*horizon.Solution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, steering := e.state, e.steering
	sol, elapsed, err := e.plan(state, steering, dt, path, obstacles)
	if err != nil {
		if errors.Is(err, ErrNoSolution) {
			e.warm = nil
			e.log.Warn().
				Err(err).
				Int("tick", e.ticks).
				Float64("x", state.X).
				Float64("y", state.Y).
				Dur("elapsed", elapsed).
				Msg("no feasible horizon, keeping previous steering")
		}
		return nil, err
	}

	next := sol.Next()
	e.state = vehicle.EulerStep(state, next, e.cfg.Speed, dt, e.cfg.Geometry)
	e.steering = next
	e.status = Tracking
	e.ticks++
	if e.warmStart {
		e.warm = sol.Shift()
	}

	return sol, nil
}

// Predict solves a horizon from the current state without applying it.
func (e *Executor) Predict(ctx context.Context, dt float64, path horizon.PathSegment, obstacles []horizon.Obstacle) (*horizon.Solution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sol, elapsed, err := e.plan(e.state, e.steering, dt, path, obstacles)
	if errors.Is(err, ErrNoSolution) {
		e.log.Debug().Err(err).Dur("elapsed", elapsed).Msg("no feasible prediction")
	}
	return sol, err
}

// plan must be called with mu held. It leaves the executor untouched; solver
// failures come back as a TickError.
func (e *Executor) plan(state vehicle.State, steering, dt float64, path horizon.PathSegment, obstacles []horizon.Obstacle) (*horizon.Solution, time.Duration, error) {
	p, err := horizon.Build(horizon.Input{
		State:     state,
		Steering:  steering,
		Speed:     e.cfg.Speed,
		Dt:        dt,
		Geometry:  e.cfg.Geometry,
		Limits:    e.cfg.Limits,
		Path:      path,
		Obstacles: append([]horizon.Obstacle(nil), obstacles...),
		Config:    e.cfg.Horizon,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("mpc: build horizon: %w", err)
	}

	var opts []solver.Option
	if e.warmStart && len(e.warm) == p.Dim() {
		opts = append(opts, solver.WithInitialGuess(e.warm))
	}

	start := time.Now()
	sol, err := e.solve(p, e.cfg.MaxIterations, opts...)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &TickError{Tick: e.ticks, State: state, Err: err}
	}

	e.log.Debug().
		Int("tick", e.ticks).
		Float64("steer", sol.Next()).
		Float64("cost", sol.Cost).
		Int("iterations", sol.Iterations).
		Dur("elapsed", elapsed).
		Msg("horizon solved")
	return &sol, elapsed, nil
}

// Reconfigure replaces the vehicle geometry. The executor returns to Idle and
// forgets its warm start; state and steering are kept.
func (e *Executor) Reconfigure(g vehicle.Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.Geometry = g
	e.status = Idle
	e.warm = nil
	e.log.Info().
		Float64("wheelbase", g.Wheelbase).
		Float64("trailer_length", g.TrailerLength).
		Float64("hitch_offset", g.HitchOffset).
		Msg("vehicle reconfigured")
	return nil
}

// SetState moves the vehicle, e.g. when it is dragged in a viewer.
func (e *Executor) SetState(s vehicle.State) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: state is not finite", horizon.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = s
	e.warm = nil
	return nil
}

// Reset puts the vehicle back at s with the given wheel angle, as after New.
// The tick count restarts and the executor is Idle.
func (e *Executor) Reset(s vehicle.State, steering float64) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: state is not finite", horizon.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if math.IsNaN(steering) || math.Abs(steering) > e.cfg.Limits.MaxSteer {
		return &vehicle.ConfigError{Field: "steering", Value: steering, Wrapped: vehicle.ErrInvalidLimits}
	}
	e.state = s
	e.steering = steering
	e.status = Idle
	e.ticks = 0
	e.warm = nil
	e.log.Info().Float64("x", s.X).Float64("y", s.Y).Float64("steer", steering).Msg("vehicle reset")
	return nil
}

func (e *Executor) State() vehicle.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) Steering() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steering
}

func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Executor) Geometry() vehicle.Geometry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Geometry
}

func (e *Executor) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Ticks returns the number of successful ticks.
func (e *Executor) Ticks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}
