package horizon

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/trailermpc/internal/vehicle"
)

// ErrInvalidInput indicates inputs that cannot form a horizon problem.
var ErrInvalidInput = errors.New("horizon: invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type Point struct {
	X, Y float64
}

// PathSegment is the reference line for one tick. Direction of travel runs
// from Start to End.
type PathSegment struct {
	Start Point
	End   Point
}

func (p PathSegment) Length() float64 {
	return math.Hypot(p.End.X-p.Start.X, p.End.Y-p.Start.Y)
}

// Direction returns the path heading in radians.
func (p PathSegment) Direction() float64 {
	return math.Atan2(p.End.Y-p.Start.Y, p.End.X-p.Start.X)
}

// CrossTrack returns the signed distance of (x, y) to the infinite line
// through the segment, positive to the left of the direction of travel.
func (p PathSegment) CrossTrack(x, y float64) float64 {
	dx, dy := p.End.X-p.Start.X, p.End.Y-p.Start.Y
	return (dx*(y-p.Start.Y) - dy*(x-p.Start.X)) / math.Hypot(dx, dy)
}

// HeadingError returns heading minus the path direction, wrapped to (-π, π].
func (p PathSegment) HeadingError(heading float64) float64 {
	return vehicle.WrapAngle(heading - p.Direction())
}

// Obstacle is a circle the vehicle bounding circle must stay clear of.
type Obstacle struct {
	X, Y   float64
	Radius float64
}

// Clearance returns the gap between a circle of radius r at (x, y) and the
// obstacle. Negative values mean overlap.
func (o Obstacle) Clearance(x, y, r float64) float64 {
	return math.Hypot(x-o.X, y-o.Y) - (o.Radius + r)
}

// Weights scale the tracking terms of the cost.
type Weights struct {
	CrossTrack float64
	Heading    float64
}

func DefaultWeights() Weights {
	return Weights{CrossTrack: 1, Heading: 30}
}

// Config holds the tuning of the horizon problem.
type Config struct {
	Steps   int
	Weights Weights
	// VehicleRadius is the tractor bounding circle used for clearance.
	VehicleRadius float64
	// Soft turns obstacle clearance into a quadratic cost penalty.
	Soft       bool
	SoftWeight float64
}

const (
	DefaultSteps         = 20
	DefaultVehicleRadius = 5.0
	DefaultSoftWeight    = 1000.0
)

func DefaultConfig() Config {
	return Config{
		Steps:         DefaultSteps,
		Weights:       DefaultWeights(),
		VehicleRadius: DefaultVehicleRadius,
		SoftWeight:    DefaultSoftWeight,
	}
}

// Input is everything one tick's problem is built from. The slices are
// treated as read-only snapshots.
type Input struct {
	State     vehicle.State
	Steering  float64
	Speed     float64
	Dt        float64
	Geometry  vehicle.Geometry
	Limits    vehicle.Limits
	Path      PathSegment
	Obstacles []Obstacle
	Config    Config
}

func (in Input) validate() error {
	if !(in.Dt > 0) || math.IsInf(in.Dt, 0) {
		return invalid("dt must be positive, got %g", in.Dt)
	}
	if in.Config.Steps < 1 {
		return invalid("horizon must have at least one step, got %d", in.Config.Steps)
	}
	if !(in.Path.Length() > 0) {
		return invalid("path segment has zero length")
	}
	if !in.State.IsValid() {
		return invalid("state is not finite: %+v", in.State)
	}
	if in.Config.VehicleRadius < 0 {
		return invalid("vehicle radius must not be negative, got %g", in.Config.VehicleRadius)
	}
	if in.Config.Soft && in.Config.SoftWeight <= 0 {
		return invalid("soft constraint weight must be positive, got %g", in.Config.SoftWeight)
	}
	for i, o := range in.Obstacles {
		if !(o.Radius >= 0) {
			return invalid("obstacle %d radius must not be negative, got %g", i, o.Radius)
		}
	}
	if err := in.Geometry.Validate(); err != nil {
		return err
	}
	if err := in.Limits.Validate(); err != nil {
		return err
	}
	return vehicle.ValidateSpeed(in.Speed)
}

// Solution is one solved horizon. States and Steering have the same length,
// Steps+1. Index 0 holds the current state and the steering already applied;
// Steering[k+1] drives States[k] to States[k+1].
type Solution struct {
	States   []vehicle.State
	Steering []float64
	Cost     float64
	// Iterations is the number of inner solver iterations spent.
	Iterations int
}

// Len returns the number of predicted points including the current one.
func (s Solution) Len() int {
	return len(s.States)
}

// Next returns the first steering command to apply.
func (s Solution) Next() float64 {
	if len(s.Steering) < 2 {
		return math.NaN()
	}
	return s.Steering[1]
}

func (s Solution) IsValid() bool {
	if len(s.States) == 0 || len(s.States) != len(s.Steering) {
		return false
	}
	for i := range s.States {
		if !s.States[i].IsValid() || math.IsNaN(s.Steering[i]) || math.IsInf(s.Steering[i], 0) {
			return false
		}
	}
	return true
}

// Shift returns the steering plan advanced by one tick, for seeding the next
// solve: element k is Steering[k+2], with the last command repeated.
func (s Solution) Shift() []float64 {
	n := len(s.Steering) - 1
	if n < 1 {
		return nil
	}
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		idx := k + 2
		if idx > n {
			idx = n
		}
		out[k] = s.Steering[idx]
	}
	return out
}
