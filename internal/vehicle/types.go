package vehicle

import "math"

// State is the pose of the tractor-trailer pair. X and Y locate the tractor
// rear axle. Headings are unwrapped radians.
type State struct {
	X              float64
	Y              float64
	Heading        float64
	TrailerHeading float64
}

// Articulation returns the trailer heading relative to the tractor heading.
func (s State) Articulation() float64 {
	return s.TrailerHeading - s.Heading
}

func (s State) Add(other State) State {
	return State{
		X:              s.X + other.X,
		Y:              s.Y + other.Y,
		Heading:        s.Heading + other.Heading,
		TrailerHeading: s.TrailerHeading + other.TrailerHeading,
	}
}

func (s State) Scale(factor float64) State {
	return State{
		X:              s.X * factor,
		Y:              s.Y * factor,
		Heading:        s.Heading * factor,
		TrailerHeading: s.TrailerHeading * factor,
	}
}

func (s State) Sub(other State) State {
	return s.Add(other.Scale(-1))
}

// Norm is the Euclidean norm over all four components.
func (s State) Norm() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Heading*s.Heading + s.TrailerHeading*s.TrailerHeading)
}

func (s State) IsValid() bool {
	for _, v := range [4]float64{s.X, s.Y, s.Heading, s.TrailerHeading} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Offset is a point in a body frame: Longitudinal along the heading,
// Lateral to the left of it.
type Offset struct {
	Longitudinal float64
	Lateral      float64
}

// Geometry holds the dimensions the kinematic model needs.
type Geometry struct {
	Wheelbase     float64
	TrailerLength float64
	// HitchOffset is the signed distance of the hitch ahead of the tractor
	// rear axle. Negative values put the hitch behind the axle.
	HitchOffset float64
	// ControlPoint is measured from the trailer rear axle in the trailer frame.
	ControlPoint Offset
}

const (
	DefaultWheelbase     = 5.0
	DefaultTrailerLength = 5.0
	DefaultHitchOffset   = 0.0
)

func DefaultGeometry() Geometry {
	return Geometry{
		Wheelbase:     DefaultWheelbase,
		TrailerLength: DefaultTrailerLength,
		HitchOffset:   DefaultHitchOffset,
	}
}

func (g Geometry) Validate() error {
	if !(g.Wheelbase > 0) || math.IsInf(g.Wheelbase, 0) {
		return &ConfigError{Field: "wheelbase", Value: g.Wheelbase, Wrapped: ErrInvalidGeometry}
	}
	if !(g.TrailerLength > 0) || math.IsInf(g.TrailerLength, 0) {
		return &ConfigError{Field: "trailer_length", Value: g.TrailerLength, Wrapped: ErrInvalidGeometry}
	}
	if math.IsNaN(g.HitchOffset) || math.IsInf(g.HitchOffset, 0) {
		return &ConfigError{Field: "hitch_offset", Value: g.HitchOffset, Wrapped: ErrInvalidGeometry}
	}
	return nil
}

// Limits are the actuator and articulation bounds, in radians and
// radians per second.
type Limits struct {
	MaxSteer        float64
	MaxSteerRate    float64
	MaxArticulation float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxSteer:        25 * math.Pi / 180,
		MaxSteerRate:    30 * math.Pi / 180,
		MaxArticulation: 30 * math.Pi / 180,
	}
}

func (l Limits) Validate() error {
	checks := []struct {
		field string
		value float64
	}{
		{"max_steer", l.MaxSteer},
		{"max_steer_rate", l.MaxSteerRate},
		{"max_articulation", l.MaxArticulation},
	}
	for _, c := range checks {
		if !(c.value > 0) || math.IsInf(c.value, 0) {
			return &ConfigError{Field: c.field, Value: c.value, Wrapped: ErrInvalidLimits}
		}
	}
	return nil
}

// ValidateSpeed accepts zero, which stops the vehicle but keeps the model finite.
func ValidateSpeed(speed float64) error {
	if !(speed >= 0) || math.IsInf(speed, 0) {
		return &ConfigError{Field: "speed", Value: speed, Wrapped: ErrInvalidSpeed}
	}
	return nil
}
