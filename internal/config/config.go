package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/mpc"
	"github.com/san-kum/trailermpc/internal/sim"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

const (
	DefaultDt                 = 0.1
	DefaultDuration           = 10.0
	DefaultSpeed              = 5.0
	DefaultMaxSteerDeg        = 25.0
	DefaultMaxSteerRateDeg    = 30.0
	DefaultMaxArticulationDeg = 30.0
	DefaultPathLength         = 200.0
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Name       string           `yaml:"name,omitempty"`
	Vehicle    VehicleConfig    `yaml:"vehicle"`
	Limits     LimitsConfig     `yaml:"limits"`
	Controller ControllerConfig `yaml:"controller"`
	Scenario   ScenarioConfig   `yaml:"scenario"`
}

type VehicleConfig struct {
	Wheelbase     float64 `yaml:"wheelbase"`
	TrailerLength float64 `yaml:"trailer_length"`
	HitchOffset   float64 `yaml:"hitch_offset"`
	// Control point relative to the trailer axle, in the trailer frame.
	ControlLongitudinal float64 `yaml:"control_longitudinal"`
	ControlLateral      float64 `yaml:"control_lateral"`
}

// LimitsConfig is in degrees and degrees per second.
type LimitsConfig struct {
	MaxSteer        float64 `yaml:"max_steer_deg"`
	MaxSteerRate    float64 `yaml:"max_steer_rate_deg"`
	MaxArticulation float64 `yaml:"max_articulation_deg"`
}

type ControllerConfig struct {
	Horizon       int     `yaml:"horizon"`
	Dt            float64 `yaml:"dt"`
	MaxIterations int     `yaml:"max_iterations"`
	XTrackWeight  float64 `yaml:"xtrack_weight"`
	HeadingWeight float64 `yaml:"heading_weight"`
	VehicleRadius float64 `yaml:"vehicle_radius"`
	Soft          bool    `yaml:"soft"`
	SoftWeight    float64 `yaml:"soft_weight"`
	WarmStart     bool    `yaml:"warm_start"`
}

type PointConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// PoseConfig angles are in degrees.
type PoseConfig struct {
	X              float64 `yaml:"x"`
	Y              float64 `yaml:"y"`
	Heading        float64 `yaml:"heading_deg"`
	TrailerHeading float64 `yaml:"trailer_heading_deg"`
	Steering       float64 `yaml:"steering_deg"`
}

type ObstacleConfig struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Radius float64 `yaml:"radius"`
}

type ScenarioConfig struct {
	Speed     float64          `yaml:"speed"`
	Duration  float64          `yaml:"duration"`
	Start     PoseConfig       `yaml:"start"`
	PathStart PointConfig      `yaml:"path_start"`
	PathEnd   PointConfig      `yaml:"path_end"`
	Obstacles []ObstacleConfig `yaml:"obstacles,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Vehicle: VehicleConfig{
			Wheelbase:     vehicle.DefaultWheelbase,
			TrailerLength: vehicle.DefaultTrailerLength,
			HitchOffset:   vehicle.DefaultHitchOffset,
		},
		Limits: LimitsConfig{
			MaxSteer:        DefaultMaxSteerDeg,
			MaxSteerRate:    DefaultMaxSteerRateDeg,
			MaxArticulation: DefaultMaxArticulationDeg,
		},
		Controller: ControllerConfig{
			Horizon:       horizon.DefaultSteps,
			Dt:            DefaultDt,
			MaxIterations: mpc.DefaultMaxIterations,
			XTrackWeight:  horizon.DefaultWeights().CrossTrack,
			HeadingWeight: horizon.DefaultWeights().Heading,
			VehicleRadius: horizon.DefaultVehicleRadius,
			SoftWeight:    horizon.DefaultSoftWeight,
			WarmStart:     true,
		},
		Scenario: ScenarioConfig{
			Speed:    DefaultSpeed,
			Duration: DefaultDuration,
			PathEnd:  PointConfig{X: DefaultPathLength},
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	return LoadOver(path, DefaultConfig())
}

// LoadOver reads path on top of a copy of base; keys missing from the file
// keep the base values.
func LoadOver(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := base.Clone()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Scenario.Obstacles = append([]ObstacleConfig(nil), c.Scenario.Obstacles...)
	return &out
}

func (c *Config) Validate() error {
	if err := c.VehicleGeometry().Validate(); err != nil {
		return err
	}
	if err := c.VehicleLimits().Validate(); err != nil {
		return err
	}
	if err := vehicle.ValidateSpeed(c.Scenario.Speed); err != nil {
		return err
	}
	switch {
	case c.Controller.Horizon < 1:
		return fmt.Errorf("%w: horizon must be at least 1, got %d", ErrInvalid, c.Controller.Horizon)
	case !(c.Controller.Dt > 0):
		return fmt.Errorf("%w: dt must be positive, got %g", ErrInvalid, c.Controller.Dt)
	case c.Controller.MaxIterations < 1:
		return fmt.Errorf("%w: max_iterations must be positive, got %d", ErrInvalid, c.Controller.MaxIterations)
	case c.Controller.VehicleRadius < 0:
		return fmt.Errorf("%w: vehicle_radius must not be negative, got %g", ErrInvalid, c.Controller.VehicleRadius)
	case c.Controller.Soft && !(c.Controller.SoftWeight > 0):
		return fmt.Errorf("%w: soft_weight must be positive in soft mode, got %g", ErrInvalid, c.Controller.SoftWeight)
	case !(c.Scenario.Duration > 0):
		return fmt.Errorf("%w: duration must be positive, got %g", ErrInvalid, c.Scenario.Duration)
	case c.Path().Length() == 0:
		return fmt.Errorf("%w: path start and end coincide", ErrInvalid)
	case math.Abs(c.Scenario.Start.Steering) > c.Limits.MaxSteer:
		return fmt.Errorf("%w: start steering %g° beyond limit %g°", ErrInvalid, c.Scenario.Start.Steering, c.Limits.MaxSteer)
	}
	for i, o := range c.Scenario.Obstacles {
		if o.Radius < 0 {
			return fmt.Errorf("%w: obstacle %d has negative radius %g", ErrInvalid, i, o.Radius)
		}
	}
	return nil
}

func (c *Config) VehicleGeometry() vehicle.Geometry {
	return vehicle.Geometry{
		Wheelbase:     c.Vehicle.Wheelbase,
		TrailerLength: c.Vehicle.TrailerLength,
		HitchOffset:   c.Vehicle.HitchOffset,
		ControlPoint: vehicle.Offset{
			Longitudinal: c.Vehicle.ControlLongitudinal,
			Lateral:      c.Vehicle.ControlLateral,
		},
	}
}

func (c *Config) VehicleLimits() vehicle.Limits {
	return vehicle.Limits{
		MaxSteer:        radians(c.Limits.MaxSteer),
		MaxSteerRate:    radians(c.Limits.MaxSteerRate),
		MaxArticulation: radians(c.Limits.MaxArticulation),
	}
}

func (c *Config) HorizonConfig() horizon.Config {
	return horizon.Config{
		Steps: c.Controller.Horizon,
		Weights: horizon.Weights{
			CrossTrack: c.Controller.XTrackWeight,
			Heading:    c.Controller.HeadingWeight,
		},
		VehicleRadius: c.Controller.VehicleRadius,
		Soft:          c.Controller.Soft,
		SoftWeight:    c.Controller.SoftWeight,
	}
}

func (c *Config) StartState() vehicle.State {
	s := c.Scenario.Start
	return vehicle.State{
		X:              s.X,
		Y:              s.Y,
		Heading:        radians(s.Heading),
		TrailerHeading: radians(s.TrailerHeading),
	}
}

func (c *Config) MPCConfig() mpc.Config {
	return mpc.Config{
		Geometry:        c.VehicleGeometry(),
		Limits:          c.VehicleLimits(),
		Speed:           c.Scenario.Speed,
		Horizon:         c.HorizonConfig(),
		MaxIterations:   c.Controller.MaxIterations,
		InitialState:    c.StartState(),
		InitialSteering: radians(c.Scenario.Start.Steering),
	}
}

func (c *Config) Path() horizon.PathSegment {
	return horizon.PathSegment{
		Start: horizon.Point{X: c.Scenario.PathStart.X, Y: c.Scenario.PathStart.Y},
		End:   horizon.Point{X: c.Scenario.PathEnd.X, Y: c.Scenario.PathEnd.Y},
	}
}

func (c *Config) Obstacles() []horizon.Obstacle {
	out := make([]horizon.Obstacle, len(c.Scenario.Obstacles))
	for i, o := range c.Scenario.Obstacles {
		out[i] = horizon.Obstacle{X: o.X, Y: o.Y, Radius: o.Radius}
	}
	return out
}

func (c *Config) SimScenario() sim.Scenario {
	return sim.Scenario{
		Name:      c.Name,
		Dt:        c.Controller.Dt,
		Duration:  c.Scenario.Duration,
		Path:      c.Path(),
		Obstacles: c.Obstacles(),
		Executor:  c.MPCConfig(),
		ColdStart: !c.Controller.WarmStart,
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
