package sim

import (
	"fmt"
	"time"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/mpc"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

// Scenario is one closed-loop run: a vehicle configuration, a reference
// line and the obstacles around it.
type Scenario struct {
	Name      string
	Dt        float64
	Duration  float64
	Path      horizon.PathSegment
	Obstacles []horizon.Obstacle
	Executor  mpc.Config
	ColdStart bool
}

func (s Scenario) Steps() int {
	return int(s.Duration/s.Dt + 0.5)
}

// Record is what one tick produced. State and Steering are the values after
// the tick; on a failed tick they are the held previous values.
type Record struct {
	Step      int
	Time      float64
	State     vehicle.State
	Steering  float64
	Plan      *horizon.Solution
	Err       error
	SolveTime time.Duration

	// PrevSteering is the wheel angle before the tick.
	PrevSteering float64

	// CrossTrack is the signed offset of the trailer control point.
	CrossTrack float64
	// Clearance is the smallest tractor clearance over all obstacles, +Inf
	// without obstacles.
	Clearance float64
}

func (r Record) Failed() bool { return r.Err != nil }

type Metric interface {
	Name() string
	Observe(r Record)
	Value() float64
	Reset()
}

type Observer interface {
	OnTick(r Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Record)

func (f ObserverFunc) OnTick(r Record) { f(r) }

type Result struct {
	Scenario   string
	States     []vehicle.State
	Steering   []float64
	Times      []float64
	Records    []Record
	Metrics    map[string]float64
	StepsTaken int
	Infeasible int
}

// StepError reports a tick that left the vehicle in an unusable state.
type StepError struct {
	Time    float64
	Step    int
	Message string
}

func (e StepError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %s", e.Step, e.Time, e.Message)
}
