package metrics

import (
	"math"

	"github.com/san-kum/trailermpc/internal/sim"
)

// SteeringEffort is the mean absolute steering change per tick, measured
// from the wheel angle each tick started with.
type SteeringEffort struct {
	name    string
	sum     float64
	samples int
}

func NewSteeringEffort() *SteeringEffort {
	return &SteeringEffort{
		name: "steering_effort",
	}
}

func (s *SteeringEffort) Name() string {
	return s.name
}

func (s *SteeringEffort) Observe(r sim.Record) {
	s.sum += math.Abs(r.Steering - r.PrevSteering)
	s.samples++
}

func (s *SteeringEffort) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.sum / float64(s.samples)
}

func (s *SteeringEffort) Reset() {
	s.sum = 0
	s.samples = 0
}
