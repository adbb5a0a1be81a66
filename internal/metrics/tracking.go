// Package metrics aggregates per-tick records of a closed-loop run.
package metrics

import (
	"math"

	"github.com/san-kum/trailermpc/internal/sim"
)

// CrossTrack is the RMS offset of the trailer control point from the path.
type CrossTrack struct {
	name    string
	sumSq   float64
	samples int
}

func NewCrossTrack() *CrossTrack {
	return &CrossTrack{name: "cross_track_rms"}
}

func (c *CrossTrack) Name() string { return c.name }

func (c *CrossTrack) Observe(r sim.Record) {
	c.sumSq += r.CrossTrack * r.CrossTrack
	c.samples++
}

func (c *CrossTrack) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return math.Sqrt(c.sumSq / float64(c.samples))
}

func (c *CrossTrack) Reset() {
	c.sumSq = 0
	c.samples = 0
}

// Clearance is the smallest obstacle clearance seen. Negative values mean
// the tractor overlapped an obstacle.
type Clearance struct {
	name string
	min  float64
}

func NewClearance() *Clearance {
	return &Clearance{name: "min_clearance", min: math.Inf(1)}
}

func (c *Clearance) Name() string { return c.name }

func (c *Clearance) Observe(r sim.Record) {
	c.min = math.Min(c.min, r.Clearance)
}

func (c *Clearance) Value() float64 { return c.min }

func (c *Clearance) Reset() { c.min = math.Inf(1) }

// Standard returns a fresh set of all metrics in this package.
func Standard() []sim.Metric {
	return []sim.Metric{
		NewCrossTrack(),
		NewSteeringEffort(),
		NewClearance(),
		NewInfeasible(),
		NewSolveTime(),
	}
}
