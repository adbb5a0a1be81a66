package metrics

import (
	"github.com/san-kum/trailermpc/internal/sim"
)

// Infeasible is the fraction of ticks without a solution.
type Infeasible struct {
	name     string
	failures int
	samples  int
}

func NewInfeasible() *Infeasible {
	return &Infeasible{name: "infeasible_ratio"}
}

func (i *Infeasible) Name() string { return i.name }

func (i *Infeasible) Observe(r sim.Record) {
	i.samples++
	if r.Failed() {
		i.failures++
	}
}

func (i *Infeasible) Value() float64 {
	if i.samples == 0 {
		return 0
	}
	return float64(i.failures) / float64(i.samples)
}

func (i *Infeasible) Reset() {
	i.failures = 0
	i.samples = 0
}

// SolveTime is the mean tick duration in milliseconds.
type SolveTime struct {
	name    string
	totalMs float64
	samples int
}

func NewSolveTime() *SolveTime {
	return &SolveTime{name: "solve_time_ms"}
}

func (s *SolveTime) Name() string { return s.name }

func (s *SolveTime) Observe(r sim.Record) {
	s.totalMs += float64(r.SolveTime.Microseconds()) / 1000
	s.samples++
}

func (s *SolveTime) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.totalMs / float64(s.samples)
}

func (s *SolveTime) Reset() {
	s.totalMs = 0
	s.samples = 0
}
