package horizon

import (
	"math"

	"github.com/san-kum/trailermpc/internal/vehicle"
)

// Problem is the nonlinear program for one tick. The decision vector holds
// the steering commands u[1..N]; u[0] and the initial state are pinned and the
// Euler dynamics are enforced by rolling the state trajectory forward, so the
// only explicit constraints left are inequalities g(u) >= 0.
//
// Inequality rows, in order, for k = 1..N:
//
//	steering      MaxSteer ∓ u[k]
//	rate          MaxSteerRate·dt ∓ (u[k] − u[k−1])
//	articulation  MaxArticulation ∓ (θ2[k] − θ1[k])
//	clearance     ‖p[k] − c_j‖ − (r_j + R)   (hard mode only, per obstacle)
type Problem struct {
	in      Input
	steps   int
	heading float64
}

// Build validates the inputs and returns the problem. Building keeps no
// state between calls.
func Build(in Input) (*Problem, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.Obstacles = append([]Obstacle(nil), in.Obstacles...)
	return &Problem{
		in:      in,
		steps:   in.Config.Steps,
		heading: in.Path.Direction(),
	}, nil
}

// Dim is the number of decision variables.
func (p *Problem) Dim() int {
	return p.steps
}

func (p *Problem) Input() Input {
	return p.in
}

func (p *Problem) hardObstacles() int {
	if p.in.Config.Soft {
		return 0
	}
	return len(p.in.Obstacles)
}

// NumInequalities is the number of rows Inequalities writes.
func (p *Problem) NumInequalities() int {
	return p.steps * (6 + p.hardObstacles())
}

// Rollout integrates the state trajectory for the decision vector u.
func (p *Problem) Rollout(u []float64) []vehicle.State {
	states := make([]vehicle.State, p.steps+1)
	states[0] = p.in.State
	for k := 0; k < p.steps; k++ {
		states[k+1] = vehicle.EulerStep(states[k], u[k], p.in.Speed, p.in.Dt, p.in.Geometry)
	}
	return states
}

func (p *Problem) trackingCost(s vehicle.State) float64 {
	cx, cy := vehicle.ControlPoint(s, p.in.Geometry)
	e := p.in.Path.CrossTrack(cx, cy)
	psi := vehicle.WrapAngle(s.TrailerHeading - p.heading)
	w := p.in.Config.Weights
	return w.CrossTrack*e*e + w.Heading*psi*psi
}

// Cost evaluates the objective for the decision vector u.
func (p *Problem) Cost(u []float64) float64 {
	states := p.Rollout(u)
	cost := 0.0
	for k := 1; k <= p.steps; k++ {
		cost += p.trackingCost(states[k])
	}
	if p.in.Config.Soft {
		cost += p.in.Config.SoftWeight * p.slackPenalty(states)
	}
	return cost
}

// slackPenalty sums s² over all steps and obstacles with the slack
// s = max(0, r + R − d) already minimised in closed form.
func (p *Problem) slackPenalty(states []vehicle.State) float64 {
	sum := 0.0
	for k := 1; k <= p.steps; k++ {
		for _, o := range p.in.Obstacles {
			slack := math.Max(0, -o.Clearance(states[k].X, states[k].Y, p.in.Config.VehicleRadius))
			sum += slack * slack
		}
	}
	return sum
}

// Inequalities writes g(u) into dst, which must have NumInequalities rows.
// Every row is feasible when >= 0.
func (p *Problem) Inequalities(dst, u []float64) {
	states := p.Rollout(u)
	lim := p.in.Limits
	maxDelta := lim.MaxSteerRate * p.in.Dt

	i := 0
	prev := p.in.Steering
	for k := 1; k <= p.steps; k++ {
		uk := u[k-1]
		dst[i] = lim.MaxSteer - uk
		dst[i+1] = lim.MaxSteer + uk

		delta := uk - prev
		dst[i+2] = maxDelta - delta
		dst[i+3] = maxDelta + delta

		art := states[k].Articulation()
		dst[i+4] = lim.MaxArticulation - art
		dst[i+5] = lim.MaxArticulation + art
		i += 6

		if !p.in.Config.Soft {
			for _, o := range p.in.Obstacles {
				dst[i] = o.Clearance(states[k].X, states[k].Y, p.in.Config.VehicleRadius)
				i++
			}
		}
		prev = uk
	}
}

// Violation returns the largest inequality violation at u, zero when feasible.
func (p *Problem) Violation(u []float64) float64 {
	g := make([]float64, p.NumInequalities())
	p.Inequalities(g, u)
	worst := 0.0
	for _, v := range g {
		if -v > worst {
			worst = -v
		}
	}
	return worst
}

// SwerveBias is added to the held steering when holding it runs into an
// obstacle. An obstacle dead ahead makes the problem mirror symmetric and
// the held guess a stationary point.
const SwerveBias = 0.01

// collisionTol is the overlap below which a rollout counts as clear.
const collisionTol = 1e-3

// InitialGuess returns a starting point for the solver: the warm start when
// it fits, otherwise the current steering held. A guess whose rollout hits an
// obstacle is nudged by SwerveBias away from the first one it hits, to the
// left when it is dead ahead. The guess is clipped to the steering and rate
// limits so the solver starts from admissible commands.
func (p *Problem) InitialGuess(warm []float64) []float64 {
	u := make([]float64, p.steps)
	for k := range u {
		if len(warm) == p.steps {
			u[k] = warm[k]
		} else {
			u[k] = p.in.Steering
		}
	}
	if side := p.swerveSide(u); side != 0 {
		for k := range u {
			u[k] += side * SwerveBias
		}
	}

	maxDelta := p.in.Limits.MaxSteerRate * p.in.Dt
	prev := p.in.Steering
	for k := range u {
		u[k] = clamp(u[k], prev-maxDelta, prev+maxDelta)
		u[k] = clamp(u[k], -p.in.Limits.MaxSteer, p.in.Limits.MaxSteer)
		prev = u[k]
	}
	return u
}

// swerveSide returns +1 to steer left or -1 to steer right around the first
// obstacle the rollout of u collides with, 0 when it is clear.
func (p *Problem) swerveSide(u []float64) float64 {
	if len(p.in.Obstacles) == 0 {
		return 0
	}
	states := p.Rollout(u)
	for k := 1; k < len(states); k++ {
		s := states[k]
		hit, worst := -1, -collisionTol
		for i, o := range p.in.Obstacles {
			if c := o.Clearance(s.X, s.Y, p.in.Config.VehicleRadius); c < worst {
				hit, worst = i, c
			}
		}
		if hit < 0 {
			continue
		}
		o := p.in.Obstacles[hit]
		sin, cos := math.Sincos(s.Heading)
		lateral := -(o.X-s.X)*sin + (o.Y-s.Y)*cos
		if lateral > 0 {
			return -1
		}
		return 1
	}
	return 0
}

// Solution assembles the full horizon for the decision vector u.
func (p *Problem) Solution(u []float64) Solution {
	steering := make([]float64, p.steps+1)
	steering[0] = p.in.Steering
	copy(steering[1:], u)
	return Solution{
		States:   p.Rollout(u),
		Steering: steering,
		Cost:     p.Cost(u),
	}
}

// DynamicsResidual returns the largest deviation of sol from the pinned
// initial state, pinned steering and Euler dynamics.
func (p *Problem) DynamicsResidual(sol Solution) float64 {
	if len(sol.States) != p.steps+1 || len(sol.Steering) != p.steps+1 {
		return math.Inf(1)
	}
	worst := sol.States[0].Sub(p.in.State).Norm()
	worst = math.Max(worst, math.Abs(sol.Steering[0]-p.in.Steering))
	for k := 0; k < p.steps; k++ {
		next := vehicle.EulerStep(sol.States[k], sol.Steering[k+1], p.in.Speed, p.in.Dt, p.in.Geometry)
		worst = math.Max(worst, sol.States[k+1].Sub(next).Norm())
	}
	return worst
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
