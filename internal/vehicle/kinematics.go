package vehicle

import "math"

// Derivative returns the time derivative of s for a tractor steered by
// steer and driven at speed. The tractor is a bicycle model; the trailer
// follows the off-axle hitch relation
//
//	θ̇2 = (v·sin(θ1−θ2) + h·θ̇1·cos(θ1−θ2)) / L2
//
// where h is the hitch offset ahead of the rear axle. Nothing divides by the
// articulation angle, so zero articulation and zero speed stay finite.
func Derivative(s State, steer, speed float64, g Geometry) State {
	yawRate := speed / g.Wheelbase * math.Tan(steer)
	rel := s.Heading - s.TrailerHeading

	sinH, cosH := math.Sincos(s.Heading)
	sinRel, cosRel := math.Sincos(rel)

	return State{
		X:              speed * cosH,
		Y:              speed * sinH,
		Heading:        yawRate,
		TrailerHeading: (speed*sinRel + g.HitchOffset*yawRate*cosRel) / g.TrailerLength,
	}
}

// EulerStep advances s by one explicit Euler step of length dt. It is the
// only discretisation used, both for prediction and for the true state.
func EulerStep(s State, steer, speed, dt float64, g Geometry) State {
	return s.Add(Derivative(s, steer, speed, g).Scale(dt))
}

// Hitch returns the world position of the hitch point.
func Hitch(s State, g Geometry) (x, y float64) {
	sinH, cosH := math.Sincos(s.Heading)
	return s.X + g.HitchOffset*cosH, s.Y + g.HitchOffset*sinH
}

// TrailerAxle returns the world position of the trailer rear axle centre.
func TrailerAxle(s State, g Geometry) (x, y float64) {
	hx, hy := Hitch(s, g)
	sinT, cosT := math.Sincos(s.TrailerHeading)
	return hx - g.TrailerLength*cosT, hy - g.TrailerLength*sinT
}

// ControlPoint returns the world position of the trailer point that is held
// on the reference path.
func ControlPoint(s State, g Geometry) (x, y float64) {
	ax, ay := TrailerAxle(s, g)
	sinT, cosT := math.Sincos(s.TrailerHeading)
	lon, lat := g.ControlPoint.Longitudinal, g.ControlPoint.Lateral
	return ax + lon*cosT - lat*sinT, ay + lon*sinT + lat*cosT
}

// FrontAxle returns the world position of the tractor front axle centre.
func FrontAxle(s State, g Geometry) (x, y float64) {
	sinH, cosH := math.Sincos(s.Heading)
	return s.X + g.Wheelbase*cosH, s.Y + g.Wheelbase*sinH
}

// WrapAngle maps a to (-π, π]. Only for display and error terms; the state
// itself is never wrapped.
func WrapAngle(a float64) float64 {
	return math.Atan2(math.Sin(a), math.Cos(a))
}
