package viz

import (
	"math"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

// Scene is the static part of a drawing.
type Scene struct {
	Path          horizon.PathSegment
	Obstacles     []horizon.Obstacle
	VehicleRadius float64
}

// Frame is the moving part: the vehicle, its predicted horizon and the
// trail of past control-point positions.
type Frame struct {
	State    vehicle.State
	Steering float64
	Geometry vehicle.Geometry
	Plan     *horizon.Solution
	Trail    []horizon.Point
}

// Draw clears c and renders the scene followed by the frame.
func (s Scene) Draw(c *Canvas, v Viewport, f Frame) {
	c.Clear()

	line(c, v, s.Path.Start.X, s.Path.Start.Y, s.Path.End.X, s.Path.End.Y)
	for _, o := range s.Obstacles {
		circle(c, v, o.X, o.Y, o.Radius)
	}

	for _, p := range f.Trail {
		x, y := v.Project(p.X, p.Y)
		c.Set(x, y)
	}

	if f.Plan != nil {
		for _, st := range f.Plan.States {
			x, y := v.Project(st.X, st.Y)
			c.Set(x, y)
			c.Set(x+1, y)
		}
	}

	g := f.Geometry
	fx, fy := vehicle.FrontAxle(f.State, g)
	hx, hy := vehicle.Hitch(f.State, g)
	tx, ty := vehicle.TrailerAxle(f.State, g)
	line(c, v, fx, fy, f.State.X, f.State.Y)
	line(c, v, f.State.X, f.State.Y, hx, hy)
	line(c, v, hx, hy, tx, ty)

	// front wheel direction
	heading := f.State.Heading + f.Steering
	wx, wy := fx+math.Cos(heading)*0.8, fy+math.Sin(heading)*0.8
	line(c, v, fx, fy, wx, wy)

	if s.VehicleRadius > 0 {
		circle(c, v, f.State.X, f.State.Y, s.VehicleRadius)
	}
}

// Render draws onto a fresh canvas of w×h cells centred on the tractor.
func (s Scene) Render(w, h int, span float64, f Frame) string {
	c := NewCanvas(w, h)
	s.Draw(c, NewViewport(c, f.State.X, f.State.Y, span), f)
	return c.String()
}

func line(c *Canvas, v Viewport, x0, y0, x1, y1 float64) {
	px0, py0 := v.Project(x0, y0)
	px1, py1 := v.Project(x1, y1)
	// keep Bresenham bounded for far-away endpoints
	const limit = 1 << 14
	if absInt(px0) > limit || absInt(py0) > limit || absInt(px1) > limit || absInt(py1) > limit {
		px0, py0, px1, py1 = clipLine(v, x0, y0, x1, y1)
	}
	c.DrawLine(px0, py0, px1, py1)
}

// clipLine shortens a segment to the part that can be on screen.
func clipLine(v Viewport, x0, y0, x1, y1 float64) (int, int, int, int) {
	dx, dy := x1-x0, y1-y0
	length := math.Hypot(dx, dy)
	if length == 0 {
		px, py := v.Project(x0, y0)
		return px, py, px, py
	}
	ux, uy := dx/length, dy/length
	// project the view centre onto the segment and keep a window around it
	t := (v.CenterX-x0)*ux + (v.CenterY-y0)*uy
	half := float64(v.Width+v.Height) / v.Scale
	t0 := math.Max(0, t-half)
	t1 := math.Min(length, t+half)
	if t0 > t1 {
		t0 = t1
	}
	ax, ay := v.Project(x0+ux*t0, y0+uy*t0)
	bx, by := v.Project(x0+ux*t1, y0+uy*t1)
	return ax, ay, bx, by
}

func circle(c *Canvas, v Viewport, x, y, r float64) {
	px, py := v.Project(x, y)
	c.DrawCircle(px, py, int(math.Round(r*v.Scale)))
}
