package viz

import (
	"math"
	"strings"
)

// Braille Patterns: 2x4 dots
// 1 4
// 2 5
// 3 6
// 7 8
//
// Unicode offset 0x2800
var pixelMap = [4][2]int{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

const blank = 0x2800

type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{
		Width:  w,
		Height: h,
		Grid:   make([][]rune, h),
	}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

// Pixels returns the canvas size in dots.
func (c *Canvas) Pixels() (w, h int) {
	return c.Width * 2, c.Height * 4
}

// Set turns on the dot at (x, y); out-of-range dots are ignored.
func (c *Canvas) Set(x, y int) {
	col, row, mask, ok := c.locate(x, y)
	if !ok {
		return
	}
	c.Grid[row][col] |= mask
}

func (c *Canvas) Unset(x, y int) {
	col, row, mask, ok := c.locate(x, y)
	if !ok {
		return
	}
	c.Grid[row][col] = blank | (c.Grid[row][col] &^ mask)
}

func (c *Canvas) IsSet(x, y int) bool {
	col, row, mask, ok := c.locate(x, y)
	return ok && c.Grid[row][col]&mask != 0
}

func (c *Canvas) locate(x, y int) (col, row int, mask rune, ok bool) {
	if x < 0 || y < 0 {
		return 0, 0, 0, false
	}
	col, row = x/2, y/4
	if col >= c.Width || row >= c.Height {
		return 0, 0, 0, false
	}
	return col, row, rune(pixelMap[y%4][x%2]), true
}

func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = blank
		}
	}
}

// DrawLine draws a line using Bresenham's algorithm
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx := absInt(x1 - x0)
	dy := absInt(y1 - y0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy

	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// DrawCircle draws the outline of a circle with the midpoint algorithm.
func (c *Canvas) DrawCircle(cx, cy, r int) {
	if r <= 0 {
		c.Set(cx, cy)
		return
	}
	x, y := r, 0
	d := 1 - r
	for x >= y {
		for _, p := range [8][2]int{
			{x, y}, {y, x}, {-y, x}, {-x, y},
			{-x, -y}, {-y, -x}, {y, -x}, {x, -y},
		} {
			c.Set(cx+p[0], cy+p[1])
		}
		y++
		if d < 0 {
			d += 2*y + 1
		} else {
			x--
			d += 2*(y-x) + 1
		}
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row) + "\n")
	}
	return b.String()
}

// Viewport maps world metres onto canvas dots. Y grows upwards in the world
// and downwards on the canvas.
type Viewport struct {
	CenterX, CenterY float64
	// Scale is dots per metre.
	Scale         float64
	Width, Height int
}

// NewViewport centres a span of metres across the canvas width.
func NewViewport(c *Canvas, cx, cy, span float64) Viewport {
	w, h := c.Pixels()
	scale := 1.0
	if span > 0 {
		scale = float64(w) / span
	}
	return Viewport{CenterX: cx, CenterY: cy, Scale: scale, Width: w, Height: h}
}

func (v Viewport) Project(x, y float64) (int, int) {
	px := float64(v.Width)/2 + (x-v.CenterX)*v.Scale
	py := float64(v.Height)/2 - (y-v.CenterY)*v.Scale
	return int(math.Round(px)), int(math.Round(py))
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
