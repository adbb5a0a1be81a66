package mpc

import (
	"errors"
	"fmt"

	"github.com/san-kum/trailermpc/internal/vehicle"
)

// ErrNoSolution is reported by Tick when no feasible horizon was found. The
// executor keeps its previous state and steering.
var ErrNoSolution = errors.New("mpc: no solution for this tick")

// TickError describes a failed tick.
type TickError struct {
	Tick  int
	State vehicle.State
	Err   error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("%s (tick %d at x=%.3f y=%.3f): %v", ErrNoSolution, e.Tick, e.State.X, e.State.Y, e.Err)
}

func (e *TickError) Unwrap() []error {
	return []error{ErrNoSolution, e.Err}
}
