package vehicle

import (
	"errors"
	"fmt"
)

// Configuration errors. They are raised when a vehicle is built or
// reconfigured, never while a horizon is being solved.
var (
	// ErrInvalidGeometry indicates a non-positive wheelbase or trailer length.
	ErrInvalidGeometry = errors.New("vehicle: invalid geometry")

	// ErrInvalidLimits indicates a non-positive steering, rate or articulation limit.
	ErrInvalidLimits = errors.New("vehicle: invalid actuator limits")

	// ErrInvalidSpeed indicates a negative or non-finite cruise speed.
	ErrInvalidSpeed = errors.New("vehicle: invalid cruise speed")
)

// ConfigError wraps a configuration error with the offending field.
type ConfigError struct {
	Field   string
	Value   float64
	Wrapped error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s = %g", e.Wrapped.Error(), e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error {
	return e.Wrapped
}
