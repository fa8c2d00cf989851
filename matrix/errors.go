package matrix

import "errors"

var (
	// ErrHilbertGrid reports a Hilbert ordering request over a block grid
	// that is not a power-of-two square.
	ErrHilbertGrid = errors.New("matrix: hilbert order requires a 2^n x 2^n block grid")

	// ErrDimensionMismatch reports operands whose shapes do not line up.
	ErrDimensionMismatch = errors.New("matrix: dimension mismatch")
)
