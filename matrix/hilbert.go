package matrix

// hilbertXY2D returns the distance along a Hilbert curve over an n x n
// grid (n a power of two) at cell (x, y).
func hilbertXY2D(n, x, y int) int {
	var d int
	for s := n / 2; s > 0; s /= 2 {
		var rx, ry int
		if x&s > 0 {
			rx = 1
		}
		if y&s > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		x, y = hilbertRot(n, x, y, rx, ry)
	}
	return d
}

// hilbertRot reflects and transposes the cell into the next scale's
// frame. The reflection spans the full grid, not the current scale.
func hilbertRot(n, x, y, rx, ry int) (int, int) {
	if ry == 0 {
		if rx == 1 {
			x = n - 1 - x
			y = n - 1 - y
		}
		x, y = y, x
	}
	return x, y
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
