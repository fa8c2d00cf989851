package matrix

import "github.com/hupe1980/gravel"

// Init sets up the process-wide I/O system for the matrix layer. It is
// reference counted and composes with the graph engine's Init.
func Init(opts ...gravel.InitOption) error {
	return gravel.Init(opts...)
}

// Destroy releases the matrix layer's reference on the I/O system.
func Destroy() {
	gravel.Destroy()
}
