package gravel

import "github.com/hupe1980/gravel/internal/fs"

// defaultMaxProcessingVertices caps the vertices a worker keeps in
// flight while their adjacency reads are outstanding.
const defaultMaxProcessingVertices = 2000

type options struct {
	logger        *Logger
	scheduler     VertexScheduler
	maxProcessing int
	fsys          fs.FileSystem
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to a noop logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithVertexScheduler sets the per-worker ordering of vertices within a
// level. The default processes vertices in activation order.
func WithVertexScheduler(s VertexScheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithMaxProcessingVertices bounds the number of vertices a worker has
// in flight waiting for I/O. Higher values increase page cache
// pressure.
func WithMaxProcessingVertices(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxProcessing = n
		}
	}
}

// WithFileSystem substitutes the file system used to open the graph.
// Intended for tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) { o.fsys = fsys }
}
