package blockio

import (
	"context"
	"sync/atomic"
)

// Request asks for the page-aligned byte range [Off, Off+Size). Tag is
// opaque to the adapter and carried through to the completion.
type Request struct {
	Off  int64
	Size int64
	Tag  uint64
}

// Completion reports a finished read. On success Run holds the pinned
// pages; the receiver owns it and must call Release.
type Completion struct {
	Req Request
	Run *PageRun
	Err error
}

// Context is a per-worker submission handle. Submissions run
// asynchronously; completions are delivered on the Completions channel
// and are meant to be consumed by the submitting worker's goroutine.
type Context struct {
	f        *Factory
	comp     chan Completion
	inflight atomic.Int64
}

// NewContext creates a submission context with room for depth
// undelivered completions.
func (f *Factory) NewContext(depth int) *Context {
	if depth <= 0 {
		depth = 1
	}
	return &Context{f: f, comp: make(chan Completion, depth)}
}

// Submit validates req and starts the read. The result arrives on
// Completions; alignment errors are returned synchronously.
func (c *Context) Submit(ctx context.Context, req Request) error {
	if req.Off%PageSize != 0 || req.Size%PageSize != 0 || req.Size <= 0 {
		return ErrMisaligned
	}
	c.inflight.Add(1)
	go func() {
		run, err := c.f.ReadRun(ctx, req.Off, req.Size)
		c.comp <- Completion{Req: req, Run: run, Err: err}
	}()
	return nil
}

// Completions returns the completion channel. A received completion
// stays counted as in flight until Done is called for it.
func (c *Context) Completions() <-chan Completion {
	return c.comp
}

// Done records that a completion received from Completions has been
// handled.
func (c *Context) Done() {
	c.inflight.Add(-1)
}

// Inflight returns the number of submitted but unhandled requests.
func (c *Context) Inflight() int64 {
	return c.inflight.Load()
}
