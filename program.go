package gravel

import "math"

// VertexComputation is the contract an algorithm implements. The engine
// creates one instance per worker via the run's factory; the instance
// carries the worker's scratch state and is only ever invoked from that
// worker's goroutine.
//
// Per level, the engine calls RunOnMessage for every message targeting
// a vertex before that vertex's Run, Run exactly once per active
// vertex, RunOnAdjacency when a requested read completes, and
// NotifyIterationEnd on every vertex that ran, before the level
// barrier.
type VertexComputation interface {
	// Run is the first, cheap phase: no adjacency data is available.
	// A vertex that needs its edges calls ctx.RequestVertices or
	// ctx.RequestPartialVertices and returns.
	Run(ctx *ProgramContext, v VertexID)

	// RunOnAdjacency is the second phase, invoked once per completed
	// request with a read-only edge view. The view is only valid for
	// the duration of the call.
	RunOnAdjacency(ctx *ProgramContext, v VertexID, adj *AdjacencyView)

	// RunOnMessage delivers one message sent to v in the previous
	// level.
	RunOnMessage(ctx *ProgramContext, v VertexID, msg Message)

	// NotifyIterationEnd runs after v's level completes, before the
	// barrier.
	NotifyIterationEnd(ctx *ProgramContext, v VertexID)
}

// ComputationFactory creates one VertexComputation per worker.
type ComputationFactory func(workerID int) VertexComputation

// VertexFilter decides the initial active set of a run.
type VertexFilter interface {
	Keep(eng *Engine, id VertexID) bool
}

// VertexFilterFunc adapts a function to the VertexFilter interface.
type VertexFilterFunc func(eng *Engine, id VertexID) bool

func (f VertexFilterFunc) Keep(eng *Engine, id VertexID) bool { return f(eng, id) }

// VertexInitializer alters vertex state before a run starts.
type VertexInitializer interface {
	Init(eng *Engine, id VertexID)
}

// VertexInitializerFunc adapts a function to VertexInitializer.
type VertexInitializerFunc func(eng *Engine, id VertexID)

func (f VertexInitializerFunc) Init(eng *Engine, id VertexID) { f(eng, id) }

// VertexScheduler reorders the ids a worker processes within a level.
// The default is the identity permutation.
type VertexScheduler interface {
	Schedule(ids []VertexID)
}

// ProgramContext is the per-worker handle passed to every callback. It
// routes requests and messages through the owning worker and must not
// be retained outside a callback.
type ProgramContext struct {
	eng *Engine
	w   *worker
}

// Engine returns the engine driving the run.
func (c *ProgramContext) Engine() *Engine { return c.eng }

// WorkerID returns the id of the worker invoking the callback.
func (c *ProgramContext) WorkerID() int { return c.w.id }

// Level returns the current iteration number.
func (c *ProgramContext) Level() int { return int(c.eng.level.Load()) }

// RequestVertices streams the whole adjacency blobs of ids to the
// currently running vertex. Non-blocking: the worker parks a
// continuation and RunOnAdjacency fires per id when its read completes.
func (c *ProgramContext) RequestVertices(ids ...VertexID) error {
	return c.w.request(EdgeBoth, ids)
}

// RequestPartialVertices streams only the in- or out-edge lists.
func (c *ProgramContext) RequestPartialVertices(kind EdgeKind, ids ...VertexID) error {
	return c.w.request(kind, ids)
}

// Send delivers a payload to dst in the next level.
func (c *ProgramContext) Send(dst VertexID, payload uint64) {
	c.eng.fabric.send(c.w.id, Message{Dst: dst, Payload: payload})
}

// SendFloat delivers a float payload to dst in the next level.
func (c *ProgramContext) SendFloat(dst VertexID, payload float64) {
	c.Send(dst, math.Float64bits(payload))
}

// Multicast delivers one message per neighbor produced by it.
func (c *ProgramContext) Multicast(it *NeighborIterator, payload uint64) {
	c.eng.fabric.multicast(c.w.id, it, Message{Payload: payload})
}

// AddActiveNext activates id in the next level without sending it a
// payload. Message-driven activation happens implicitly.
func (c *ProgramContext) AddActiveNext(id VertexID) {
	c.eng.fabric.send(c.w.id, Message{Dst: id, kind: msgActivate})
}
