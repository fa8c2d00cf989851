// Package kcore implements iterative k-core peeling on top of the
// gravel engine. For each k, vertices whose degree drops below k are
// deleted and their neighbors' degrees decremented until a fixpoint;
// the vertices that survive form the k-core.
package kcore

import (
	"fmt"
	"time"

	"github.com/hupe1980/gravel"
)

// State is the peeling state shared by all workers: current degrees and
// deletion flags, indexed by vertex id. Each entry is only written by
// the worker owning its vertex.
type State struct {
	degree  []uint32
	deleted []bool
}

// NewState initializes degrees from the index: in+out for directed
// graphs.
func NewState(eng *gravel.Engine) *State {
	n := eng.NumVertices()
	s := &State{
		degree:  make([]uint32, n),
		deleted: make([]bool, n),
	}
	for id := uint64(0); id < n; id++ {
		s.degree[id] = eng.VertexEdges(gravel.VertexID(id))
	}
	return s
}

// Deleted reports whether a vertex has been peeled off.
func (s *State) Deleted(id gravel.VertexID) bool { return s.deleted[id] }

// Degree returns a vertex's remaining degree.
func (s *State) Degree(id gravel.VertexID) uint32 { return s.degree[id] }

// computation is the per-worker vertex program for one k.
type computation struct {
	s *State
	k uint32
}

// Factory creates the per-worker computations for peeling at k.
func (s *State) Factory(k uint32) gravel.ComputationFactory {
	return func(workerID int) gravel.VertexComputation {
		return &computation{s: s, k: k}
	}
}

// ActivateFilter selects the initial active set for k: every vertex
// whose original degree is below k.
func ActivateFilter(eng *gravel.Engine, k uint32) gravel.VertexFilter {
	return gravel.VertexFilterFunc(func(e *gravel.Engine, id gravel.VertexID) bool {
		return e.VertexEdges(id) < k
	})
}

// Run gates cheaply: already-safe or already-deleted vertices finish
// without I/O.
func (c *computation) Run(ctx *gravel.ProgramContext, v gravel.VertexID) {
	if c.s.degree[v] >= c.k {
		return
	}
	if !c.s.deleted[v] {
		ctx.RequestVertices(v)
	}
}

// RunOnAdjacency deletes the vertex if its degree fell below k and
// tells every neighbor, in both directions, to drop one degree.
func (c *computation) RunOnAdjacency(ctx *gravel.ProgramContext, v gravel.VertexID, adj *gravel.AdjacencyView) {
	if c.s.deleted[v] {
		return
	}
	if c.s.degree[v] >= c.k {
		return
	}
	c.s.deleted[v] = true

	if ctx.Engine().IsDirected() {
		c.multicastDeleted(ctx, adj, gravel.EdgeIn)
		c.multicastDeleted(ctx, adj, gravel.EdgeOut)
	} else {
		c.multicastDeleted(ctx, adj, gravel.EdgeBoth)
	}
}

func (c *computation) multicastDeleted(ctx *gravel.ProgramContext, adj *gravel.AdjacencyView, kind gravel.EdgeKind) {
	it, err := adj.Neighbors(kind)
	if err != nil {
		return
	}
	// It doesn't matter who sent it: receivers just decrement.
	ctx.Multicast(it, 0)
}

// RunOnMessage drops one degree per deleted neighbor.
func (c *computation) RunOnMessage(ctx *gravel.ProgramContext, v gravel.VertexID, msg gravel.Message) {
	if c.s.deleted[v] {
		return
	}
	c.s.degree[v]--
}

func (c *computation) NotifyIterationEnd(ctx *gravel.ProgramContext, v gravel.VertexID) {}

// Result is the outcome of peeling at one k.
type Result struct {
	K       uint32
	Alive   uint64
	Deleted uint64
	Elapsed time.Duration
}

// MaxDegree computes kmax as the maximum vertex degree.
func MaxDegree(eng *gravel.Engine) (uint32, error) {
	q := &gravel.MaxDegreeQuery{}
	if err := eng.QueryOnAll(q); err != nil {
		return 0, err
	}
	return q.Max, nil
}

// Run peels the graph for every k in [kmin, kmax] and reports how many
// vertices stay alive at each k. State persists across ks: peeling is
// monotone.
func Run(eng *gravel.Engine, kmin, kmax uint32) ([]Result, error) {
	if kmin < 2 {
		return nil, fmt.Errorf("kcore: kmin must be at least 2, got %d", kmin)
	}
	if kmax < kmin {
		return nil, fmt.Errorf("kcore: kmax %d below kmin %d", kmax, kmin)
	}

	s := NewState(eng)
	results := make([]Result, 0, kmax-kmin+1)
	for k := kmin; k <= kmax; k++ {
		start := time.Now()
		if err := eng.Start(ActivateFilter(eng, k), s.Factory(k)); err != nil {
			return results, err
		}
		if err := eng.Wait4Complete(); err != nil {
			return results, err
		}

		cq := &gravel.CountQuery{Pred: func(e *gravel.Engine, id gravel.VertexID) bool {
			return s.Deleted(id)
		}}
		if err := eng.QueryOnAll(cq); err != nil {
			return results, err
		}
		results = append(results, Result{
			K:       k,
			Alive:   eng.NumVertices() - cq.Num,
			Deleted: cq.Num,
			Elapsed: time.Since(start),
		})
	}
	return results, nil
}
