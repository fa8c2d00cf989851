// Package pagerank implements synchronous PageRank over the gravel
// engine: each iteration every vertex scatters its damped rank over its
// out-edges and gathers the contributions messaged to it.
package pagerank

import (
	"fmt"
	"math"

	"github.com/hupe1980/gravel"
)

// DefaultDamping is the standard damping factor.
const DefaultDamping = 0.85

// State holds the rank arrays, indexed by vertex id. Entries are only
// written by the worker owning their vertex.
type State struct {
	pr      []float64
	acc     []float64
	damping float64
	iters   int
}

// NewState prepares numIters iterations with the given damping factor.
func NewState(eng *gravel.Engine, numIters int, damping float64) (*State, error) {
	if numIters <= 0 {
		return nil, fmt.Errorf("pagerank: iterations must be positive, got %d", numIters)
	}
	if damping <= 0 || damping >= 1 {
		return nil, fmt.Errorf("pagerank: damping must be in (0, 1), got %g", damping)
	}
	n := eng.NumVertices()
	s := &State{
		pr:      make([]float64, n),
		acc:     make([]float64, n),
		damping: damping,
		iters:   numIters,
	}
	for i := range s.pr {
		s.pr[i] = 1 - damping
	}
	return s, nil
}

// Rank returns the rank of a vertex.
func (s *State) Rank(id gravel.VertexID) float64 { return s.pr[id] }

// Ranks returns the full rank array.
func (s *State) Ranks() []float64 { return s.pr }

type computation struct {
	s *State
}

// Factory creates the per-worker computations.
func (s *State) Factory() gravel.ComputationFactory {
	return func(workerID int) gravel.VertexComputation {
		return &computation{s: s}
	}
}

// Run applies the contributions gathered in the previous level, then
// scatters while iterations remain. The final level only applies.
func (c *computation) Run(ctx *gravel.ProgramContext, v gravel.VertexID) {
	s := c.s
	if lvl := ctx.Level(); lvl > 0 {
		s.pr[v] = (1 - s.damping) + s.damping*s.acc[v]
		s.acc[v] = 0
	}
	if ctx.Level() < s.iters {
		if ctx.Engine().IsDirected() {
			ctx.RequestPartialVertices(gravel.EdgeOut, v)
		} else {
			ctx.RequestVertices(v)
		}
		ctx.AddActiveNext(v)
	}
}

// RunOnAdjacency scatters pr/outdeg to every out-neighbor.
func (c *computation) RunOnAdjacency(ctx *gravel.ProgramContext, v gravel.VertexID, adj *gravel.AdjacencyView) {
	kind := gravel.EdgeOut
	if !ctx.Engine().IsDirected() {
		kind = gravel.EdgeBoth
	}
	n := adj.NumEdges(kind)
	if n == 0 {
		return
	}
	it, err := adj.Neighbors(kind)
	if err != nil {
		return
	}
	share := c.s.pr[v] / float64(n)
	ctx.Multicast(it, math.Float64bits(share))
}

// RunOnMessage gathers one contribution.
func (c *computation) RunOnMessage(ctx *gravel.ProgramContext, v gravel.VertexID, msg gravel.Message) {
	c.s.acc[v] += math.Float64frombits(msg.Payload)
}

func (c *computation) NotifyIterationEnd(ctx *gravel.ProgramContext, v gravel.VertexID) {}

// Run executes numIters PageRank iterations and returns the rank array.
func Run(eng *gravel.Engine, numIters int, damping float64) ([]float64, error) {
	s, err := NewState(eng, numIters, damping)
	if err != nil {
		return nil, err
	}
	if err := eng.StartAll(nil, s.Factory()); err != nil {
		return nil, err
	}
	if err := eng.Wait4Complete(); err != nil {
		return nil, err
	}
	return s.Ranks(), nil
}
