// Package wcc computes weakly connected components by min-label
// propagation: every vertex repeatedly adopts the smallest component id
// it hears about and tells all its neighbors, until no label changes.
package wcc

import "github.com/hupe1980/gravel"

// State holds the component labels, indexed by vertex id.
type State struct {
	comp    []uint32
	updated []bool
}

// NewState labels every vertex with its own id.
func NewState(eng *gravel.Engine) *State {
	n := eng.NumVertices()
	s := &State{
		comp:    make([]uint32, n),
		updated: make([]bool, n),
	}
	for i := range s.comp {
		s.comp[i] = uint32(i)
		s.updated[i] = true
	}
	return s
}

// Component returns the component label of a vertex.
func (s *State) Component(id gravel.VertexID) uint32 { return s.comp[id] }

// Components returns the full label array.
func (s *State) Components() []uint32 { return s.comp }

// NumComponents counts the distinct labels.
func (s *State) NumComponents() uint64 {
	seen := make(map[uint32]struct{})
	for _, c := range s.comp {
		seen[c] = struct{}{}
	}
	return uint64(len(seen))
}

type computation struct {
	s *State
}

// Factory creates the per-worker computations.
func (s *State) Factory() gravel.ComputationFactory {
	return func(workerID int) gravel.VertexComputation {
		return &computation{s: s}
	}
}

// Run propagates only when the label improved since the vertex last
// ran; a vertex activated without improvement finishes without I/O.
func (c *computation) Run(ctx *gravel.ProgramContext, v gravel.VertexID) {
	if !c.s.updated[v] {
		return
	}
	c.s.updated[v] = false
	ctx.RequestVertices(v)
}

// RunOnAdjacency announces the vertex's label over every edge, both
// directions: weak connectivity ignores orientation.
func (c *computation) RunOnAdjacency(ctx *gravel.ProgramContext, v gravel.VertexID, adj *gravel.AdjacencyView) {
	it, err := adj.Neighbors(gravel.EdgeBoth)
	if err != nil {
		return
	}
	ctx.Multicast(it, uint64(c.s.comp[v]))
}

// RunOnMessage adopts a smaller label. The sender's message already
// activated this vertex for the next level.
func (c *computation) RunOnMessage(ctx *gravel.ProgramContext, v gravel.VertexID, msg gravel.Message) {
	if label := uint32(msg.Payload); label < c.s.comp[v] {
		c.s.comp[v] = label
		c.s.updated[v] = true
	}
}

func (c *computation) NotifyIterationEnd(ctx *gravel.ProgramContext, v gravel.VertexID) {}

// Run computes the components of the whole graph.
func Run(eng *gravel.Engine) (*State, error) {
	s := NewState(eng)
	if err := eng.StartAll(nil, s.Factory()); err != nil {
		return nil, err
	}
	if err := eng.Wait4Complete(); err != nil {
		return nil, err
	}
	return s, nil
}
