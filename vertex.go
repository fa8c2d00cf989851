package gravel

import "github.com/hupe1980/gravel/graphfile"

// VertexID identifies a vertex.
type VertexID = graphfile.VertexID

// InvalidVertexID is a sentinel for "no vertex".
const InvalidVertexID = graphfile.InvalidVertexID

// EdgeKind selects which edges of a vertex an operation applies to.
type EdgeKind = graphfile.EdgeKind

const (
	EdgeIn   = graphfile.EdgeIn
	EdgeOut  = graphfile.EdgeOut
	EdgeBoth = graphfile.EdgeBoth
)

// AdjacencyView re-exports the page-backed edge view handed to vertex
// callbacks.
type AdjacencyView = graphfile.AdjacencyView

// NeighborIterator re-exports the single-pass neighbor iterator.
type NeighborIterator = graphfile.NeighborIterator

// Vertex is the base compute state the engine keeps for every vertex.
// Algorithm state lives in the computation's own arrays, indexed by id.
type Vertex struct {
	id    VertexID
	numIn uint32
}

// ID returns the vertex id.
func (v *Vertex) ID() VertexID { return v.id }

// NumInEdges returns the in-edge count recorded at construction.
// For undirected graphs this is the full edge count.
func (v *Vertex) NumInEdges() uint32 { return v.numIn }

type msgKind uint8

const (
	msgData msgKind = iota
	msgActivate
)

// Message is the fixed-size record exchanged between vertices. A
// message sent in level L is visible exclusively in level L+1, where
// RunOnMessage for the receiver precedes its Run.
type Message struct {
	// Dst is the receiving vertex.
	Dst VertexID

	// Multicast marks a message that was expanded over an edge iterator.
	Multicast bool

	// Payload carries the algorithm-defined value. Float payloads go
	// through math.Float64bits.
	Payload uint64

	kind msgKind
}
