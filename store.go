package gravel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/gravel/graphfile"
)

// vertexStore is the partitioned in-memory array of per-vertex compute
// state. Each partition's slice is allocated by its own goroutine at
// construction; all mutations to a vertex happen on its owning worker.
type vertexStore struct {
	part  Partitioner
	parts [][]Vertex
}

// newVertexStore builds the state for every vertex by scanning the
// index, one goroutine per partition.
func newVertexStore(idx *graphfile.Index, part Partitioner) (*vertexStore, error) {
	s := &vertexStore{
		part:  part,
		parts: make([][]Vertex, part.NumPartitions()),
	}
	n := idx.NumVertices()

	g, _ := errgroup.WithContext(context.Background())
	for p := 0; p < part.NumPartitions(); p++ {
		p := p
		g.Go(func() error {
			size := part.PartSize(p, n)
			vs := make([]Vertex, size)
			for local := uint32(0); local < size; local++ {
				id := part.GlobalOf(p, local)
				vs[local] = Vertex{id: id, numIn: idx.GetNumInEdges(id)}
			}
			s.parts[p] = vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

// get resolves a global id.
func (s *vertexStore) get(id VertexID) *Vertex {
	return &s.parts[s.part.PartOf(id)][s.part.LocalOf(id)]
}

// getLocal resolves a (partition, local) pair; lower overhead than get.
func (s *vertexStore) getLocal(part int, local uint32) *Vertex {
	return &s.parts[part][local]
}

// getBulk resolves many ids into out, which must have len(ids) capacity.
func (s *vertexStore) getBulk(ids []VertexID, out []*Vertex) {
	for i, id := range ids {
		out[i] = s.get(id)
	}
}

// partLen returns the number of vertices in a partition.
func (s *vertexStore) partLen(part int) uint32 {
	return uint32(len(s.parts[part]))
}
