package graphfile

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/gravel/internal/cache"
)

// AdjacencyView is a transient, read-only view over a vertex's edges,
// backed by pinned page-cache pages. It is valid only for the duration
// of the vertex callback it is handed to; Release returns the pages to
// the cache.
type AdjacencyView struct {
	id       VertexID
	directed bool
	kind     EdgeKind // which edge lists this view covers
	numIn    uint32
	numOut   uint32
	inOff    int64 // file offset of the first in-neighbor id
	outOff   int64 // file offset of the first out-neighbor id

	pages    []*cache.Page
	pageBase int64 // file offset of pages[0]
	release  func()
}

// NewAdjacencyView assembles a view from pinned pages. kind records the
// projection the pages cover: EdgeBoth for a whole-vertex read, EdgeIn
// or EdgeOut for a partial one. release is invoked once on Release.
func NewAdjacencyView(id VertexID, idx *Index, kind EdgeKind, pages []*cache.Page, pageBase int64, release func()) (*AdjacencyView, error) {
	info, err := idx.GetVertexInfo(id)
	if err != nil {
		return nil, err
	}
	v := &AdjacencyView{
		id:       id,
		directed: idx.IsDirected(),
		kind:     kind,
		pages:    pages,
		pageBase: pageBase,
		release:  release,
	}
	if v.directed {
		v.numIn = idx.GetNumInEdges(id)
		v.numOut = idx.GetNumOutEdges(id)
		v.inOff = info.Off + 8
		v.outOff = v.inOff + 4*int64(v.numIn)
	} else {
		if kind != EdgeBoth {
			return nil, fmt.Errorf("graphfile: partial %s view of undirected vertex %d", kind, id)
		}
		v.numOut = idx.GetNumOutEdges(id)
		v.outOff = info.Off + 4
		v.inOff = v.outOff
		v.numIn = v.numOut
	}
	return v, nil
}

// ID returns the vertex the view belongs to.
func (v *AdjacencyView) ID() VertexID { return v.id }

// Kind returns the projection the view covers.
func (v *AdjacencyView) Kind() EdgeKind { return v.kind }

// NumEdges returns the number of edges of the given kind.
func (v *AdjacencyView) NumEdges(kind EdgeKind) int {
	if !v.directed {
		return int(v.numOut)
	}
	switch kind {
	case EdgeIn:
		return int(v.numIn)
	case EdgeOut:
		return int(v.numOut)
	default:
		return int(v.numIn) + int(v.numOut)
	}
}

// Neighbors returns a single-pass iterator over the neighbor ids of the
// given kind, in storage order. Requesting edges outside the view's
// projection is an error.
func (v *AdjacencyView) Neighbors(kind EdgeKind) (*NeighborIterator, error) {
	if v.kind != EdgeBoth && kind != v.kind {
		return nil, fmt.Errorf("graphfile: %s edges requested from a %s-only view of vertex %d",
			kind, v.kind, v.id)
	}
	it := &NeighborIterator{view: v}
	if !v.directed {
		it.push(v.outOff, int64(v.numOut))
		return it, nil
	}
	switch kind {
	case EdgeIn:
		it.push(v.inOff, int64(v.numIn))
	case EdgeOut:
		it.push(v.outOff, int64(v.numOut))
	case EdgeBoth:
		it.push(v.inOff, int64(v.numIn))
		it.push(v.outOff, int64(v.numOut))
	}
	return it, nil
}

// Release unpins the backing pages. The view and any iterators derived
// from it must not be used afterwards.
func (v *AdjacencyView) Release() {
	if v.release != nil {
		v.release()
		v.release = nil
	}
	v.pages = nil
}

// readU32 reads a little-endian uint32 at an absolute file offset,
// assembling across page boundaries when needed.
func (v *AdjacencyView) readU32(off int64) uint32 {
	rel := off - v.pageBase
	pi := rel / PageSize
	po := rel % PageSize
	page := v.pages[pi].Data()
	if po+4 <= int64(len(page)) {
		return binary.LittleEndian.Uint32(page[po:])
	}
	var b [4]byte
	for i := int64(0); i < 4; i++ {
		p := v.pages[(rel+i)/PageSize].Data()
		b[i] = p[(rel+i)%PageSize]
	}
	return binary.LittleEndian.Uint32(b[:])
}

// NeighborIterator is a lazy, finite, single-pass iterator over neighbor
// ids. It must not outlive its view.
type NeighborIterator struct {
	view   *AdjacencyView
	ranges [][2]int64 // [start file offset, remaining count]
}

func (it *NeighborIterator) push(off, count int64) {
	if count > 0 {
		it.ranges = append(it.ranges, [2]int64{off, count})
	}
}

// Next returns the next neighbor id, or false when exhausted.
func (it *NeighborIterator) Next() (VertexID, bool) {
	for len(it.ranges) > 0 {
		r := &it.ranges[0]
		if r[1] == 0 {
			it.ranges = it.ranges[1:]
			continue
		}
		id := VertexID(it.view.readU32(r[0]))
		r[0] += 4
		r[1]--
		return id, true
	}
	return InvalidVertexID, false
}

// Remaining returns how many neighbors are left.
func (it *NeighborIterator) Remaining() int {
	var n int64
	for _, r := range it.ranges {
		n += r[1]
	}
	return int(n)
}
