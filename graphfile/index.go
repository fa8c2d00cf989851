package graphfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/gravel/internal/fs"
)

// VertexInfo locates a vertex's adjacency blob in the graph file.
type VertexInfo struct {
	Off  int64
	Size uint32
}

const (
	directedEntrySize   = 8 + 4 + 4 + 4
	undirectedEntrySize = 8 + 4 + 4
)

// Index is the in-memory vertex index: a random-access map from vertex
// id to blob location and edge counts.
type Index struct {
	hdr  Header
	offs []int64
	size []uint32
	in   []uint32 // directed only
	out  []uint32 // out edges, or all edges for undirected
}

// LoadIndex reads a vertex index file into memory.
func LoadIndex(fsys fs.FileSystem, path string) (*Index, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("graphfile: open index: %w", err)
	}
	defer f.Close()

	hbuf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hbuf); err != nil {
		return nil, fmt.Errorf("graphfile: read index header: %w", err)
	}
	hdr, err := unmarshalHeader(hbuf, indexMagic)
	if err != nil {
		return nil, err
	}

	n := hdr.NumVertices
	idx := &Index{
		hdr:  hdr,
		offs: make([]int64, n),
		size: make([]uint32, n),
		out:  make([]uint32, n),
	}
	entrySize := undirectedEntrySize
	if hdr.IsDirected() {
		idx.in = make([]uint32, n)
		entrySize = directedEntrySize
	}

	buf := make([]byte, entrySize*4096)
	var i uint64
	for i < n {
		want := uint64(len(buf) / entrySize)
		if n-i < want {
			want = n - i
		}
		chunk := buf[:want*uint64(entrySize)]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return nil, fmt.Errorf("graphfile: read index entries at vertex %d: %w", i, err)
		}
		for j := uint64(0); j < want; j++ {
			e := chunk[j*uint64(entrySize):]
			idx.offs[i] = int64(binary.LittleEndian.Uint64(e[0:]))
			idx.size[i] = binary.LittleEndian.Uint32(e[8:])
			if hdr.IsDirected() {
				idx.in[i] = binary.LittleEndian.Uint32(e[12:])
				idx.out[i] = binary.LittleEndian.Uint32(e[16:])
			} else {
				idx.out[i] = binary.LittleEndian.Uint32(e[12:])
			}
			i++
		}
	}

	if err := idx.validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) validate() error {
	for i := range idx.offs {
		counts := idx.out[i]
		if idx.hdr.IsDirected() {
			counts += idx.in[i]
		}
		want := vertexHeaderSize(idx.hdr.Type) + 4*counts
		if idx.size[i] != want {
			return fmt.Errorf("graphfile: malformed index: vertex %d size %d, expected %d",
				i, idx.size[i], want)
		}
	}
	return nil
}

// Header returns the graph header recorded in the index.
func (idx *Index) Header() Header { return idx.hdr }

// IsDirected reports whether the indexed graph is directed.
func (idx *Index) IsDirected() bool { return idx.hdr.IsDirected() }

// NumVertices returns the total vertex count.
func (idx *Index) NumVertices() uint64 { return idx.hdr.NumVertices }

// MinVertexID returns the smallest vertex id.
func (idx *Index) MinVertexID() VertexID { return 0 }

// MaxVertexID returns the largest vertex id.
func (idx *Index) MaxVertexID() VertexID {
	if idx.hdr.NumVertices == 0 {
		return InvalidVertexID
	}
	return VertexID(idx.hdr.NumVertices - 1)
}

func (idx *Index) check(id VertexID) error {
	if uint64(id) >= idx.hdr.NumVertices {
		return fmt.Errorf("graphfile: vertex %d out of range [0, %d)", id, idx.hdr.NumVertices)
	}
	return nil
}

// GetVertexInfo returns the blob location of a vertex.
func (idx *Index) GetVertexInfo(id VertexID) (VertexInfo, error) {
	if err := idx.check(id); err != nil {
		return VertexInfo{}, err
	}
	return VertexInfo{Off: idx.offs[id], Size: idx.size[id]}, nil
}

// GetExtMemSize returns the byte length of a vertex's adjacency blob.
func (idx *Index) GetExtMemSize(id VertexID) uint32 {
	if uint64(id) >= idx.hdr.NumVertices {
		return 0
	}
	return idx.size[id]
}

// GetNumInEdges returns the in-edge count of a directed vertex.
// For undirected graphs it returns the full edge count.
func (idx *Index) GetNumInEdges(id VertexID) uint32 {
	if uint64(id) >= idx.hdr.NumVertices {
		return 0
	}
	if !idx.hdr.IsDirected() {
		return idx.out[id]
	}
	return idx.in[id]
}

// GetNumOutEdges returns the out-edge count of a directed vertex.
// For undirected graphs it returns the full edge count.
func (idx *Index) GetNumOutEdges(id VertexID) uint32 {
	if uint64(id) >= idx.hdr.NumVertices {
		return 0
	}
	return idx.out[id]
}

// NumEdgeSlots returns the number of neighbor entries stored for a
// vertex: in+out for directed, the neighbor list length for undirected.
func (idx *Index) NumEdgeSlots(id VertexID) uint32 {
	size := idx.GetExtMemSize(id)
	if size == 0 {
		return 0
	}
	return (size - vertexHeaderSize(idx.hdr.Type)) / 4
}
