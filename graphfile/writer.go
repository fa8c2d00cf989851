package graphfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/hupe1980/gravel/internal/fs"
)

// MemGraph is an in-memory adjacency representation used to build graph
// and index files. For undirected graphs only Out is populated and every
// edge appears in both endpoints' lists (a self-loop appears once).
type MemGraph struct {
	Directed bool
	Out      [][]VertexID
	In       [][]VertexID // directed only; len must equal len(Out)
}

// NumVertices returns the vertex count.
func (g *MemGraph) NumVertices() int { return len(g.Out) }

func (g *MemGraph) numEdgeSlots() uint64 {
	var n uint64
	for _, l := range g.Out {
		n += uint64(len(l))
	}
	if g.Directed {
		for _, l := range g.In {
			n += uint64(len(l))
		}
	}
	return n
}

// WriteGraph serializes g into a graph file and its vertex index file.
func WriteGraph(fsys fs.FileSystem, graphPath, indexPath string, g *MemGraph) error {
	if fsys == nil {
		fsys = fs.Default
	}
	if g.Directed && len(g.In) != len(g.Out) {
		return fmt.Errorf("graphfile: directed graph with %d in-lists for %d vertices",
			len(g.In), len(g.Out))
	}

	typ := Undirected
	if g.Directed {
		typ = Directed
	}
	hdr := Header{
		Type:        typ,
		NumVertices: uint64(len(g.Out)),
		NumEdges:    g.numEdgeSlots(),
	}

	gf, err := fsys.OpenFile(graphPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("graphfile: create graph file: %w", err)
	}
	defer gf.Close()
	xf, err := fsys.OpenFile(indexPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("graphfile: create index file: %w", err)
	}
	defer xf.Close()

	gw := bufio.NewWriterSize(gf, 1<<20)
	xw := bufio.NewWriterSize(xf, 1<<20)

	if _, err := gw.Write(hdr.marshal(graphMagic)); err != nil {
		return fmt.Errorf("graphfile: write graph header: %w", err)
	}
	if _, err := xw.Write(hdr.marshal(indexMagic)[:headerSize]); err != nil {
		return fmt.Errorf("graphfile: write index header: %w", err)
	}

	var u32 [4]byte
	putIDs := func(ids []VertexID) error {
		for _, id := range ids {
			binary.LittleEndian.PutUint32(u32[:], uint32(id))
			if _, err := gw.Write(u32[:]); err != nil {
				return err
			}
		}
		return nil
	}

	off := int64(PageSize) // blobs start at the first page boundary
	entry := make([]byte, directedEntrySize)
	for i := range g.Out {
		var size uint32
		if g.Directed {
			size = 8 + 4*uint32(len(g.In[i])+len(g.Out[i]))
			binary.LittleEndian.PutUint32(u32[:], uint32(len(g.In[i])))
			if _, err := gw.Write(u32[:]); err != nil {
				return fmt.Errorf("graphfile: write vertex %d: %w", i, err)
			}
			binary.LittleEndian.PutUint32(u32[:], uint32(len(g.Out[i])))
			if _, err := gw.Write(u32[:]); err != nil {
				return fmt.Errorf("graphfile: write vertex %d: %w", i, err)
			}
			if err := putIDs(g.In[i]); err != nil {
				return fmt.Errorf("graphfile: write vertex %d: %w", i, err)
			}
			if err := putIDs(g.Out[i]); err != nil {
				return fmt.Errorf("graphfile: write vertex %d: %w", i, err)
			}

			binary.LittleEndian.PutUint64(entry[0:], uint64(off))
			binary.LittleEndian.PutUint32(entry[8:], size)
			binary.LittleEndian.PutUint32(entry[12:], uint32(len(g.In[i])))
			binary.LittleEndian.PutUint32(entry[16:], uint32(len(g.Out[i])))
			if _, err := xw.Write(entry[:directedEntrySize]); err != nil {
				return fmt.Errorf("graphfile: write index entry %d: %w", i, err)
			}
		} else {
			size = 4 + 4*uint32(len(g.Out[i]))
			binary.LittleEndian.PutUint32(u32[:], uint32(len(g.Out[i])))
			if _, err := gw.Write(u32[:]); err != nil {
				return fmt.Errorf("graphfile: write vertex %d: %w", i, err)
			}
			if err := putIDs(g.Out[i]); err != nil {
				return fmt.Errorf("graphfile: write vertex %d: %w", i, err)
			}

			binary.LittleEndian.PutUint64(entry[0:], uint64(off))
			binary.LittleEndian.PutUint32(entry[8:], size)
			binary.LittleEndian.PutUint32(entry[12:], uint32(len(g.Out[i])))
			if _, err := xw.Write(entry[:undirectedEntrySize]); err != nil {
				return fmt.Errorf("graphfile: write index entry %d: %w", i, err)
			}
		}
		off += int64(size)
	}

	// Pad the graph file to a whole page so every blob read can round up.
	if pad := (PageSize - off%PageSize) % PageSize; pad > 0 {
		if _, err := gw.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("graphfile: pad graph file: %w", err)
		}
	}

	if err := gw.Flush(); err != nil {
		return fmt.Errorf("graphfile: flush graph file: %w", err)
	}
	if err := xw.Flush(); err != nil {
		return fmt.Errorf("graphfile: flush index file: %w", err)
	}
	if err := gf.Sync(); err != nil {
		return fmt.Errorf("graphfile: sync graph file: %w", err)
	}
	if err := xf.Sync(); err != nil {
		return fmt.Errorf("graphfile: sync index file: %w", err)
	}
	return nil
}
