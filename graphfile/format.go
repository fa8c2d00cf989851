package graphfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// VertexID identifies a vertex. IDs are dense in [0, NumVertices).
type VertexID uint32

// InvalidVertexID is a sentinel for "no vertex".
const InvalidVertexID = VertexID(^uint32(0))

// EdgeKind selects which edges of a vertex an operation applies to.
type EdgeKind int

const (
	EdgeIn EdgeKind = iota
	EdgeOut
	EdgeBoth
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeIn:
		return "in"
	case EdgeOut:
		return "out"
	case EdgeBoth:
		return "both"
	}
	return fmt.Sprintf("EdgeKind(%d)", int(k))
}

// GraphType distinguishes the two on-disk layouts.
type GraphType uint32

const (
	Undirected GraphType = 1
	Directed   GraphType = 2
)

// PageSize is the alignment unit of the graph and index files.
const PageSize = 4096

var (
	graphMagic = [8]byte{'G', 'R', 'A', 'V', 'E', 'L', 'G', '1'}
	indexMagic = [8]byte{'G', 'R', 'A', 'V', 'E', 'L', 'X', '1'}
)

const formatVersion = 1

// ErrBadMagic reports a file that is not a gravel graph or index file.
var ErrBadMagic = errors.New("graphfile: bad magic")

// Header describes a graph file.
type Header struct {
	Type        GraphType
	NumVertices uint64
	NumEdges    uint64
}

// IsDirected reports whether the graph is directed.
func (h Header) IsDirected() bool { return h.Type == Directed }

const headerSize = 8 + 4 + 4 + 8 + 8

func (h Header) marshal(magic [8]byte) []byte {
	buf := make([]byte, PageSize)
	copy(buf, magic[:])
	binary.LittleEndian.PutUint32(buf[8:], formatVersion)
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.Type))
	binary.LittleEndian.PutUint64(buf[16:], h.NumVertices)
	binary.LittleEndian.PutUint64(buf[24:], h.NumEdges)
	return buf
}

func unmarshalHeader(buf []byte, magic [8]byte) (Header, error) {
	var h Header
	if len(buf) < headerSize {
		return h, fmt.Errorf("graphfile: header truncated: %d bytes", len(buf))
	}
	if [8]byte(buf[:8]) != magic {
		return h, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(buf[8:]); v != formatVersion {
		return h, fmt.Errorf("graphfile: unsupported version: %d (expected %d)", v, formatVersion)
	}
	h.Type = GraphType(binary.LittleEndian.Uint32(buf[12:]))
	if h.Type != Undirected && h.Type != Directed {
		return h, fmt.Errorf("graphfile: unknown graph type %d", h.Type)
	}
	h.NumVertices = binary.LittleEndian.Uint64(buf[16:])
	h.NumEdges = binary.LittleEndian.Uint64(buf[24:])
	return h, nil
}

// vertexHeaderSize is the size of the count prefix of an adjacency blob.
func vertexHeaderSize(t GraphType) uint32 {
	if t == Directed {
		return 8
	}
	return 4
}
