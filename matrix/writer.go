package matrix

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/hupe1980/gravel/graphfile"
	"github.com/hupe1980/gravel/internal/fs"
)

// Entry is one nonzero of a matrix in coordinate form.
type Entry struct {
	R uint32
	C uint32
	V float64
}

// COO is a sparse matrix in coordinate form, the input of WriteMatrix.
type COO struct {
	Rows    uint64
	Cols    uint64
	Entries []Entry
}

// FromMemGraph derives the adjacency matrix of a graph: entry (u, v)
// with value 1 for every edge u -> v.
func FromMemGraph(g *graphfile.MemGraph) *COO {
	n := uint64(g.NumVertices())
	coo := &COO{Rows: n, Cols: n}
	for u, neighbors := range g.Out {
		for _, v := range neighbors {
			coo.Entries = append(coo.Entries, Entry{R: uint32(u), C: uint32(v), V: 1})
		}
	}
	return coo
}

// WriteMatrix serializes coo into a 2D-partitioned matrix file and its
// block index. blockH and blockW must fit block-local coordinates in 16
// bits.
func WriteMatrix(fsys fs.FileSystem, matPath, idxPath string, coo *COO, blockH, blockW uint32) error {
	if fsys == nil {
		fsys = fs.Default
	}
	if blockH == 0 || blockH > 1<<16 || blockW == 0 || blockW > 1<<16 {
		return fmt.Errorf("matrix: block size %dx%d out of range (1..65536)", blockH, blockW)
	}

	hdr := Header{
		Rows:   coo.Rows,
		Cols:   coo.Cols,
		BlockH: blockH,
		BlockW: blockW,
		NNZ:    uint64(len(coo.Entries)),
	}
	H := hdr.BlockRows()

	entries := make([]Entry, len(coo.Entries))
	copy(entries, coo.Entries)
	sort.Slice(entries, func(a, b int) bool {
		ea, eb := entries[a], entries[b]
		bra, brb := ea.R/blockH, eb.R/blockH
		if bra != brb {
			return bra < brb
		}
		bca, bcb := ea.C/blockW, eb.C/blockW
		if bca != bcb {
			return bca < bcb
		}
		if ea.R != eb.R {
			return ea.R < eb.R
		}
		return ea.C < eb.C
	})

	mf, err := fsys.OpenFile(matPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("matrix: create matrix file: %w", err)
	}
	defer mf.Close()
	mw := bufio.NewWriterSize(mf, 1<<20)

	if _, err := mw.Write(hdr.marshal()); err != nil {
		return fmt.Errorf("matrix: write header: %w", err)
	}

	stripOffs := make([]int64, H+1)
	off := int64(PageSize)

	i := 0
	for strip := 0; strip < H; strip++ {
		stripOffs[strip] = off
		for i < len(entries) && int(entries[i].R/blockH) == strip {
			// Collect one block.
			bcol := entries[i].C / blockW
			b := Block{BlockRow: strip, BlockCol: int(bcol)}
			for i < len(entries) && int(entries[i].R/blockH) == strip && entries[i].C/blockW == bcol {
				e := entries[i]
				b.Rows = append(b.Rows, uint16(e.R%blockH))
				b.Cols = append(b.Cols, uint16(e.C%blockW))
				b.Vals = append(b.Vals, e.V)
				i++
			}
			buf := make([]byte, b.encodedSize())
			b.encode(buf)
			if _, err := mw.Write(buf); err != nil {
				return fmt.Errorf("matrix: write block (%d,%d): %w", b.BlockRow, b.BlockCol, err)
			}
			off += int64(len(buf))
		}
	}
	stripOffs[H] = off

	if pad := (PageSize - off%PageSize) % PageSize; pad > 0 {
		if _, err := mw.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("matrix: pad matrix file: %w", err)
		}
	}
	if err := mw.Flush(); err != nil {
		return fmt.Errorf("matrix: flush matrix file: %w", err)
	}
	if err := mf.Sync(); err != nil {
		return fmt.Errorf("matrix: sync matrix file: %w", err)
	}

	xf, err := fsys.OpenFile(idxPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("matrix: create block index: %w", err)
	}
	defer xf.Close()
	xw := bufio.NewWriterSize(xf, 1<<20)

	hbuf := make([]byte, 16)
	copy(hbuf, matrixIdxMagic[:])
	binary.LittleEndian.PutUint32(hbuf[8:], formatVersion)
	binary.LittleEndian.PutUint32(hbuf[12:], uint32(H))
	if _, err := xw.Write(hbuf); err != nil {
		return fmt.Errorf("matrix: write block index header: %w", err)
	}
	obuf := make([]byte, 8)
	for _, o := range stripOffs {
		binary.LittleEndian.PutUint64(obuf, uint64(o))
		if _, err := xw.Write(obuf); err != nil {
			return fmt.Errorf("matrix: write block index offset: %w", err)
		}
	}
	if err := xw.Flush(); err != nil {
		return fmt.Errorf("matrix: flush block index: %w", err)
	}
	if err := xf.Sync(); err != nil {
		return fmt.Errorf("matrix: sync block index: %w", err)
	}
	return nil
}

// Transposed returns the coordinate form of the transpose.
func (c *COO) Transposed() *COO {
	t := &COO{Rows: c.Cols, Cols: c.Rows, Entries: make([]Entry, len(c.Entries))}
	for i, e := range c.Entries {
		t.Entries[i] = Entry{R: e.C, C: e.R, V: e.V}
	}
	return t
}
