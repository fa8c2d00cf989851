package matrix

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hupe1980/gravel/internal/fs"
)

var (
	matrixMagic    = [8]byte{'G', 'R', 'A', 'V', 'E', 'L', 'M', '1'}
	matrixIdxMagic = [8]byte{'G', 'R', 'A', 'V', 'E', 'L', 'M', 'X'}
)

const formatVersion = 1

// PageSize is the alignment unit of matrix files.
const PageSize = 4096

// ErrBadMagic reports a file that is not a gravel matrix or matrix
// index file.
var ErrBadMagic = errors.New("matrix: bad magic")

// Header describes a 2D-partitioned sparse matrix file.
type Header struct {
	Rows   uint64
	Cols   uint64
	BlockH uint32 // block height in matrix rows
	BlockW uint32 // block width in matrix columns
	NNZ    uint64
}

// BlockRows returns the block grid height.
func (h Header) BlockRows() int {
	return int((h.Rows + uint64(h.BlockH) - 1) / uint64(h.BlockH))
}

// BlockCols returns the block grid width.
func (h Header) BlockCols() int {
	return int((h.Cols + uint64(h.BlockW) - 1) / uint64(h.BlockW))
}

const headerSize = 8 + 4 + 4 + 8 + 8 + 4 + 4 + 8

func (h Header) marshal() []byte {
	buf := make([]byte, PageSize)
	copy(buf, matrixMagic[:])
	binary.LittleEndian.PutUint32(buf[8:], formatVersion)
	binary.LittleEndian.PutUint64(buf[16:], h.Rows)
	binary.LittleEndian.PutUint64(buf[24:], h.Cols)
	binary.LittleEndian.PutUint32(buf[32:], h.BlockH)
	binary.LittleEndian.PutUint32(buf[36:], h.BlockW)
	binary.LittleEndian.PutUint64(buf[40:], h.NNZ)
	return buf
}

func unmarshalMatrixHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < headerSize {
		return h, fmt.Errorf("matrix: header truncated: %d bytes", len(buf))
	}
	if [8]byte(buf[:8]) != matrixMagic {
		return h, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(buf[8:]); v != formatVersion {
		return h, fmt.Errorf("matrix: unsupported version: %d (expected %d)", v, formatVersion)
	}
	h.Rows = binary.LittleEndian.Uint64(buf[16:])
	h.Cols = binary.LittleEndian.Uint64(buf[24:])
	h.BlockH = binary.LittleEndian.Uint32(buf[32:])
	h.BlockW = binary.LittleEndian.Uint32(buf[36:])
	h.NNZ = binary.LittleEndian.Uint64(buf[40:])
	if h.BlockH == 0 || h.BlockW == 0 {
		return h, fmt.Errorf("matrix: zero block size in header")
	}
	return h, nil
}

// Block is one decoded 2D tile: the unit of I/O iteration and of
// Hilbert ordering. Entry coordinates are block-local.
type Block struct {
	BlockRow int
	BlockCol int
	Rows     []uint16
	Cols     []uint16
	Vals     []float64
}

const blockHeaderSize = 8
const entrySize = 2 + 2 + 8

func (b *Block) encodedSize() int {
	return blockHeaderSize + entrySize*len(b.Vals)
}

func (b *Block) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(b.BlockCol))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(b.Vals)))
	off := blockHeaderSize
	for i := range b.Vals {
		binary.LittleEndian.PutUint16(buf[off:], b.Rows[i])
		binary.LittleEndian.PutUint16(buf[off+2:], b.Cols[i])
		binary.LittleEndian.PutUint64(buf[off+4:], math.Float64bits(b.Vals[i]))
		off += entrySize
	}
}

// decodeStrip parses one block row strip into its blocks, ascending by
// block column.
func decodeStrip(buf []byte, blockRow int) ([]*Block, error) {
	var blocks []*Block
	off := 0
	for off < len(buf) {
		if off+blockHeaderSize > len(buf) {
			return nil, fmt.Errorf("matrix: truncated block header in strip %d", blockRow)
		}
		col := int(binary.LittleEndian.Uint32(buf[off:]))
		count := int(binary.LittleEndian.Uint32(buf[off+4:]))
		off += blockHeaderSize
		if off+count*entrySize > len(buf) {
			return nil, fmt.Errorf("matrix: truncated block (%d,%d)", blockRow, col)
		}
		b := &Block{
			BlockRow: blockRow,
			BlockCol: col,
			Rows:     make([]uint16, count),
			Cols:     make([]uint16, count),
			Vals:     make([]float64, count),
		}
		for i := 0; i < count; i++ {
			b.Rows[i] = binary.LittleEndian.Uint16(buf[off:])
			b.Cols[i] = binary.LittleEndian.Uint16(buf[off+2:])
			b.Vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off+4:]))
			off += entrySize
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// BlockIndex maps block rows to their strip byte ranges. Entry i is the
// file offset of strip i; the final entry marks the end of the strips.
type BlockIndex struct {
	offs []int64
}

// NumBlockRows returns the block grid height recorded in the index.
func (x *BlockIndex) NumBlockRows() int { return len(x.offs) - 1 }

// StripRange returns the byte range [start, end) of strips [lo, hi).
func (x *BlockIndex) StripRange(lo, hi int) (int64, int64) {
	return x.offs[lo], x.offs[hi]
}

// LoadBlockIndex reads a matrix block index file.
func LoadBlockIndex(fsys fs.FileSystem, path string) (*BlockIndex, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("matrix: open block index: %w", err)
	}
	defer f.Close()

	hbuf := make([]byte, 16)
	if _, err := io.ReadFull(f, hbuf); err != nil {
		return nil, fmt.Errorf("matrix: read block index header: %w", err)
	}
	if [8]byte(hbuf[:8]) != matrixIdxMagic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(hbuf[8:]); v != formatVersion {
		return nil, fmt.Errorf("matrix: unsupported block index version: %d", v)
	}
	n := int(binary.LittleEndian.Uint32(hbuf[12:]))

	buf := make([]byte, 8*(n+1))
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("matrix: read block index offsets: %w", err)
	}
	idx := &BlockIndex{offs: make([]int64, n+1)}
	for i := range idx.offs {
		idx.offs[i] = int64(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	for i := 0; i < n; i++ {
		if idx.offs[i+1] < idx.offs[i] {
			return nil, fmt.Errorf("matrix: malformed block index: strip %d ends before it starts", i)
		}
	}
	return idx, nil
}
