package matrix

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/gravel"
	"github.com/hupe1980/gravel/blockio"
	"github.com/hupe1980/gravel/graphfile"
	"github.com/hupe1980/gravel/internal/fs"
)

// FGMatrix exposes a graph's adjacency matrix straight from the graph
// file, with no 2D conversion: the matrix is partitioned in row blocks
// of cfg.RowBlockSize vertices and cfg.RBIOSize row blocks are read per
// I/O. Entry (u, v) is 1 for every edge u -> v.
type FGMatrix struct {
	idx     *graphfile.Index
	factory *blockio.Factory
	cfg     gravel.Config
}

// FromGraph opens the adjacency matrix of a stored graph.
func FromGraph(graphPath, indexPath string, cfg gravel.Config, opts ...LoadOption) (*FGMatrix, error) {
	o := loadOptions{fsys: fs.Default, logger: gravel.NoopLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	idx, err := graphfile.LoadIndex(o.fsys, indexPath)
	if err != nil {
		return nil, err
	}
	factory, err := gravel.OpenIO(o.fsys, graphPath)
	if err != nil {
		return nil, err
	}
	return &FGMatrix{idx: idx, factory: factory, cfg: cfg}, nil
}

// Rows returns the matrix height (the vertex count).
func (m *FGMatrix) Rows() uint64 { return m.idx.NumVertices() }

// Close releases the graph file.
func (m *FGMatrix) Close() error { return m.factory.Close() }

// MultiplyVector computes out[u] = sum over edges u -> v of in[v].
func (m *FGMatrix) MultiplyVector(ctx context.Context, in, out []float64) error {
	n := m.idx.NumVertices()
	if uint64(len(in)) != n || uint64(len(out)) != n {
		return fmt.Errorf("%w: in %d out %d for %d vertices",
			ErrDimensionMismatch, len(in), len(out), n)
	}
	if n == 0 {
		return nil
	}

	rowBlock := uint64(m.cfg.RowBlockSize)
	numBlocks := int((n + rowBlock - 1) / rowBlock)
	rbIO := m.cfg.RBIOSize
	numGroups := (numBlocks + rbIO - 1) / rbIO
	numWorkers := m.cfg.NumThreads
	if numWorkers > numGroups {
		numWorkers = numGroups
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		w := w
		g.Go(func() error {
			for grp := w; grp < numGroups; grp += numWorkers {
				v0 := uint64(grp) * rowBlock * uint64(rbIO)
				v1 := v0 + rowBlock*uint64(rbIO)
				if v1 > n {
					v1 = n
				}
				if err := m.multiplyRows(ctx, in, out, graphfile.VertexID(v0), graphfile.VertexID(v1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// multiplyRows streams the adjacency rows [v0, v1) with one read and
// accumulates their products. Workers own disjoint row ranges.
func (m *FGMatrix) multiplyRows(ctx context.Context, in, out []float64, v0, v1 graphfile.VertexID) error {
	first, err := m.idx.GetVertexInfo(v0)
	if err != nil {
		return err
	}
	last, err := m.idx.GetVertexInfo(v1 - 1)
	if err != nil {
		return err
	}
	start := first.Off
	end := last.Off + int64(last.Size)

	off := start / PageSize * PageSize
	size := (end - off + PageSize - 1) / PageSize * PageSize
	run, err := m.factory.ReadRun(ctx, off, size)
	if err != nil {
		return err
	}
	defer run.Release()
	buf := gatherRun(run, start, end)

	directed := m.idx.IsDirected()
	for v := v0; v < v1; v++ {
		info, err := m.idx.GetVertexInfo(v)
		if err != nil {
			return err
		}
		row := buf[info.Off-start : info.Off-start+int64(info.Size)]
		var sum float64
		if directed {
			numIn := binary.LittleEndian.Uint32(row[0:])
			numOut := binary.LittleEndian.Uint32(row[4:])
			outList := row[8+4*numIn : 8+4*numIn+4*numOut]
			for i := uint32(0); i < numOut; i++ {
				sum += in[binary.LittleEndian.Uint32(outList[4*i:])]
			}
		} else {
			num := binary.LittleEndian.Uint32(row[0:])
			for i := uint32(0); i < num; i++ {
				sum += in[binary.LittleEndian.Uint32(row[4+4*i:])]
			}
		}
		out[v] = sum
	}
	return nil
}
