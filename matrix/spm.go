package matrix

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/gravel"
	"github.com/hupe1980/gravel/blockio"
	"github.com/hupe1980/gravel/internal/fs"
)

// LoadOption configures loading a sparse matrix.
type LoadOption func(*loadOptions)

type loadOptions struct {
	fsys   fs.FileSystem
	logger *gravel.Logger
}

// WithFileSystem substitutes the file system used to open the matrix.
func WithFileSystem(fsys fs.FileSystem) LoadOption {
	return func(o *loadOptions) { o.fsys = fsys }
}

// WithLogger sets the structured logger.
func WithLogger(l *gravel.Logger) LoadOption {
	return func(o *loadOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// SpM is a 2D-partitioned sparse matrix streamed from external memory.
type SpM struct {
	hdr     Header
	idx     *BlockIndex
	factory *blockio.Factory
	cfg     gravel.Config
	logger  *gravel.Logger

	// window orders per task width, chosen at load time
	hilbert map[int]*HilbertOrder

	trans *SpM // transpose pair for asymmetric matrices
}

// Load opens a sparse matrix and its block index. With
// cfg.UseHilbertOrder set, the block grid must be a power-of-two
// square; the error surfaces here, before any dispatch.
func Load(matPath, idxPath string, cfg gravel.Config, opts ...LoadOption) (*SpM, error) {
	o := loadOptions{fsys: fs.Default, logger: gravel.NoopLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hdr, err := readMatrixHeader(o.fsys, matPath)
	if err != nil {
		return nil, err
	}
	idx, err := LoadBlockIndex(o.fsys, idxPath)
	if err != nil {
		return nil, err
	}
	if idx.NumBlockRows() != hdr.BlockRows() {
		return nil, fmt.Errorf("matrix: index has %d block rows, header wants %d",
			idx.NumBlockRows(), hdr.BlockRows())
	}

	m := &SpM{
		hdr:     hdr,
		idx:     idx,
		cfg:     cfg,
		logger:  o.logger,
		hilbert: make(map[int]*HilbertOrder),
	}

	if cfg.UseHilbertOrder {
		if _, err := NewHilbertOrder(hdr.BlockRows(), hdr.BlockCols()); err != nil {
			return nil, err
		}
		// Precompute the task window permutation once; workers only read
		// the map. A trailing partial window falls back to storage order.
		w := cfg.RBIOSize
		if w > hdr.BlockRows() {
			w = hdr.BlockRows()
		}
		if o, err := NewHilbertOrder(w, w); err == nil {
			m.hilbert[w] = o
		}
	}

	m.factory, err = gravel.OpenIO(o.fsys, matPath)
	if err != nil {
		return nil, err
	}

	m.logger.Info("matrix loaded",
		"rows", hdr.Rows,
		"cols", hdr.Cols,
		"block_grid", fmt.Sprintf("%dx%d", hdr.BlockRows(), hdr.BlockCols()),
		"nnz", hdr.NNZ,
		"hilbert", cfg.UseHilbertOrder,
	)
	return m, nil
}

// LoadAsym opens an asymmetric matrix together with its stored
// transpose so Transpose needs no recomputation.
func LoadAsym(matPath, idxPath, tMatPath, tIdxPath string, cfg gravel.Config, opts ...LoadOption) (*SpM, error) {
	m, err := Load(matPath, idxPath, cfg, opts...)
	if err != nil {
		return nil, err
	}
	t, err := Load(tMatPath, tIdxPath, cfg, opts...)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.trans = t
	t.trans = m
	return m, nil
}

func readMatrixHeader(fsys fs.FileSystem, path string) (Header, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Header{}, fmt.Errorf("matrix: open %s: %w", path, err)
	}
	defer f.Close()
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return Header{}, fmt.Errorf("matrix: read header: %w", err)
	}
	return unmarshalMatrixHeader(buf)
}

// Rows returns the matrix height.
func (m *SpM) Rows() uint64 { return m.hdr.Rows }

// Cols returns the matrix width.
func (m *SpM) Cols() uint64 { return m.hdr.Cols }

// Header returns the matrix header.
func (m *SpM) Header() Header { return m.hdr }

// Transpose returns the stored transpose for asymmetric matrices and
// the matrix itself for symmetric ones.
func (m *SpM) Transpose() *SpM {
	if m.trans != nil {
		return m.trans
	}
	return m
}

// IOStats returns the matrix file's I/O counters.
func (m *SpM) IOStats() blockio.Stats { return m.factory.Stats() }

// Close releases the matrix files.
func (m *SpM) Close() error {
	err := m.factory.Close()
	if m.trans != nil && m.trans.factory != m.factory {
		t := m.trans
		m.trans = nil
		t.trans = nil
		if terr := t.Close(); err == nil {
			err = terr
		}
	}
	return err
}

// windowOrder picks the exec order for a w x w task window: Hilbert
// when configured and precomputed for that width, storage order
// otherwise.
func (m *SpM) windowOrder(w int) ExecOrder {
	if o, ok := m.hilbert[w]; ok {
		return o
	}
	return SeqOrder{}
}

// stripTask consumes one strip group's blocks and finalizes its output
// slice when the group completes.
type stripTask interface {
	blockTask
	complete()
}

// MultiplyVector computes out = M * in.
func (m *SpM) MultiplyVector(ctx context.Context, in, out []float64) error {
	if uint64(len(in)) != m.hdr.Cols || uint64(len(out)) != m.hdr.Rows {
		return fmt.Errorf("%w: in %d out %d for %dx%d matrix",
			ErrDimensionMismatch, len(in), len(out), m.hdr.Rows, m.hdr.Cols)
	}
	for i := range out {
		out[i] = 0
	}
	return m.run(ctx, func(lo, hi int) stripTask {
		return &spmvTask{m: m, in: in, out: out}
	})
}

// Multiply computes out = M * in for a dense right-hand side. The inner
// loop is row-strided; column-major outputs are accumulated in a
// row-major scratch and copied back when a strip group completes.
func (m *SpM) Multiply(ctx context.Context, in *mat.Dense, out DenseStore) error {
	ir, ic := in.Dims()
	or, oc := out.Dims()
	if uint64(ir) != m.hdr.Cols || uint64(or) != m.hdr.Rows || ic != oc {
		return fmt.Errorf("%w: in %dx%d out %dx%d for %dx%d matrix",
			ErrDimensionMismatch, ir, ic, or, oc, m.hdr.Rows, m.hdr.Cols)
	}
	return m.run(ctx, func(lo, hi int) stripTask {
		return newSpmmTask(m, in, out, lo, hi)
	})
}

// run streams strip groups to the worker pool. Workers own disjoint
// block rows, so no output synchronization is needed. Each worker keeps
// one read ahead of the group it is processing.
func (m *SpM) run(ctx context.Context, newTask func(lo, hi int) stripTask) error {
	numStrips := m.idx.NumBlockRows()
	if numStrips == 0 {
		return nil
	}
	rb := m.cfg.RBIOSize
	numGroups := (numStrips + rb - 1) / rb
	numWorkers := m.cfg.NumThreads
	if numWorkers > numGroups {
		numWorkers = numGroups
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		w := w
		g.Go(func() error {
			return m.workerLoop(ctx, w, numWorkers, numGroups, newTask)
		})
	}
	return g.Wait()
}

func (m *SpM) workerLoop(ctx context.Context, worker, numWorkers, numGroups int, newTask func(lo, hi int) stripTask) error {
	ioc := m.factory.NewContext(2)
	rb := m.cfg.RBIOSize
	numStrips := m.idx.NumBlockRows()

	groups := make([]int, 0, numGroups/numWorkers+1)
	for grp := worker; grp < numGroups; grp += numWorkers {
		groups = append(groups, grp)
	}

	bounds := func(grp int) (int, int) {
		lo := grp * rb
		hi := lo + rb
		if hi > numStrips {
			hi = numStrips
		}
		return lo, hi
	}

	// Keep one read ahead of the group being processed. Groups with no
	// blocks on disk still produce (and complete) a task so their output
	// rows are finalized.
	next := 0
	submitAhead := func() error {
		for next < len(groups) && ioc.Inflight() < 1 {
			grp := groups[next]
			next++
			lo, hi := bounds(grp)
			start, end := m.idx.StripRange(lo, hi)
			if start == end {
				t := newTask(lo, hi)
				t.complete()
				continue
			}
			off := start / PageSize * PageSize
			size := (end - off + PageSize - 1) / PageSize * PageSize
			if err := ioc.Submit(ctx, blockio.Request{Off: off, Size: size, Tag: uint64(grp)}); err != nil {
				return err
			}
		}
		return nil
	}

	if err := submitAhead(); err != nil {
		return err
	}
	for ioc.Inflight() > 0 {
		c := <-ioc.Completions()
		ioc.Done()
		if c.Err != nil {
			return c.Err
		}
		if err := submitAhead(); err != nil {
			c.Run.Release()
			return err
		}
		if err := m.processGroup(int(c.Req.Tag), c.Run, newTask); err != nil {
			return err
		}
	}
	return nil
}

// processGroup walks one completed strip group: square windows of
// blocks, each visited in the configured order.
func (m *SpM) processGroup(grp int, run *blockio.PageRun, newTask func(lo, hi int) stripTask) error {
	defer run.Release()

	rb := m.cfg.RBIOSize
	numStrips := m.idx.NumBlockRows()
	lo := grp * rb
	hi := lo + rb
	if hi > numStrips {
		hi = numStrips
	}
	start, end := m.idx.StripRange(lo, hi)
	buf := gatherRun(run, start, end)

	// Per-strip block streams.
	n := hi - lo
	streams := make([][]*Block, n)
	for s := lo; s < hi; s++ {
		ss, se := m.idx.StripRange(s, s+1)
		blocks, err := decodeStrip(buf[ss-start:se-start], s)
		if err != nil {
			return err
		}
		streams[s-lo] = blocks
	}

	task := newTask(lo, hi)
	order := m.windowOrder(n)
	window := make([]*Block, n*n)

	sbCol := 0
	for {
		hasBlocks := false
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				idx := i*n + j
				window[idx] = nil
				if len(streams[i]) == 0 {
					continue
				}
				if b := streams[i][0]; b.BlockCol == sbCol+j {
					window[idx] = b
					streams[i] = streams[i][1:]
				}
			}
			hasBlocks = hasBlocks || len(streams[i]) > 0
		}
		order.Exec(task, window)
		if !hasBlocks {
			break
		}
		sbCol += n
	}
	task.complete()
	return nil
}

// gatherRun copies [start, end) out of a pinned page run.
func gatherRun(run *blockio.PageRun, start, end int64) []byte {
	buf := make([]byte, end-start)
	for i, p := range run.Pages() {
		pageOff := run.Base() + int64(i)*PageSize
		data := p.Data()
		from := start - pageOff
		if from < 0 {
			from = 0
		}
		to := end - pageOff
		if to > int64(len(data)) {
			to = int64(len(data))
		}
		if from >= to {
			continue
		}
		copy(buf[pageOff+from-start:], data[from:to])
	}
	return buf
}

// spmvTask accumulates out[row] += val * in[col] per block entry.
type spmvTask struct {
	m   *SpM
	in  []float64
	out []float64
}

func (t *spmvTask) runOnBlock(b *Block) {
	baseR := uint64(b.BlockRow) * uint64(t.m.hdr.BlockH)
	baseC := uint64(b.BlockCol) * uint64(t.m.hdr.BlockW)
	for i, v := range b.Vals {
		t.out[baseR+uint64(b.Rows[i])] += v * t.in[baseC+uint64(b.Cols[i])]
	}
}

func (t *spmvTask) complete() {}

// spmmTask is the dense-operand variant. Row-major outputs are updated
// in place; column-major outputs go through a row-major scratch that is
// copied back on completion.
type spmmTask struct {
	m       *SpM
	in      *mat.Dense
	out     DenseStore
	rowBase int
	rows    [][]float64
	direct  bool
}

func newSpmmTask(m *SpM, in *mat.Dense, out DenseStore, lo, hi int) *spmmTask {
	rowBase := lo * int(m.hdr.BlockH)
	rowEnd := hi * int(m.hdr.BlockH)
	if rowEnd > int(m.hdr.Rows) {
		rowEnd = int(m.hdr.Rows)
	}
	_, k := out.Dims()

	t := &spmmTask{
		m:       m,
		in:      in,
		out:     out,
		rowBase: rowBase,
		rows:    make([][]float64, rowEnd-rowBase),
		direct:  out.RowMajor(),
	}
	for i := range t.rows {
		if t.direct {
			row := out.Row(rowBase + i)
			for c := range row {
				row[c] = 0
			}
			t.rows[i] = row
		} else {
			t.rows[i] = make([]float64, k)
		}
	}
	return t
}

func (t *spmmTask) runOnBlock(b *Block) {
	baseR := b.BlockRow*int(t.m.hdr.BlockH) - t.rowBase
	baseC := b.BlockCol * int(t.m.hdr.BlockW)
	for i, v := range b.Vals {
		dst := t.rows[baseR+int(b.Rows[i])]
		src := t.in.RawRowView(baseC + int(b.Cols[i]))
		floats.AddScaled(dst, v, src)
	}
}

func (t *spmmTask) complete() {
	if t.direct {
		return
	}
	for i, row := range t.rows {
		t.out.SetRow(t.rowBase+i, row)
	}
}
