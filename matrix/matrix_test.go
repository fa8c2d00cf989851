package matrix

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/gravel"
)

func testInit(t *testing.T) {
	t.Helper()
	require.NoError(t, Init())
	t.Cleanup(Destroy)
}

func testConfig() gravel.Config {
	cfg := gravel.DefaultConfig()
	cfg.NumThreads = 2
	cfg.NumNodes = 1
	cfg.RBIOSize = 2
	return cfg
}

// testCOO builds an 8x8 matrix with a deterministic sparsity pattern.
func testCOO() *COO {
	coo := &COO{Rows: 8, Cols: 8}
	for r := uint32(0); r < 8; r++ {
		for c := uint32(0); c < 8; c++ {
			if (r+2*c)%3 == 0 {
				coo.Entries = append(coo.Entries, Entry{R: r, C: c, V: float64(r) + float64(c)/10 + 1})
			}
		}
	}
	return coo
}

func writeTestMatrix(t *testing.T, coo *COO, blockH, blockW uint32) (matPath, idxPath string) {
	t.Helper()
	dir := t.TempDir()
	matPath = filepath.Join(dir, "m.mat")
	idxPath = filepath.Join(dir, "m.matx")
	require.NoError(t, WriteMatrix(nil, matPath, idxPath, coo, blockH, blockW))
	return matPath, idxPath
}

func denseOf(coo *COO) *mat.Dense {
	d := mat.NewDense(int(coo.Rows), int(coo.Cols), nil)
	for _, e := range coo.Entries {
		d.Set(int(e.R), int(e.C), e.V)
	}
	return d
}

func TestWriteLoadRoundTrip(t *testing.T) {
	testInit(t)
	coo := testCOO()
	matPath, idxPath := writeTestMatrix(t, coo, 2, 2)

	m, err := Load(matPath, idxPath, testConfig())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, uint64(8), m.Rows())
	assert.Equal(t, uint64(8), m.Cols())
	assert.Equal(t, 4, m.Header().BlockRows())
	assert.Equal(t, 4, m.Header().BlockCols())
	assert.Equal(t, uint64(len(coo.Entries)), m.Header().NNZ)
}

func spmvReference(coo *COO, in []float64) []float64 {
	out := make([]float64, coo.Rows)
	for _, e := range coo.Entries {
		out[e.R] += e.V * in[e.C]
	}
	return out
}

func TestSpMVMatchesReference(t *testing.T) {
	testInit(t)
	coo := testCOO()
	matPath, idxPath := writeTestMatrix(t, coo, 2, 2)

	for _, hilbert := range []bool{false, true} {
		cfg := testConfig()
		cfg.UseHilbertOrder = hilbert
		cfg.RBIOSize = 4 // one 4x4 task window over the whole grid

		m, err := Load(matPath, idxPath, cfg)
		require.NoError(t, err)

		in := make([]float64, 8)
		for i := range in {
			in[i] = float64(i + 1)
		}
		out := make([]float64, 8)
		require.NoError(t, m.MultiplyVector(context.Background(), in, out))
		assert.InDeltaSlice(t, spmvReference(coo, in), out, 1e-12, "hilbert=%v", hilbert)
		m.Close()
	}
}

func TestSpMVDimensionMismatch(t *testing.T) {
	testInit(t)
	matPath, idxPath := writeTestMatrix(t, testCOO(), 2, 2)

	m, err := Load(matPath, idxPath, testConfig())
	require.NoError(t, err)
	defer m.Close()

	err = m.MultiplyVector(context.Background(), make([]float64, 3), make([]float64, 8))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSpMMRowMajorAndColMajor(t *testing.T) {
	testInit(t)
	coo := testCOO()
	matPath, idxPath := writeTestMatrix(t, coo, 2, 2)

	m, err := Load(matPath, idxPath, testConfig())
	require.NoError(t, err)
	defer m.Close()

	const k = 3
	in := mat.NewDense(8, k, nil)
	for r := 0; r < 8; r++ {
		for c := 0; c < k; c++ {
			in.Set(r, c, float64(r*k+c+1))
		}
	}

	var want mat.Dense
	want.Mul(denseOf(coo), in)

	outRow := RowDense{M: mat.NewDense(8, k, nil)}
	require.NoError(t, m.Multiply(context.Background(), in, outRow))
	assert.True(t, mat.EqualApprox(&want, outRow.M, 1e-12))

	// The column-major store goes through the row-major scratch and the
	// copy-back on completion.
	outCol := NewColDense(8, k)
	require.NoError(t, m.Multiply(context.Background(), in, outCol))
	for r := 0; r < 8; r++ {
		for c := 0; c < k; c++ {
			assert.InDelta(t, want.At(r, c), outCol.At(r, c), 1e-12, "(%d,%d)", r, c)
		}
	}
}

func TestTransposeSpMV(t *testing.T) {
	testInit(t)
	coo := testCOO()
	tcoo := coo.Transposed()

	matPath, idxPath := writeTestMatrix(t, coo, 2, 2)
	tMatPath, tIdxPath := writeTestMatrix(t, tcoo, 2, 2)

	m, err := LoadAsym(matPath, idxPath, tMatPath, tIdxPath, testConfig())
	require.NoError(t, err)
	defer m.Close()

	in := make([]float64, 8)
	for i := range in {
		in[i] = float64(i%4) + 1
	}
	out := make([]float64, 8)
	require.NoError(t, m.Transpose().MultiplyVector(context.Background(), in, out))
	assert.InDeltaSlice(t, spmvReference(tcoo, in), out, 1e-12)

	// Transposing twice is the original matrix.
	assert.Same(t, m, m.Transpose().Transpose())
}

func TestHilbertKnownSequence(t *testing.T) {
	o, err := NewHilbertOrder(4, 4)
	require.NoError(t, err)

	// The 4x4 Hilbert walk, as (row, col) pairs.
	want := [][2]int{
		{0, 0}, {1, 0}, {1, 1}, {0, 1},
		{0, 2}, {0, 3}, {1, 3}, {1, 2},
		{2, 2}, {2, 3}, {3, 3}, {3, 2},
		{3, 1}, {2, 1}, {2, 0}, {3, 0},
	}
	got := make([][2]int, 0, 16)
	for _, idx := range o.Permutation() {
		got = append(got, [2]int{idx / 4, idx % 4})
	}
	assert.Equal(t, want, got)
}

func TestHilbertVisitsEveryBlockOnce(t *testing.T) {
	for _, n := range []int{2, 4, 8, 16} {
		o, err := NewHilbertOrder(n, n)
		require.NoError(t, err)

		seen := make(map[int]bool)
		prev := [2]int{-1, 0}
		for _, idx := range o.Permutation() {
			require.False(t, seen[idx], "n=%d block %d visited twice", n, idx)
			seen[idx] = true

			cell := [2]int{idx / n, idx % n}
			if prev[0] >= 0 {
				dist := abs(cell[0]-prev[0]) + abs(cell[1]-prev[1])
				require.Equal(t, 1, dist, "n=%d jump from %v to %v", n, prev, cell)
			}
			prev = cell
		}
		require.Len(t, seen, n*n)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func TestHilbertRejectsBadGrids(t *testing.T) {
	_, err := NewHilbertOrder(3, 3)
	assert.ErrorIs(t, err, ErrHilbertGrid)
	_, err = NewHilbertOrder(4, 8)
	assert.ErrorIs(t, err, ErrHilbertGrid)
}

func TestLoadRejectsHilbertOnBadGrid(t *testing.T) {
	testInit(t)
	// 6x6 matrix with 2x2 blocks: a 3x3 grid.
	coo := &COO{Rows: 6, Cols: 6}
	coo.Entries = append(coo.Entries, Entry{R: 0, C: 0, V: 1})
	matPath, idxPath := writeTestMatrix(t, coo, 2, 2)

	cfg := testConfig()
	cfg.UseHilbertOrder = true
	_, err := Load(matPath, idxPath, cfg)
	assert.ErrorIs(t, err, ErrHilbertGrid)
}

func TestHilbertOrderDrivesBlockVisits(t *testing.T) {
	o, err := NewHilbertOrder(2, 2)
	require.NoError(t, err)

	blocks := []*Block{
		{BlockRow: 0, BlockCol: 0},
		{BlockRow: 0, BlockCol: 1},
		{BlockRow: 1, BlockCol: 0},
		{BlockRow: 1, BlockCol: 1},
	}
	var visited [][2]int
	o.Exec(visitFunc(func(b *Block) {
		visited = append(visited, [2]int{b.BlockRow, b.BlockCol})
	}), blocks)

	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {1, 1}, {1, 0}}, visited)
}

type visitFunc func(b *Block)

func (f visitFunc) runOnBlock(b *Block) { f(b) }
