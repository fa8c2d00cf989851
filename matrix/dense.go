package matrix

import "gonum.org/v1/gonum/mat"

// DenseStore is the output of an SpMM. The execution layer accumulates
// into a row-major scratch and copies back on completion when the store
// is column-major; row-major stores are written directly.
type DenseStore interface {
	Dims() (rows, cols int)
	RowMajor() bool

	// Row returns direct access to row i for row-major stores, nil
	// otherwise.
	Row(i int) []float64

	// SetRow copies vals into row i.
	SetRow(i int, vals []float64)
}

// RowDense adapts a gonum Dense matrix (row-major) as a DenseStore.
type RowDense struct {
	M *mat.Dense
}

func (d RowDense) Dims() (int, int)    { return d.M.Dims() }
func (d RowDense) RowMajor() bool      { return true }
func (d RowDense) Row(i int) []float64 { return d.M.RawRowView(i) }
func (d RowDense) SetRow(i int, vals []float64) {
	copy(d.M.RawRowView(i), vals)
}

// ColDense is a column-major dense store: element (r, c) lives at
// data[c*rows+r].
type ColDense struct {
	rows, cols int
	data       []float64
}

// NewColDense allocates a zeroed column-major store.
func NewColDense(rows, cols int) *ColDense {
	return &ColDense{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

func (d *ColDense) Dims() (int, int)    { return d.rows, d.cols }
func (d *ColDense) RowMajor() bool      { return false }
func (d *ColDense) Row(i int) []float64 { return nil }

func (d *ColDense) SetRow(i int, vals []float64) {
	for c, v := range vals {
		d.data[c*d.rows+i] = v
	}
}

// At returns element (r, c).
func (d *ColDense) At(r, c int) float64 { return d.data[c*d.rows+r] }

// Data returns the backing column-major slice.
func (d *ColDense) Data() []float64 { return d.data }
