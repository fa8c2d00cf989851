// Package matrix executes sparse matrix-vector and matrix-matrix
// products over 2D-partitioned matrices stored in external memory. It
// reuses the engine's block I/O adapter and page cache, streaming block
// row strips to a worker pool in either sequential or Hilbert order.
package matrix
