// Package blockio issues asynchronous, page-aligned reads against a
// graph or matrix file and serves them through the shared page cache.
//
// A Factory owns one open file. Each worker obtains a Context from the
// factory; Submit is safe to call from any goroutine, but completions
// are delivered on the context's channel so the submitting worker
// consumes them on its own goroutine. Reads may be satisfied partially
// from cache; contiguous misses are coalesced into single preads.
package blockio
