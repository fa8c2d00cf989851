// Package gravel is an external-memory analytics engine for very large
// graphs. It runs vertex-centric algorithms on graphs that do not fit
// in RAM by streaming partitioned adjacency data from a flash-backed
// store through a shared page cache into a pool of workers.
//
// The execution model is bulk-synchronous: in every level the engine
// runs all active vertices once, routes the messages they emit, and
// activates the receivers for the next level. A run terminates when no
// vertex is active and no message is in flight.
//
// Algorithms implement the VertexComputation contract; one computation
// instance exists per worker and carries the worker's scratch state.
// See the algo subpackages for the shipped algorithm clients.
package gravel
