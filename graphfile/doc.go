// Package graphfile defines the on-disk graph and vertex index formats
// and the read-only views the engine hands to vertex callbacks.
//
// A graph file starts with a one-page header followed by the per-vertex
// adjacency blobs stored back to back. The index file maps every vertex
// to the byte offset and length of its blob plus its in/out edge counts,
// and is loaded fully into memory.
package graphfile
