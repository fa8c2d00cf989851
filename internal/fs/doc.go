// Package fs abstracts file system access for the graph and matrix
// stores. The engine reads page-aligned ranges through this layer so
// tests can substitute a fault-injecting implementation.
package fs
