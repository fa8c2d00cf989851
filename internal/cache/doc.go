// Package cache implements the shared page cache backing all external
// memory reads. Pages are fixed-size, reference counted, and evicted in
// LRU order. A page with a nonzero reference count is never evicted:
// adjacency views and matrix strips pin the pages they read from.
package cache
