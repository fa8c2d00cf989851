// Package resource provides a controller for the memory, read
// concurrency, and IO throughput budgets shared by every engine in the
// process.
package resource
