//go:build !linux

package fs

// Readahead is a no-op on platforms without posix_fadvise.
func Readahead(f File, off, length int64) {}
