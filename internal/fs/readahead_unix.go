//go:build linux

package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

// Readahead hints the kernel that the byte range of f will be read soon.
// Best effort: errors are ignored, and non-os files are a no-op.
func Readahead(f File, off, length int64) {
	osf, ok := f.(*os.File)
	if !ok {
		return
	}
	_ = unix.Fadvise(int(osf.Fd()), off, length, unix.FADV_WILLNEED)
}
