package fs

import (
	"errors"
	"os"
	"sync/atomic"
)

// ErrInjected is returned by faulty files once their read budget is spent.
var ErrInjected = errors.New("injected fault error")

// FaultyFS wraps a FileSystem and fails ReadAt calls after a configurable
// number of successful reads. Used to exercise the engine's fatal I/O path.
type FaultyFS struct {
	FS FileSystem

	// FailAfterReads is the number of ReadAt calls that succeed before
	// every subsequent read fails. Negative disables fault injection.
	FailAfterReads int64

	reads atomic.Int64
}

// NewFaultyFS creates a FaultyFS wrapping fs (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{FS: fsys, FailAfterReads: -1}
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *FaultyFS) Remove(name string) error             { return f.FS.Remove(name) }
func (f *FaultyFS) Rename(oldpath, newpath string) error { return f.FS.Rename(oldpath, newpath) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	return f.FS.Stat(name)
}
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}
func (f *FaultyFS) Truncate(name string, size int64) error { return f.FS.Truncate(name, size) }

type faultyFile struct {
	File
	fs *FaultyFS
}

func (f *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	if limit := f.fs.FailAfterReads; limit >= 0 {
		if f.fs.reads.Add(1) > limit {
			return 0, ErrInjected
		}
	}
	return f.File.ReadAt(p, off)
}
