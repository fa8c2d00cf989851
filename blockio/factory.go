package blockio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/hupe1980/gravel/internal/cache"
	"github.com/hupe1980/gravel/internal/fs"
	"github.com/hupe1980/gravel/resource"
)

// PageSize is the unit of all reads issued by the factory.
const PageSize = cache.PageSize

// ErrMisaligned reports a request whose offset or size is not a
// page multiple.
var ErrMisaligned = errors.New("blockio: request not page-aligned")

// Factory issues reads against one file through the shared page cache.
type Factory struct {
	file   fs.File
	fileID uint32
	size   int64
	cache  *cache.PageCache
	rc     *resource.Controller
	closed atomic.Bool

	reads     atomic.Int64
	bytesRead atomic.Int64
}

// OpenFactory opens path for page-aligned reads. fileID namespaces this
// file's pages in the shared cache and must be unique per open file.
func OpenFactory(fsys fs.FileSystem, path string, fileID uint32, pc *cache.PageCache, rc *resource.Controller) (*Factory, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("blockio: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockio: stat %s: %w", path, err)
	}
	return &Factory{
		file:   f,
		fileID: fileID,
		size:   st.Size(),
		cache:  pc,
		rc:     rc,
	}, nil
}

// FileID returns the cache namespace of the factory's file.
func (f *Factory) FileID() uint32 { return f.fileID }

// FileSize returns the size of the underlying file in bytes.
func (f *Factory) FileSize() int64 { return f.size }

// Close releases the file and drops its unpinned pages from the cache, so
// a later factory reusing the file id cannot observe stale data. Pages
// still pinned at that moment stay cached.
func (f *Factory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.cache.Invalidate(func(key cache.Key) bool {
		return key.FileID == f.fileID
	})
	return f.file.Close()
}

// PageRun is a pinned run of consecutive cached pages covering one read
// request. Release must be called exactly once.
type PageRun struct {
	pages []*cache.Page
	base  int64
	pc    *cache.PageCache
}

// Pages returns the pinned pages, in file order.
func (r *PageRun) Pages() []*cache.Page { return r.pages }

// Base returns the file offset of the first page.
func (r *PageRun) Base() int64 { return r.base }

// Release unpins every page in the run.
func (r *PageRun) Release() {
	for _, p := range r.pages {
		r.pc.Release(p)
	}
	r.pages = nil
}

// ReadRun reads [off, off+size) through the page cache and returns the
// pinned pages. off and size must be page multiples; the final page of
// the file may be short.
func (f *Factory) ReadRun(ctx context.Context, off, size int64) (*PageRun, error) {
	if off%PageSize != 0 || size%PageSize != 0 || size <= 0 {
		return nil, fmt.Errorf("%w: off=%d size=%d", ErrMisaligned, off, size)
	}
	if off >= f.size {
		return nil, fmt.Errorf("blockio: read at %d past end of file (%d bytes)", off, f.size)
	}
	if end := off + size; end > f.size {
		// Clamp to the last (possibly short) page.
		size = (f.size - off + PageSize - 1) / PageSize * PageSize
	}

	n := int(size / PageSize)
	run := &PageRun{pages: make([]*cache.Page, n), base: off, pc: f.cache}

	// Cache probe first; remember miss runs as [first, last] page index.
	type span struct{ lo, hi int }
	var misses []span
	for i := 0; i < n; i++ {
		key := cache.Key{FileID: f.fileID, Off: off + int64(i)*PageSize}
		if p, ok := f.cache.GetPinned(key); ok {
			run.pages[i] = p
			continue
		}
		if len(misses) > 0 && misses[len(misses)-1].hi == i-1 {
			misses[len(misses)-1].hi = i
		} else {
			misses = append(misses, span{i, i})
		}
	}

	for _, m := range misses {
		if err := f.fill(ctx, run, off, m.lo, m.hi); err != nil {
			// Unpin what we already hold before surfacing the error.
			for _, p := range run.pages {
				if p != nil {
					f.cache.Release(p)
				}
			}
			return nil, err
		}
	}
	return run, nil
}

// fill reads the coalesced miss span [lo, hi] with a single pread and
// installs the pages pinned.
func (f *Factory) fill(ctx context.Context, run *PageRun, off int64, lo, hi int) (err error) {
	start := off + int64(lo)*PageSize
	length := int64(hi-lo+1) * PageSize
	if end := start + length; end > f.size {
		length = f.size - start
	}

	if err := f.rc.AcquireRead(ctx); err != nil {
		return fmt.Errorf("blockio: acquire read slot: %w", err)
	}
	defer f.rc.ReleaseRead()
	if err := f.rc.AcquireIO(ctx, int(length)); err != nil {
		return fmt.Errorf("blockio: io limit: %w", err)
	}

	buf := make([]byte, length)
	nr, err := f.file.ReadAt(buf, start)
	if err != nil && !(errors.Is(err, io.EOF) && int64(nr) == length) {
		return fmt.Errorf("blockio: read %d bytes at %d: %w", length, start, err)
	}
	f.reads.Add(1)
	f.bytesRead.Add(length)

	for i := lo; i <= hi; i++ {
		po := int64(i-lo) * PageSize
		pe := po + PageSize
		if pe > length {
			pe = length
		}
		key := cache.Key{FileID: f.fileID, Off: off + int64(i)*PageSize}
		run.pages[i] = f.cache.AddPinned(key, buf[po:pe:pe])
	}
	return nil
}

// Preload streams the whole file through the cache sequentially,
// warming it before a run.
func (f *Factory) Preload(ctx context.Context) error {
	const chunk = 256 * PageSize
	fs.Readahead(f.file, 0, f.size)
	for off := int64(0); off < f.size; off += chunk {
		run, err := f.ReadRun(ctx, off, chunk)
		if err != nil {
			return err
		}
		run.Release()
	}
	return nil
}

// Stats is a snapshot of a factory's I/O counters plus the shared
// cache's hit/miss counters.
type Stats struct {
	Reads       int64
	BytesRead   int64
	CacheHits   int64
	CacheMisses int64
}

// Stats returns the current counters.
func (f *Factory) Stats() Stats {
	hits, misses := f.cache.Stats()
	return Stats{
		Reads:       f.reads.Load(),
		BytesRead:   f.bytesRead.Load(),
		CacheHits:   hits,
		CacheMisses: misses,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("reads=%d bytes=%d cache_hits=%d cache_misses=%d",
		s.Reads, s.BytesRead, s.CacheHits, s.CacheMisses)
}
