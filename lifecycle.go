package gravel

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/gravel/blockio"
	"github.com/hupe1980/gravel/internal/cache"
	"github.com/hupe1980/gravel/internal/fs"
	"github.com/hupe1980/gravel/resource"
)

// InitOption configures the process-wide I/O system.
type InitOption func(*initOptions)

type initOptions struct {
	cacheSize          int64
	memoryLimit        int64
	ioLimitBytesPerSec int64
	maxConcurrentReads int64
}

// WithCacheSize sets the shared page cache capacity in bytes.
// The default is 256 MiB.
func WithCacheSize(bytes int64) InitOption {
	return func(o *initOptions) { o.cacheSize = bytes }
}

// WithMemoryLimit sets a hard limit on managed memory. 0 means tracked
// but unbounded.
func WithMemoryLimit(bytes int64) InitOption {
	return func(o *initOptions) { o.memoryLimit = bytes }
}

// WithIOLimit caps read throughput in bytes per second. 0 is unlimited.
func WithIOLimit(bytesPerSec int64) InitOption {
	return func(o *initOptions) { o.ioLimitBytesPerSec = bytesPerSec }
}

// WithMaxConcurrentReads bounds reads in flight against the device.
func WithMaxConcurrentReads(n int64) InitOption {
	return func(o *initOptions) { o.maxConcurrentReads = n }
}

var (
	initMu     sync.Mutex
	initCount  int
	ioCache    *cache.PageCache
	ioRC       *resource.Controller
	nextFileID atomic.Uint32
)

// Init sets up the process-wide I/O system: the shared page cache and
// the resource controller. Initialization is reference counted so
// nested library uses compose; every Init must be paired with a
// Destroy.
func Init(opts ...InitOption) error {
	o := initOptions{
		cacheSize:          256 << 20,
		maxConcurrentReads: int64(2 * runtime.NumCPU()),
	}
	for _, fn := range opts {
		fn(&o)
	}

	initMu.Lock()
	defer initMu.Unlock()

	initCount++
	if initCount > 1 {
		return nil
	}

	ioRC = resource.NewController(resource.Config{
		MemoryLimitBytes:   o.memoryLimit,
		MaxConcurrentReads: o.maxConcurrentReads,
		IOLimitBytesPerSec: o.ioLimitBytesPerSec,
	})
	ioCache = cache.NewPageCache(o.cacheSize, ioRC)
	return nil
}

// Destroy tears down the I/O system once the last Init is released.
func Destroy() {
	initMu.Lock()
	defer initMu.Unlock()

	if initCount == 0 {
		return
	}
	initCount--
	if initCount == 0 {
		ioCache = nil
		ioRC = nil
	}
}

// sharedIO returns the process-wide cache and controller.
func sharedIO() (*cache.PageCache, *resource.Controller, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		return nil, nil, ErrNotInitialized
	}
	return ioCache, ioRC, nil
}

// allocFileID hands out a process-unique cache namespace for one open
// file.
func allocFileID() uint32 {
	return nextFileID.Add(1)
}

// OpenIO opens path for page-aligned cached reads backed by the
// process-wide page cache. The matrix layer and tools reuse the same
// I/O system as the graph engine through this hook.
func OpenIO(fsys fs.FileSystem, path string) (*blockio.Factory, error) {
	pc, rc, err := sharedIO()
	if err != nil {
		return nil, err
	}
	return blockio.OpenFactory(fsys, path, allocFileID(), pc, rc)
}
