package gravel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"

	"github.com/hupe1980/gravel/blockio"
	"github.com/hupe1980/gravel/graphfile"
	"github.com/hupe1980/gravel/internal/fs"
)

// Engine coordinates a bulk-synchronous vertex-centric computation over
// one external-memory graph. Construct it with NewEngine, seed a run
// with one of the Start variants, and block on Wait4Complete.
type Engine struct {
	cfg  Config
	opts options

	runID   uuid.UUID
	logger  *Logger
	idx     *graphfile.Index
	factory *blockio.Factory
	part    Partitioner
	store   *vertexStore
	fabric  *fabric

	workers []*worker
	wg      sync.WaitGroup

	_         cpu.CacheLinePad
	remaining atomic.Int64
	_         cpu.CacheLinePad
	level     atomic.Int32
	complete  atomic.Bool

	errMu  sync.Mutex
	runErr error

	barrier1 *barrier
	barrier2 *barrier

	mu        sync.Mutex
	running   bool
	closed    bool
	done      chan struct{}
	levelTime time.Time
}

// NewEngine opens the graph and index files and builds the per-vertex
// state. Init must have been called.
func NewEngine(graphPath, indexPath string, cfg Config, opts ...Option) (*Engine, error) {
	pc, rc, err := sharedIO()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger:        NoopLogger(),
		maxProcessing: defaultMaxProcessingVertices,
		fsys:          fs.Default,
	}
	for _, fn := range opts {
		fn(&o)
	}

	idx, err := graphfile.LoadIndex(o.fsys, indexPath)
	if err != nil {
		return nil, err
	}

	factory, err := blockio.OpenFactory(o.fsys, graphPath, allocFileID(), pc, rc)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		opts:    o,
		runID:   uuid.New(),
		idx:     idx,
		factory: factory,
		part:    NewPartitioner(cfg.NumThreads),
	}
	e.logger = o.logger.WithRun(e.runID.String())

	e.store, err = newVertexStore(idx, e.part)
	if err != nil {
		factory.Close()
		return nil, err
	}
	e.fabric = newFabric(cfg.NumThreads, e.part)

	e.logger.Info("engine ready",
		"vertices", idx.NumVertices(),
		"directed", idx.IsDirected(),
		"workers", cfg.NumThreads,
		"nodes", cfg.NumNodes,
	)
	return e, nil
}

// Close releases the engine's file and cache pages. The engine must be
// idle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	if e.closed {
		return nil
	}
	e.closed = true
	return e.factory.Close()
}

// NumVertices returns the number of vertices in the graph.
func (e *Engine) NumVertices() uint64 { return e.idx.NumVertices() }

// MinVertexID returns the smallest vertex id.
func (e *Engine) MinVertexID() VertexID { return e.idx.MinVertexID() }

// MaxVertexID returns the largest vertex id.
func (e *Engine) MaxVertexID() VertexID { return e.idx.MaxVertexID() }

// IsDirected reports whether the graph is directed.
func (e *Engine) IsDirected() bool { return e.idx.IsDirected() }

// Index exposes the vertex index.
func (e *Engine) Index() *graphfile.Index { return e.idx }

// Partitioner returns the id partitioning used by this engine.
func (e *Engine) Partitioner() Partitioner { return e.part }

// CurrLevel returns the current iteration number.
func (e *Engine) CurrLevel() int { return int(e.level.Load()) }

// NumWorkers returns the worker count.
func (e *Engine) NumWorkers() int { return e.cfg.NumThreads }

// NumRemaining returns the activated vertices not yet processed in the
// current level.
func (e *Engine) NumRemaining() int64 { return e.remaining.Load() }

// IOStats returns the engine's I/O and cache counters.
func (e *Engine) IOStats() blockio.Stats { return e.factory.Stats() }

// Vertex resolves a global id to its base compute state.
func (e *Engine) Vertex(id VertexID) *Vertex { return e.store.get(id) }

// VertexLocal resolves (partition, local id); lower overhead than
// Vertex.
func (e *Engine) VertexLocal(part int, local uint32) *Vertex {
	return e.store.getLocal(part, local)
}

// Vertices resolves many ids at once into out, which must have
// len(ids) entries.
func (e *Engine) Vertices(ids []VertexID, out []*Vertex) {
	e.store.getBulk(ids, out)
}

// VertexEdges returns the total edge slots of a vertex, derived from
// its external-memory size: in+out for directed graphs.
func (e *Engine) VertexEdges(id VertexID) uint32 {
	return e.idx.NumEdgeSlots(id)
}

// PreloadGraph streams the entire graph file through the page cache.
func (e *Engine) PreloadGraph(ctx context.Context) error {
	return e.factory.Preload(ctx)
}

// InitVertices applies init to the given vertices, partition-parallel.
func (e *Engine) InitVertices(ids []VertexID, init VertexInitializer) {
	if init == nil {
		return
	}
	perPart := make([][]VertexID, e.part.NumPartitions())
	for _, id := range ids {
		p := e.part.PartOf(id)
		perPart[p] = append(perPart[p], id)
	}
	g, _ := errgroup.WithContext(context.Background())
	for p := 0; p < e.part.NumPartitions(); p++ {
		p := p
		g.Go(func() error {
			for _, id := range perPart[p] {
				init.Init(e, id)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// InitAllVertices applies init to every vertex, partition-parallel.
func (e *Engine) InitAllVertices(init VertexInitializer) {
	if init == nil {
		return
	}
	g, _ := errgroup.WithContext(context.Background())
	for p := 0; p < e.part.NumPartitions(); p++ {
		p := p
		g.Go(func() error {
			n := e.store.partLen(p)
			for local := uint32(0); local < n; local++ {
				init.Init(e, e.part.GlobalOf(p, local))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Computations returns the per-worker computation instances of the
// current or last run, indexed by worker id.
func (e *Engine) Computations() []VertexComputation {
	e.mu.Lock()
	defer e.mu.Unlock()
	comps := make([]VertexComputation, len(e.workers))
	for i, w := range e.workers {
		comps[i] = w.comp
	}
	return comps
}

// StartAll activates every vertex for level 0.
func (e *Engine) StartAll(init VertexInitializer, factory ComputationFactory) error {
	return e.startRun(factory, func(p int) []VertexID {
		n := e.store.partLen(p)
		ids := make([]VertexID, n)
		for local := uint32(0); local < n; local++ {
			ids[local] = e.part.GlobalOf(p, local)
		}
		return ids
	}, init)
}

// StartVertices activates an explicit id list for level 0.
func (e *Engine) StartVertices(ids []VertexID, init VertexInitializer, factory ComputationFactory) error {
	perPart := make([][]VertexID, e.part.NumPartitions())
	seen := make(map[VertexID]struct{}, len(ids))
	for _, id := range ids {
		if uint64(id) >= e.idx.NumVertices() {
			return fmt.Errorf("gravel: start vertex %d out of range [0, %d)", id, e.idx.NumVertices())
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p := e.part.PartOf(id)
		perPart[p] = append(perPart[p], id)
	}
	return e.startRun(factory, func(p int) []VertexID { return perPart[p] }, init)
}

// Start activates the vertices accepted by filter, evaluated in
// parallel over all vertices.
func (e *Engine) Start(filter VertexFilter, factory ComputationFactory) error {
	return e.startRun(factory, func(p int) []VertexID {
		var ids []VertexID
		n := e.store.partLen(p)
		for local := uint32(0); local < n; local++ {
			id := e.part.GlobalOf(p, local)
			if filter.Keep(e, id) {
				ids = append(ids, id)
			}
		}
		return ids
	}, nil)
}

// startRun seeds every worker's queue (seed runs partition-parallel),
// resets the level machinery, and launches the worker pool.
func (e *Engine) startRun(factory ComputationFactory, seed func(part int) []VertexID, init VertexInitializer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.running {
		return ErrAlreadyRunning
	}
	if factory == nil {
		return fmt.Errorf("%w: nil computation factory", ErrInvalidConfig)
	}

	n := e.cfg.NumThreads
	e.workers = make([]*worker, n)
	// A fresh fabric per run: an aborted run may have left staged
	// messages behind.
	e.fabric = newFabric(n, e.part)
	seeds := make([][]VertexID, n)

	g, _ := errgroup.WithContext(context.Background())
	for p := 0; p < n; p++ {
		p := p
		g.Go(func() error {
			seeds[p] = seed(p)
			return nil
		})
	}
	_ = g.Wait()

	var total int64
	for p := 0; p < n; p++ {
		w := newWorker(e, p, factory(p))
		w.seed(seeds[p])
		e.workers[p] = w
		total += int64(len(seeds[p]))
	}

	if init != nil {
		var all []VertexID
		for _, s := range seeds {
			all = append(all, s...)
		}
		e.InitVertices(all, init)
	}

	e.remaining.Store(total)
	e.level.Store(0)
	e.complete.Store(false)
	e.errMu.Lock()
	e.runErr = nil
	e.errMu.Unlock()
	e.levelTime = time.Now()

	e.barrier1 = newBarrier(n, nil)
	e.barrier2 = newBarrier(n, func() { e.progressNextLevel() })

	e.running = true
	e.done = make(chan struct{})

	e.logger.Info("run starting", "activated", total)

	e.wg.Add(n)
	for _, w := range e.workers {
		go w.run()
	}

	done := e.done
	go func() {
		e.wg.Wait()
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(done)
	}()
	return nil
}

// progressNextLevel executes collectively at barrier 2: it installs the
// next level's active count and decides whether the computation is
// complete. Returns true iff the upcoming level has no work or the run
// has failed.
func (e *Engine) progressNextLevel() bool {
	var total int64
	for _, w := range e.workers {
		total += w.nextCount.Load()
	}

	level := e.level.Add(1)
	e.logger.LogLevelEnd(int(level-1), total, time.Since(e.levelTime))
	e.levelTime = time.Now()

	e.remaining.Store(total)
	if total == 0 || e.failed() != nil {
		e.complete.Store(true)
		return true
	}
	return false
}

// Wait4Complete blocks until the run reaches quiescence and returns the
// run's error, if any.
func (e *Engine) Wait4Complete() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return fmt.Errorf("gravel: no run started")
	}
	<-done
	err := e.failed()
	e.logger.LogRunEnd(e.CurrLevel(), err)
	return err
}

// workerExit is the deferred tail of every worker goroutine.
func (e *Engine) workerExit() {
	e.wg.Done()
}

// fail publishes a worker-local error to the engine's shared error
// slot. The first error wins; all workers observe it at the next
// barrier and unwind cleanly.
func (e *Engine) fail(err error) {
	if err == nil {
		return
	}
	e.errMu.Lock()
	if e.runErr == nil {
		e.runErr = err
		e.logger.Error("run aborting", "error", err)
	}
	e.errMu.Unlock()
}

// failed returns the run's error slot.
func (e *Engine) failed() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.runErr
}

// requestRange computes the page-aligned read covering the requested
// projection of a vertex's adjacency blob. empty reports a projection
// with no bytes on disk.
func (e *Engine) requestRange(id VertexID, kind EdgeKind) (off, size int64, empty bool, err error) {
	info, err := e.idx.GetVertexInfo(id)
	if err != nil {
		return 0, 0, false, err
	}

	start := info.Off
	end := info.Off + int64(info.Size)
	if kind != EdgeBoth {
		if !e.idx.IsDirected() {
			return 0, 0, false, fmt.Errorf("gravel: partial %s request on undirected vertex %d", kind, id)
		}
		numIn := int64(e.idx.GetNumInEdges(id))
		numOut := int64(e.idx.GetNumOutEdges(id))
		inStart := info.Off + 8
		switch kind {
		case EdgeIn:
			start, end = inStart, inStart+4*numIn
		case EdgeOut:
			start, end = inStart+4*numIn, inStart+4*numIn+4*numOut
		}
		if start == end {
			return 0, 0, true, nil
		}
	}

	off = start / blockio.PageSize * blockio.PageSize
	size = (end - off + blockio.PageSize - 1) / blockio.PageSize * blockio.PageSize
	return off, size, false, nil
}
