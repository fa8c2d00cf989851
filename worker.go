package gravel

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/gravel/blockio"
	"github.com/hupe1980/gravel/graphfile"
)

// continuation tracks a dispatched vertex whose adjacency requests are
// outstanding. remaining counts submitted, unresolved requests.
type continuation struct {
	remaining int
}

// ioReq resolves one submitted read back to the vertex pair it serves.
type ioReq struct {
	requester VertexID
	requested VertexID
	kind      EdgeKind
}

// worker binds one partition to one NUMA node and drives its vertices
// through each level. Execution within a worker is single-threaded and
// cooperative: I/O waits are made progress-free by continuations.
type worker struct {
	id   int
	node int
	eng  *Engine
	comp VertexComputation
	pctx *ProgramContext
	ioc  *blockio.Context

	current []VertexID
	next    []VertexID
	nextSet *roaring.Bitmap

	pending     []Message // messages to deliver at the start of the level
	pendingNext []Message

	conts   map[VertexID]*continuation
	reqs    map[uint64]ioReq
	synth   []ioReq // zero-length requests resolved without I/O
	nextTag uint64

	// dispatching is the vertex whose callback is on the stack; requests
	// attach to it. Requests are only legal from Run and RunOnAdjacency.
	dispatching VertexID
	canRequest  bool

	ran []VertexID // vertices that ran this level

	nextCount atomic.Int64
}

func newWorker(eng *Engine, id int, comp VertexComputation) *worker {
	w := &worker{
		id:      id,
		node:    eng.part.NodeOf(id, eng.cfg.NumNodes),
		eng:     eng,
		comp:    comp,
		ioc:     eng.factory.NewContext(eng.opts.maxProcessing),
		nextSet: roaring.New(),
		conts:   make(map[VertexID]*continuation),
		reqs:    make(map[uint64]ioReq),
	}
	w.pctx = &ProgramContext{eng: eng, w: w}
	return w
}

// seed installs the initial active set. Called before the run's worker
// goroutine starts.
func (w *worker) seed(ids []VertexID) {
	w.current = ids
}

// run is the worker goroutine: one level per pass through the loop,
// two barriers per level transition.
func (w *worker) run() {
	defer w.eng.workerExit()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		w.processLevel()
		w.eng.fabric.flush(w.id)
		w.eng.barrier1.await()
		w.installNext()
		w.eng.barrier2.await()
		if w.eng.complete.Load() {
			return
		}
		w.swap()
	}
}

// processLevel delivers the level's messages, then dispatches every
// vertex in the current queue, interleaving I/O completions, with at
// most maxProcessing continuations in flight.
func (w *worker) processLevel() {
	if w.eng.failed() == nil {
		w.deliverMessages()

		if s := w.eng.opts.scheduler; s != nil {
			s.Schedule(w.current)
		}

		i := 0
		for (i < len(w.current) || len(w.reqs) > 0 || len(w.synth) > 0) && w.eng.failed() == nil {
			// Resolve what is already available before dispatching more.
			for len(w.synth) > 0 {
				s := w.synth[0]
				w.synth = w.synth[1:]
				w.resolveEmpty(s)
			}
			handled := false
			for len(w.reqs) > 0 {
				select {
				case c := <-w.ioc.Completions():
					w.handleCompletion(c)
					handled = true
					continue
				default:
				}
				break
			}
			if handled || len(w.synth) > 0 {
				continue
			}

			switch {
			case i < len(w.current) && len(w.conts) < w.eng.opts.maxProcessing:
				w.dispatch(w.current[i])
				i++
			case len(w.reqs) > 0:
				w.handleCompletion(<-w.ioc.Completions())
			}
		}
	}

	w.drainInflight()

	for _, vid := range w.ran {
		w.comp.NotifyIterationEnd(w.pctx, vid)
	}
	w.ran = w.ran[:0]
}

// deliverMessages invokes RunOnMessage for every message staged for
// this level. All deliveries precede any Run in the level.
func (w *worker) deliverMessages() {
	for _, m := range w.pending {
		if m.kind != msgData {
			continue
		}
		w.comp.RunOnMessage(w.pctx, m.Dst, m)
	}
	w.pending = nil
}

// dispatch runs the first phase of one vertex. A vertex that requested
// no I/O is complete immediately.
func (w *worker) dispatch(vid VertexID) {
	w.dispatching = vid
	w.canRequest = true
	w.comp.Run(w.pctx, vid)
	w.canRequest = false
	w.ran = append(w.ran, vid)
	if _, waiting := w.conts[vid]; !waiting {
		w.finishVertex()
	}
}

// request registers a continuation for the vertex whose callback is on
// the stack and submits one read per requested id. Requests with no
// bytes on disk resolve as synthetic completions, keeping completion
// accounting in one place.
func (w *worker) request(kind EdgeKind, ids []VertexID) error {
	if !w.canRequest {
		return fmt.Errorf("gravel: adjacency request outside Run or RunOnAdjacency")
	}
	requester := w.dispatching
	for _, id := range ids {
		off, size, empty, err := w.eng.requestRange(id, kind)
		if err != nil {
			w.eng.fail(err)
			return err
		}

		cont := w.conts[requester]
		if cont == nil {
			cont = &continuation{}
			w.conts[requester] = cont
		}
		cont.remaining++

		if empty {
			w.synth = append(w.synth, ioReq{requester: requester, requested: id, kind: kind})
			continue
		}

		tag := w.nextTag
		w.nextTag++
		w.reqs[tag] = ioReq{requester: requester, requested: id, kind: kind}
		if err := w.ioc.Submit(context.Background(), blockio.Request{Off: off, Size: size, Tag: tag}); err != nil {
			delete(w.reqs, tag)
			cont.remaining--
			w.eng.fail(err)
			return err
		}
	}
	return nil
}

// handleCompletion resolves one finished read into its RunOnAdjacency
// invocation. An I/O error aborts the level; partial progress is not
// retried because messages may already have been emitted.
func (w *worker) handleCompletion(c blockio.Completion) {
	w.ioc.Done()
	r, ok := w.reqs[c.Req.Tag]
	if !ok {
		if c.Run != nil {
			c.Run.Release()
		}
		return
	}
	delete(w.reqs, c.Req.Tag)
	cont := w.conts[r.requester]

	if c.Err != nil {
		w.eng.fail(c.Err)
		w.abandon(r.requester, cont)
		return
	}

	view, err := graphfile.NewAdjacencyView(r.requested, w.eng.idx, r.kind, c.Run.Pages(), c.Run.Base(), c.Run.Release)
	if err != nil {
		c.Run.Release()
		w.eng.fail(err)
		w.abandon(r.requester, cont)
		return
	}
	w.resolve(r, view)
}

// resolveEmpty serves a projection with no edges on disk.
func (w *worker) resolveEmpty(r ioReq) {
	view, err := graphfile.NewAdjacencyView(r.requested, w.eng.idx, r.kind, nil, 0, nil)
	if err != nil {
		w.eng.fail(err)
		w.abandon(r.requester, w.conts[r.requester])
		return
	}
	w.resolve(r, view)
}

// resolve invokes the second-phase callback and completes the vertex
// when its last outstanding request is done. The callback may submit
// further requests for the same vertex; they extend the continuation.
func (w *worker) resolve(r ioReq, view *graphfile.AdjacencyView) {
	w.dispatching = r.requester
	w.canRequest = true
	w.comp.RunOnAdjacency(w.pctx, r.requester, view)
	w.canRequest = false
	view.Release()

	cont := w.conts[r.requester]
	cont.remaining--
	if cont.remaining == 0 {
		delete(w.conts, r.requester)
		w.finishVertex()
	}
}

func (w *worker) abandon(requester VertexID, cont *continuation) {
	if cont == nil {
		return
	}
	cont.remaining--
	if cont.remaining == 0 {
		delete(w.conts, requester)
	}
}

// finishVertex counts one vertex as processed for the level.
func (w *worker) finishVertex() {
	w.eng.remaining.Add(-1)
}

// drainInflight consumes outstanding completions after a failure so no
// reader goroutine is left blocked and no page stays pinned.
func (w *worker) drainInflight() {
	for len(w.reqs) > 0 {
		c := <-w.ioc.Completions()
		w.ioc.Done()
		if c.Run != nil {
			c.Run.Release()
		}
		delete(w.reqs, c.Req.Tag)
	}
	w.synth = nil
	clear(w.conts)
}

// installNext turns the staged inbound messages into next-level
// activations. Runs between the two barriers: every sender has flushed,
// no sender is mid-level. Duplicate activations coalesce so a vertex
// runs at most once per level.
func (w *worker) installNext() {
	staged := w.eng.fabric.takeStaged(w.id)
	for _, m := range staged {
		if w.nextSet.CheckedAdd(uint32(m.Dst)) {
			w.next = append(w.next, m.Dst)
		}
		if m.kind == msgData {
			w.pendingNext = append(w.pendingNext, m)
		}
	}
	w.nextCount.Store(int64(len(w.next)))
}

// swap makes the staged queue current. Runs after barrier 2, before the
// next level's first dispatch.
func (w *worker) swap() {
	w.current, w.next = w.next, w.current[:0]
	w.nextSet.Clear()
	w.pending, w.pendingNext = w.pendingNext, nil
	w.nextCount.Store(0)
}
