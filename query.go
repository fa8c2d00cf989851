package gravel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// VertexQuery is a parallel map-reduce over all vertices, independent
// of the level loop. The engine clones the query per worker, runs each
// clone over one partition, and merges the clones back into the
// original. Merge must be associative and commutative.
type VertexQuery interface {
	Run(eng *Engine, id VertexID)
	Merge(eng *Engine, other VertexQuery)
	Clone() VertexQuery
}

// QueryOnAll runs q over every vertex, partition-parallel. The merged
// result is left in q.
func (e *Engine) QueryOnAll(q VertexQuery) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	n := e.part.NumPartitions()
	clones := make([]VertexQuery, n)

	g, _ := errgroup.WithContext(context.Background())
	for p := 0; p < n; p++ {
		p := p
		g.Go(func() error {
			qc := q.Clone()
			size := e.store.partLen(p)
			for local := uint32(0); local < size; local++ {
				qc.Run(e, e.part.GlobalOf(p, local))
			}
			clones[p] = qc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, qc := range clones {
		q.Merge(e, qc)
	}
	return nil
}

// MaxDegreeQuery computes the maximum vertex degree (in+out for
// directed graphs).
type MaxDegreeQuery struct {
	Max uint32
}

func (q *MaxDegreeQuery) Run(eng *Engine, id VertexID) {
	if d := eng.VertexEdges(id); d > q.Max {
		q.Max = d
	}
}

func (q *MaxDegreeQuery) Merge(eng *Engine, other VertexQuery) {
	o := other.(*MaxDegreeQuery)
	if o.Max > q.Max {
		q.Max = o.Max
	}
}

func (q *MaxDegreeQuery) Clone() VertexQuery { return &MaxDegreeQuery{} }

// CountQuery counts the vertices accepted by Pred.
type CountQuery struct {
	Pred func(eng *Engine, id VertexID) bool
	Num  uint64
}

func (q *CountQuery) Run(eng *Engine, id VertexID) {
	if q.Pred(eng, id) {
		q.Num++
	}
}

func (q *CountQuery) Merge(eng *Engine, other VertexQuery) {
	q.Num += other.(*CountQuery).Num
}

func (q *CountQuery) Clone() VertexQuery { return &CountQuery{Pred: q.Pred} }
