package kcore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gravel"
	"github.com/hupe1980/gravel/graphfile"
)

func testInit(t *testing.T) {
	t.Helper()
	require.NoError(t, gravel.Init())
	t.Cleanup(gravel.Destroy)
}

// e1 is the directed anchor graph 0->1, 1->2, 2->0, 2->3, 3->4, 4->5,
// 5->3 with degrees (in+out) 2,2,3,3,2,2.
func e1() *graphfile.MemGraph {
	return &graphfile.MemGraph{
		Directed: true,
		Out:      [][]graphfile.VertexID{{1}, {2}, {0, 3}, {4}, {5}, {3}},
		In:       [][]graphfile.VertexID{{2}, {0}, {1}, {2, 5}, {3}, {4}},
	}
}

func newEngine(t *testing.T, g *graphfile.MemGraph) *gravel.Engine {
	t.Helper()
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "g.graph")
	indexPath := filepath.Join(dir, "g.index")
	require.NoError(t, graphfile.WriteGraph(nil, graphPath, indexPath, g))

	cfg := gravel.DefaultConfig()
	cfg.NumThreads = 2
	eng, err := gravel.NewEngine(graphPath, indexPath, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestKCoreAllSurviveAtK2(t *testing.T) {
	testInit(t)
	eng := newEngine(t, e1())

	results, err := Run(eng, 2, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(6), results[0].Alive)
	assert.Equal(t, uint64(0), results[0].Deleted)
}

func TestKCorePeelsEverythingAtK3(t *testing.T) {
	testInit(t)
	eng := newEngine(t, e1())

	results, err := Run(eng, 3, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Peeling degree<3 deletes {0,1,4,5} in round one, which drags 2 and
	// 3 below 3 in round two: nothing survives.
	assert.Equal(t, uint64(0), results[0].Alive)
	assert.Equal(t, uint64(6), results[0].Deleted)
}

func TestKCoreDefaultKmaxIsMaxDegree(t *testing.T) {
	testInit(t)
	eng := newEngine(t, e1())

	kmax, err := MaxDegree(eng)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), kmax)

	results, err := Run(eng, 2, kmax)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(2), results[0].K)
	assert.Equal(t, uint64(6), results[0].Alive)
	assert.Equal(t, uint32(3), results[1].K)
	assert.Equal(t, uint64(0), results[1].Alive)
}

func TestKCoreCountQueryAfterPeel(t *testing.T) {
	testInit(t)
	eng := newEngine(t, e1())

	s := NewState(eng)
	require.NoError(t, eng.Start(ActivateFilter(eng, 3), s.Factory(3)))
	require.NoError(t, eng.Wait4Complete())

	cq := &gravel.CountQuery{Pred: func(e *gravel.Engine, id gravel.VertexID) bool {
		return s.Deleted(id)
	}}
	require.NoError(t, eng.QueryOnAll(cq))
	assert.Equal(t, uint64(6), cq.Num)
}

func TestKCoreIsDeterministic(t *testing.T) {
	testInit(t)

	run := func() uint64 {
		eng := newEngine(t, e1())
		results, err := Run(eng, 3, 3)
		require.NoError(t, err)
		return results[0].Alive
	}
	assert.Equal(t, run(), run())
}

func TestKCoreRejectsKminBelowTwo(t *testing.T) {
	testInit(t)
	eng := newEngine(t, e1())

	_, err := Run(eng, 1, 3)
	assert.Error(t, err)
	_, err = Run(eng, 3, 2)
	assert.Error(t, err)
}

func TestKCoreIsolatedVertex(t *testing.T) {
	testInit(t)

	// 0 -- 1 plus the isolated vertex 2, undirected.
	g := &graphfile.MemGraph{
		Out: [][]graphfile.VertexID{{1}, {0}, {}},
	}
	eng := newEngine(t, g)

	results, err := Run(eng, 2, 2)
	require.NoError(t, err)
	// Degree-1 endpoints and the isolated vertex all peel off.
	assert.Equal(t, uint64(0), results[0].Alive)
}

func TestKCoreSelfLoopDoesNotCascadeToItself(t *testing.T) {
	testInit(t)

	// Undirected triangle with a self-loop on 2, stored once: degree 3.
	g := &graphfile.MemGraph{
		Out: [][]graphfile.VertexID{{1, 2}, {0, 2}, {0, 1, 2}},
	}
	eng := newEngine(t, g)

	// k=3: 0 and 1 have degree 2, peel in round one; 2 drops from 3 to
	// 1 and peels in round two. The self-loop message to the already
	// deleted vertex 2 must not re-trigger the cascade.
	results, err := Run(eng, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), results[0].Alive)
	assert.Equal(t, uint64(3), results[0].Deleted)
}

func TestKCoreEmptyGraph(t *testing.T) {
	testInit(t)
	eng := newEngine(t, &graphfile.MemGraph{})

	results, err := Run(eng, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), results[0].Alive)
}
