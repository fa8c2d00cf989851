package pagerank

import (
	"math"
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

// referenceRanks iterates the same scheme in plain loops.
func referenceRanks(out [][]graphfile.VertexID, iters int, damping float64) []float64 {
	n := len(out)
	pr := make([]float64, n)
	for i := range pr {
		pr[i] = 1 - damping
	}
	for it := 0; it < iters; it++ {
		acc := make([]float64, n)
		for u, neighbors := range out {
			if len(neighbors) == 0 {
				continue
			}
			share := pr[u] / float64(len(neighbors))
			for _, v := range neighbors {
				acc[v] += share
			}
		}
		for v := range pr {
			pr[v] = (1 - damping) + damping*acc[v]
		}
	}
	return pr
}

func TestPageRankMatchesReference(t *testing.T) {
	testInit(t)

	out := [][]graphfile.VertexID{{1}, {2}, {0, 3}, {4}, {5}, {3}}
	g := &graphfile.MemGraph{
		Directed: true,
		Out:      out,
		In:       [][]graphfile.VertexID{{2}, {0}, {1}, {2, 5}, {3}, {4}},
	}
	eng := newEngine(t, g)

	const iters = 10
	ranks, err := Run(eng, iters, DefaultDamping)
	require.NoError(t, err)

	want := referenceRanks(out, iters, DefaultDamping)
	assert.InDeltaSlice(t, want, ranks, 1e-9)
}

func TestPageRankCycleIsUniform(t *testing.T) {
	testInit(t)

	// A 3-cycle: every vertex must end with the same rank.
	g := &graphfile.MemGraph{
		Directed: true,
		Out:      [][]graphfile.VertexID{{1}, {2}, {0}},
		In:       [][]graphfile.VertexID{{2}, {0}, {1}},
	}
	eng := newEngine(t, g)

	const iters = 20
	ranks, err := Run(eng, iters, DefaultDamping)
	require.NoError(t, err)

	// On a cycle the rank stays uniform: pr = (1-d) * sum d^i.
	want := 1 - math.Pow(DefaultDamping, iters+1)
	assert.InDelta(t, want, ranks[0], 1e-9)
	assert.InDelta(t, ranks[0], ranks[1], 1e-12)
	assert.InDelta(t, ranks[1], ranks[2], 1e-12)
}

func TestPageRankValidatesParameters(t *testing.T) {
	testInit(t)
	g := &graphfile.MemGraph{
		Directed: true,
		Out:      [][]graphfile.VertexID{{}},
		In:       [][]graphfile.VertexID{{}},
	}
	eng := newEngine(t, g)

	_, err := Run(eng, 0, DefaultDamping)
	assert.Error(t, err)
	_, err = Run(eng, 5, 1.5)
	assert.Error(t, err)
}
