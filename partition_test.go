package gravel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionerBijection(t *testing.T) {
	for _, numParts := range []int{1, 2, 3, 7, 16} {
		p := NewPartitioner(numParts)
		for id := VertexID(0); id < 10_000; id++ {
			part := p.PartOf(id)
			local := p.LocalOf(id)
			require.Equal(t, id, p.GlobalOf(part, local),
				"numParts=%d id=%d", numParts, id)
			require.Less(t, part, numParts)
		}
	}
}

func TestPartitionerPartSizes(t *testing.T) {
	p := NewPartitioner(4)

	const n = 10
	var total uint32
	counts := make([]uint32, 4)
	for part := 0; part < 4; part++ {
		counts[part] = p.PartSize(part, n)
		total += counts[part]
	}
	assert.Equal(t, uint32(n), total)

	// The count per partition must match the ids that map there.
	got := make([]uint32, 4)
	for id := VertexID(0); id < n; id++ {
		got[p.PartOf(id)]++
	}
	assert.Equal(t, counts, got)
}

func TestPartitionerNodeSpread(t *testing.T) {
	p := NewPartitioner(8)
	seen := make(map[int]int)
	for part := 0; part < 8; part++ {
		seen[p.NodeOf(part, 2)]++
	}
	assert.Equal(t, map[int]int{0: 4, 1: 4}, seen)
}
