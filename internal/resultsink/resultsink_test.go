package resultsink

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.bin")

	require.NoError(t, Save(path, 100, func(id uint32) interface{} {
		return float64(id) / 2
	}))

	var ids []uint32
	require.NoError(t, Load(path, func(rec Record) error {
		ids = append(ids, rec.ID)
		assert.InDelta(t, float64(rec.ID)/2, rec.Val, 1e-12)
		return nil
	}))

	require.Len(t, ids, 100)
	for i, id := range ids {
		assert.Equal(t, uint32(i), id)
	}
}

func TestLoadMissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "nope.bin"), func(Record) error { return nil })
	assert.Error(t, err)
}
