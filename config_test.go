package gravel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigKeyValue(t *testing.T) {
	path := writeConfig(t, "graph.conf", `
# engine settings
num_threads = 4
num_nodes=2
prof_file = /tmp/prof.out
print_io_stat = true
row_block_size = 512
rb_io_size = 4
use_hilbert_order = true
unknown_key = ignored
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumThreads)
	assert.Equal(t, 2, cfg.NumNodes)
	assert.Equal(t, "/tmp/prof.out", cfg.ProfFile)
	assert.True(t, cfg.PrintIOStat)
	assert.Equal(t, 512, cfg.RowBlockSize)
	assert.Equal(t, 4, cfg.RBIOSize)
	assert.True(t, cfg.UseHilbertOrder)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "graph.yaml", `
num_threads: 3
print_io_stat: true
rb_io_size: 2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.NumThreads)
	assert.True(t, cfg.PrintIOStat)
	assert.Equal(t, 2, cfg.RBIOSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1024, cfg.RowBlockSize)
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyOverrides("num_threads=8,use_hilbert_order=true"))
	assert.Equal(t, 8, cfg.NumThreads)
	assert.True(t, cfg.UseHilbertOrder)

	require.NoError(t, cfg.ApplyOverrides("num_nodes=2 rb_io_size=16"))
	assert.Equal(t, 2, cfg.NumNodes)
	assert.Equal(t, 16, cfg.RBIOSize)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threads", func(c *Config) { c.NumThreads = 0 }},
		{"zero nodes", func(c *Config) { c.NumNodes = 0 }},
		{"more nodes than threads", func(c *Config) { c.NumThreads = 2; c.NumNodes = 4 }},
		{"zero row block", func(c *Config) { c.RowBlockSize = 0 }},
		{"zero rb io", func(c *Config) { c.RBIOSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfigBadLine(t *testing.T) {
	path := writeConfig(t, "bad.conf", "num_threads 4\n")
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestQueryOnAllMergesClones(t *testing.T) {
	testInit(t)
	eng := newTestEngine(t, e1())

	q := &MaxDegreeQuery{}
	require.NoError(t, eng.QueryOnAll(q))
	assert.Equal(t, uint32(3), q.Max)

	count := &CountQuery{Pred: func(e *Engine, id VertexID) bool {
		return e.VertexEdges(id) == 2
	}}
	require.NoError(t, eng.QueryOnAll(count))
	assert.Equal(t, uint64(4), count.Num)
}
