package blockio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/gravel/internal/cache"
	"github.com/hupe1980/gravel/internal/fs"
	"github.com/hupe1980/gravel/resource"
)

func writeTestFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i / PageSize)
	}
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestFactory(t *testing.T, path string, fsys fs.FileSystem) *Factory {
	t.Helper()
	rc := resource.NewController(resource.Config{MaxConcurrentReads: 4})
	pc := cache.NewPageCache(64*PageSize, rc)
	f, err := OpenFactory(fsys, path, 1, pc, rc)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFactory_RejectsMisalignedReads(t *testing.T) {
	f := newTestFactory(t, writeTestFile(t, 4*PageSize), nil)

	_, err := f.ReadRun(context.Background(), 3, PageSize)
	assert.ErrorIs(t, err, ErrMisaligned)
	_, err = f.ReadRun(context.Background(), 0, PageSize+1)
	assert.ErrorIs(t, err, ErrMisaligned)
	_, err = f.ReadRun(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestFactory_CoalescesMissRuns(t *testing.T) {
	f := newTestFactory(t, writeTestFile(t, 8*PageSize), nil)

	run, err := f.ReadRun(context.Background(), 0, 4*PageSize)
	require.NoError(t, err)
	require.Len(t, run.Pages(), 4)
	for i, p := range run.Pages() {
		assert.Equal(t, byte(i), p.Data()[0])
	}
	run.Release()

	// Four cold pages, one pread.
	st := f.Stats()
	assert.Equal(t, int64(1), st.Reads)
	assert.Equal(t, int64(4*PageSize), st.BytesRead)
	assert.Equal(t, int64(4), st.CacheMisses)
}

func TestFactory_PartialCacheSatisfaction(t *testing.T) {
	f := newTestFactory(t, writeTestFile(t, 8*PageSize), nil)

	run, err := f.ReadRun(context.Background(), 2*PageSize, 2*PageSize)
	require.NoError(t, err)
	run.Release()

	// Pages 2-3 are warm; only 0-1 and 4-5 hit the device, one pread
	// per contiguous miss span.
	run, err = f.ReadRun(context.Background(), 0, 6*PageSize)
	require.NoError(t, err)
	require.Len(t, run.Pages(), 6)
	for i, p := range run.Pages() {
		assert.Equal(t, byte(i), p.Data()[0])
	}
	run.Release()

	st := f.Stats()
	assert.Equal(t, int64(3), st.Reads)
	assert.Equal(t, int64(2), st.CacheHits)
}

func TestFactory_ShortFinalPage(t *testing.T) {
	f := newTestFactory(t, writeTestFile(t, 2*PageSize+100), nil)

	run, err := f.ReadRun(context.Background(), 2*PageSize, PageSize)
	require.NoError(t, err)
	require.Len(t, run.Pages(), 1)
	assert.Len(t, run.Pages()[0].Data(), 100)
	run.Release()

	_, err = f.ReadRun(context.Background(), 4*PageSize, PageSize)
	assert.Error(t, err, "read past EOF must fail")
}

func TestFactory_ClampsOversizedRead(t *testing.T) {
	f := newTestFactory(t, writeTestFile(t, 2*PageSize), nil)

	run, err := f.ReadRun(context.Background(), PageSize, 4*PageSize)
	require.NoError(t, err)
	assert.Len(t, run.Pages(), 1)
	run.Release()
}

func TestContext_DeliversCompletions(t *testing.T) {
	f := newTestFactory(t, writeTestFile(t, 8*PageSize), nil)
	ioc := f.NewContext(4)

	require.NoError(t, ioc.Submit(context.Background(), Request{Off: 0, Size: PageSize, Tag: 11}))
	require.NoError(t, ioc.Submit(context.Background(), Request{Off: 4 * PageSize, Size: PageSize, Tag: 22}))

	got := map[uint64]byte{}
	for i := 0; i < 2; i++ {
		c := <-ioc.Completions()
		ioc.Done()
		require.NoError(t, c.Err)
		got[c.Req.Tag] = c.Run.Pages()[0].Data()[0]
		c.Run.Release()
	}
	assert.Equal(t, map[uint64]byte{11: 0, 22: 4}, got)
	assert.Equal(t, int64(0), ioc.Inflight())

	assert.ErrorIs(t, ioc.Submit(context.Background(), Request{Off: 1, Size: PageSize}), ErrMisaligned)
}

func TestContext_PropagatesReadErrors(t *testing.T) {
	path := writeTestFile(t, 8*PageSize)
	faulty := fs.NewFaultyFS(nil)
	faulty.FailAfterReads = 0
	f := newTestFactory(t, path, faulty)
	ioc := f.NewContext(1)

	require.NoError(t, ioc.Submit(context.Background(), Request{Off: 0, Size: PageSize}))
	c := <-ioc.Completions()
	ioc.Done()
	assert.ErrorIs(t, c.Err, fs.ErrInjected)
	assert.Nil(t, c.Run)
}

func TestFactory_Preload(t *testing.T) {
	f := newTestFactory(t, writeTestFile(t, 16*PageSize), nil)

	require.NoError(t, f.Preload(context.Background()))

	// Everything warm: a follow-up read hits only cache.
	before := f.Stats().Reads
	run, err := f.ReadRun(context.Background(), 0, 16*PageSize)
	require.NoError(t, err)
	run.Release()
	assert.Equal(t, before, f.Stats().Reads)
}
