package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSession_WritesRequestedProfiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}

	// Given: a session with every profile enabled
	s, err := Start(opts)
	require.NoError(t, err)

	// When: doing some work and stopping
	data := make([][]byte, 0, 100)
	for i := 0; i < 100; i++ {
		data = append(data, make([]byte, 1024))
	}
	_ = data
	require.NoError(t, s.Stop())

	// Then: all three files have content
	nonEmpty(t, opts.CPU)
	nonEmpty(t, opts.Heap)
	nonEmpty(t, opts.Trace)

	// And: stopping again does nothing
	assert.NoError(t, s.Stop())
}

func TestSession_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})

	assert.Error(t, err)
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{Heap: "heap.prof"}.Enabled())
}

func TestSession_NilStop(t *testing.T) {
	var s *Session
	assert.NoError(t, s.Stop())
}
