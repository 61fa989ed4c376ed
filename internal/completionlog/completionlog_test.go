package completionlog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pydpiper-go/pydpiperd/internal/completionlog"
)

func TestPathLayout(t *testing.T) {
	got := completionlog.Path("/work", "my-pipeline")
	assert.Equal(t, filepath.Join("/work", "pydpiper-backups", "my-pipeline", "finished-stages"), got)
}

func TestAppendThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finished-stages")

	log, err := completionlog.Open(path)
	require.NoError(t, err)

	require.NoError(t, log.Append("fp-1"))
	require.NoError(t, log.Append("fp-2"))
	require.NoError(t, log.Close())

	found, err := completionlog.Load(path)
	require.NoError(t, err)
	assert.Len(t, found, 2)
	_, ok := found["fp-1"]
	assert.True(t, ok)
	_, ok = found["fp-2"]
	assert.True(t, ok)
}

func TestLoadOnMissingFileReturnsEmptySet(t *testing.T) {
	found, err := completionlog.Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestLoadDiscardsPartialTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finished-stages")

	require.NoError(t, os.WriteFile(path, []byte("fp-1\nfp-2\nfp-3-torn-by-crash"), 0o644))

	found, err := completionlog.Load(path)
	require.NoError(t, err)
	assert.Len(t, found, 2)
	_, ok := found["fp-3-torn-by-crash"]
	assert.False(t, ok, "partial line without trailing newline must be discarded")
}
