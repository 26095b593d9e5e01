package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMountedFileStore(t *testing.T) *FileStore {
	t.Helper()
	dir := NewDir(t.TempDir())
	require.NoError(t, dir.Mount())
	return NewFileStore(dir)
}

func writeRecord(t *testing.T, s Store, data []byte) {
	t.Helper()
	rec, err := s.Open(false)
	require.NoError(t, err)
	require.NoError(t, rec.SeekToStart())
	require.NoError(t, rec.WriteAll(data))
	require.NoError(t, rec.Close())
}

func readRecord(t *testing.T, s Store) []byte {
	t.Helper()
	rec, err := s.Open(true)
	require.NoError(t, err)
	defer rec.Close()
	require.NoError(t, rec.SeekToStart())
	b, err := rec.ReadAll(1024)
	require.NoError(t, err)
	return b
}

func TestDirMount(t *testing.T) {
	dir := NewDir(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, dir.Mounted())
	assert.Error(t, dir.Mount())
	assert.False(t, dir.Mounted())

	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	assert.Error(t, NewDir(f).Mount())

	ok := NewDir(t.TempDir())
	require.NoError(t, ok.Mount())
	assert.True(t, ok.Mounted())
	ok.Unmount()
	assert.False(t, ok.Mounted())
}

func TestFileStoreNotMounted(t *testing.T) {
	s := NewFileStore(NewDir(t.TempDir()))

	_, err := s.Exists()
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = s.Open(false)
	assert.ErrorIs(t, err, ErrNotMounted)
	assert.ErrorIs(t, s.Remove(), ErrNotMounted)
}

func TestFileStoreWriteReadRemove(t *testing.T) {
	s := newMountedFileStore(t)

	ok, err := s.Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open(true)
	assert.ErrorIs(t, err, ErrNoRecord)

	writeRecord(t, s, []byte("first record, longer"))
	writeRecord(t, s, []byte("second"))

	ok, err = s.Exists()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("second"), readRecord(t, s))
	assert.FileExists(t, filepath.Join(s.Path(), RecordName))

	require.NoError(t, s.Remove())
	require.NoError(t, s.Remove())
	ok, err = s.Exists()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreRewriteAfterSeek(t *testing.T) {
	s := newMountedFileStore(t)

	rec, err := s.Open(false)
	require.NoError(t, err)
	require.NoError(t, rec.WriteAll([]byte("discarded")))
	require.NoError(t, rec.SeekToStart())
	require.NoError(t, rec.WriteAll([]byte("kept")))
	require.NoError(t, rec.Close())

	assert.Equal(t, []byte("kept"), readRecord(t, s))
}

func TestFileStoreAbandonedWriteKeepsPrevious(t *testing.T) {
	s := newMountedFileStore(t)
	writeRecord(t, s, []byte("previous"))

	rec, err := s.Open(false)
	require.NoError(t, err)
	require.NoError(t, rec.SeekToStart())
	require.NoError(t, rec.Close())

	assert.Equal(t, []byte("previous"), readRecord(t, s))

	entries, err := os.ReadDir(s.Path())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "pending file must be cleaned up")
}

func TestFileStoreReadLimits(t *testing.T) {
	s := newMountedFileStore(t)
	writeRecord(t, s, make([]byte, 64))

	rec, err := s.Open(true)
	require.NoError(t, err)
	defer rec.Close()

	_, err = rec.ReadAll(32)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, rec.WriteAll([]byte("x")), ErrReadOnly)
}
