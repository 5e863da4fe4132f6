package filecache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func segmentFiles(t *testing.T, n int) PathFunc {
	dir := t.TempDir()
	path := func(segment uint32) string {
		return filepath.Join(dir, fmt.Sprintf("packets.%d.data", segment))
	}
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(path(uint32(i)), []byte{byte(i)}, 0o644))
	}
	return path
}

func TestAcquire(t *testing.T) {
	fc := New(2, segmentFiles(t, 3))

	file0, err := fc.Acquire(0)
	require.NoError(t, err)
	file1, err := fc.Acquire(1)
	require.NoError(t, err)
	again, err := fc.Acquire(0)
	require.NoError(t, err)
	require.Same(t, file0, again)
	require.Equal(t, 2, fc.Len())

	// Segment 1 is least recently used and gets evicted, but is still
	// referenced so it stays open.
	file2, err := fc.Acquire(2)
	require.NoError(t, err)
	require.Equal(t, 2, fc.Len())
	require.Equal(t, 1, fc.removed[file1])

	buf := make([]byte, 1)
	_, err = file1.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, byte(1), buf[0])

	require.NoError(t, fc.Release(file1))
	require.Zero(t, len(fc.removed))
	_, err = file1.ReadAt(buf, 0)
	require.ErrorIs(t, err, os.ErrClosed)

	require.NoError(t, fc.Release(file0))
	require.NoError(t, fc.Release(file0))
	err = fc.Release(file0)
	require.ErrorIs(t, err, os.ErrClosed)

	require.NoError(t, fc.Release(file2))
	fc.Clear()
	require.Zero(t, fc.Len())
	require.Zero(t, len(fc.removed))
}

func TestAcquireMissing(t *testing.T) {
	fc := New(2, segmentFiles(t, 1))
	_, err := fc.Acquire(5)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Zero(t, fc.Len())
}

func TestClearWhileReferenced(t *testing.T) {
	fc := New(4, segmentFiles(t, 2))

	file0, err := fc.Acquire(0)
	require.NoError(t, err)
	file1, err := fc.Acquire(1)
	require.NoError(t, err)
	require.NoError(t, fc.Release(file1))

	fc.Clear()
	require.Zero(t, fc.Len())
	require.Equal(t, 1, len(fc.removed))

	require.NoError(t, fc.Release(file0))
	require.Zero(t, len(fc.removed))
}

func TestZeroCapacity(t *testing.T) {
	fc := New(0, segmentFiles(t, 2))
	require.Zero(t, fc.Cap())

	file0, err := fc.Acquire(0)
	require.NoError(t, err)
	file1, err := fc.Acquire(1)
	require.NoError(t, err)
	require.Zero(t, fc.Len())
	require.Equal(t, 2, len(fc.removed))

	require.NoError(t, fc.Release(file0))
	require.NoError(t, fc.Release(file1))
	require.Zero(t, len(fc.removed))
}
