package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipld/go-packetstore/store"
	"github.com/ipld/go-packetstore/store/index"
	"github.com/stretchr/testify/require"
)

func writeIndex(t *testing.T, values ...uint64) string {
	indexPath := filepath.Join(t.TempDir(), "packets.0.index")
	idx, err := index.Open(indexPath)
	require.NoError(t, err)
	for _, v := range values {
		require.NoError(t, idx.Append(v))
	}
	require.NoError(t, idx.Close())
	return indexPath
}

func TestShowIndex(t *testing.T) {
	indexPath := writeIndex(t, 0, 10, 25)
	var out bytes.Buffer
	require.NoError(t, showIndex(indexPath, &out))
	require.Equal(t, "0\t0\n1\t10\n2\t25\n", out.String())
}

func TestCheckIndex(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, checkIndex(writeIndex(t, 0, 10, 25, 40, 60), &out))
		require.Contains(t, out.String(), "entries: 5")
	})

	t.Run("problems", func(t *testing.T) {
		indexPath := writeIndex(t, 0, 10, 5)
		f, err := os.OpenFile(indexPath, os.O_WRONLY|os.O_APPEND, 0o644)
		require.NoError(t, err)
		_, err = f.Write([]byte{1, 2})
		require.NoError(t, err)
		require.NoError(t, f.Close())

		res, err := scanIndex(indexPath)
		require.NoError(t, err)
		require.Equal(t, uint64(3), res.entries)
		require.Equal(t, int64(2), res.partialBytes)
		require.Equal(t, []uint64{2}, res.decreasing)

		var out bytes.Buffer
		require.Error(t, checkIndex(indexPath, &out))

		require.NoError(t, repairIndex(indexPath))
		fi, err := os.Stat(indexPath)
		require.NoError(t, err)
		require.Equal(t, int64(3*index.EntrySize), fi.Size())
	})
}

func TestStoreStatsLeavesFilesAlone(t *testing.T) {
	dir := t.TempDir()
	s, err := store.OpenStore(context.Background(), dir)
	require.NoError(t, err)
	for _, packet := range [][]byte{[]byte("one"), []byte("three")} {
		_, err = s.Put(packet)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	// Unindexed data and a partial index entry, as left by a crash.
	dataPath := filepath.Join(dir, "packets.0.data")
	indexPath := filepath.Join(dir, "packets.0.index")
	for _, p := range []string{dataPath, indexPath} {
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0o644)
		require.NoError(t, err)
		_, err = f.Write([]byte{1, 2, 3})
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	var out bytes.Buffer
	require.NoError(t, storeStats(dir, &out))
	require.Contains(t, out.String(), "packets: 2\n")
	require.Contains(t, out.String(), "segments: 1\n")
	require.Contains(t, out.String(), "partial index bytes: 3\n")

	fi, err := os.Stat(dataPath)
	require.NoError(t, err)
	require.Equal(t, int64(4+3+4+5+3), fi.Size())
	fi, err = os.Stat(indexPath)
	require.NoError(t, err)
	require.Equal(t, int64(2*index.EntrySize+3), fi.Size())

	// The store is not locked by stats.
	s, err = store.OpenStore(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.Len())
	require.NoError(t, s.Close())
}
