package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexAppendFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(context.Background(), dir)
	require.NoError(t, err)

	packets := [][]byte{[]byte("first"), []byte("second")}
	for _, packet := range packets {
		_, err = s.Put(packet)
		require.NoError(t, err)
	}
	fi, err := os.Stat(dataFileName(dir, 0))
	require.NoError(t, err)
	dataSize := fi.Size()

	// Appends to a closed index file fail.
	require.NoError(t, s.segments[0].index.Close())

	_, err = s.Put([]byte("third"))
	require.Error(t, err)
	indexErr := err

	fi, err = os.Stat(dataFileName(dir, 0))
	require.NoError(t, err)
	require.Equal(t, dataSize, fi.Size())
	require.Equal(t, uint64(2), s.Len())

	require.Equal(t, indexErr, s.Err())
	_, err = s.Put([]byte("fourth"))
	require.Equal(t, indexErr, err)

	// Closing reports the closed index but still releases the store.
	require.Error(t, s.Close())

	s, err = OpenStore(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, uint64(len(packets)), s.Len())
	for i, packet := range packets {
		value, err := s.Get(uint64(i))
		require.NoError(t, err)
		require.Equal(t, packet, value)
	}
	seq, err := s.Put([]byte("third"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)
}
