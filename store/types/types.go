package types

import "fmt"

// Position indicates a byte position in a file.
type Position uint64

// Size is the size of a stored packet record, not counting its size prefix.
type Size uint32

// Work is the number of bytes written but not yet synced to disk.
type Work uint64

// Record locates a packet record inside a segment data file.
type Record struct {
	Offset Position
	Size   Size
}

type errorType string

func (e errorType) Error() string {
	return string(e)
}

const (
	// ErrOutOfBounds indicates a sequence number that has no packet.
	ErrOutOfBounds = errorType("sequence number out of bounds")

	// ErrCorruptIndex indicates an index file whose length is not a multiple
	// of the entry size.
	ErrCorruptIndex = errorType("index file has a partial trailing entry")

	// ErrIndexAheadOfData indicates that the index references a record past
	// the end of its data file.
	ErrIndexAheadOfData = errorType("index references data past end of data file")

	// ErrEmptyPacket is returned when putting a zero-length packet.
	ErrEmptyPacket = errorType("packet is empty")

	// ErrPacketTooLarge is returned when a packet exceeds the maximum packet
	// size.
	ErrPacketTooLarge = errorType("packet too large")

	// ErrStoreLocked is returned when opening a store that is already open,
	// in this process or another.
	ErrStoreLocked = errorType("store is locked by another writer")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errorType("store closed")
)

// ErrWrongMaxFileSize is returned when a store is reopened with a maximum
// data file size that differs from the one it was created with.
type ErrWrongMaxFileSize [2]uint32

func (e ErrWrongMaxFileSize) Error() string {
	return fmt.Sprintf("store max file size is %d, but %d was requested", e[0], e[1])
}

// ErrWrongCompression is returned when a store is reopened with a different
// compression setting.
type ErrWrongCompression [2]bool

func (e ErrWrongCompression) Error() string {
	return fmt.Sprintf("store compression is %t, but %t was requested", e[0], e[1])
}

// ErrWrongVersion is returned when opening a store written with a different
// format version.
type ErrWrongVersion [2]int

func (e ErrWrongVersion) Error() string {
	return fmt.Sprintf("store version is %d, but this package reads version %d", e[0], e[1])
}
