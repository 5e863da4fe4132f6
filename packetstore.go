package packetstore

import (
	"context"

	"github.com/ipld/go-packetstore/store"
	"github.com/ipld/go-packetstore/store/types"
)

// PacketStore stores packets in an append-only set of data files, located by
// fixed-width index files.
type PacketStore struct {
	store *store.Store
}

// Open opens a PacketStore in dir, creating it if it does not exist.
func Open(ctx context.Context, dir string, options ...store.Option) (*PacketStore, error) {
	s, err := store.OpenStore(ctx, dir, options...)
	if err != nil {
		return nil, err
	}
	return &PacketStore{s}, nil
}

// Put stores a packet and returns its sequence number.
func (ps *PacketStore) Put(ctx context.Context, packet []byte) (uint64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return ps.store.Put(packet)
}

// PutMany stores packets in order and returns the sequence number of the
// first one. Sequence numbers of the stored packets are contiguous only if no
// other writer puts packets at the same time.
func (ps *PacketStore) PutMany(ctx context.Context, packets [][]byte) (uint64, error) {
	var first uint64
	for i, packet := range packets {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		seq, err := ps.store.Put(packet)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			first = seq
		}
	}
	return first, nil
}

// Get returns the packet with the given sequence number.
func (ps *PacketStore) Get(ctx context.Context, seq uint64) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return ps.store.Get(seq)
}

// GetSize returns the size of the packet with the given sequence number.
func (ps *PacketStore) GetSize(ctx context.Context, seq uint64) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	size, err := ps.store.GetSize(seq)
	if err != nil {
		return 0, err
	}
	return int(size), nil
}

// Len returns the number of packets stored.
func (ps *PacketStore) Len() uint64 {
	return ps.store.Len()
}

// Flush syncs written packets to disk.
func (ps *PacketStore) Flush() error {
	return ps.store.Flush()
}

func (ps *PacketStore) Start() {
	ps.store.Start()
}

func (ps *PacketStore) Close() error {
	return ps.store.Close()
}

// ErrOutOfBounds indicates a sequence number that has no packet.
const ErrOutOfBounds = types.ErrOutOfBounds

const ErrEmptyPacket = types.ErrEmptyPacket

const ErrPacketTooLarge = types.ErrPacketTooLarge

const ErrCorruptIndex = types.ErrCorruptIndex

const ErrIndexAheadOfData = types.ErrIndexAheadOfData

const ErrClosed = types.ErrClosed

// ErrStoreLocked is returned by Open when another writer has the store open.
const ErrStoreLocked = types.ErrStoreLocked

type ErrWrongMaxFileSize = types.ErrWrongMaxFileSize

type ErrWrongCompression = types.ErrWrongCompression

type ErrWrongVersion = types.ErrWrongVersion
