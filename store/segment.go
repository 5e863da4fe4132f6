package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ipld/go-packetstore/store/index"
	"github.com/ipld/go-packetstore/store/types"
)

/* A segment is a data file and the index of the records in it.

The format of a data file is:

```text
    |                   Repeated                  |
    |                                             |
    |        4 bytes         |  Variable size | … |
    |  Size of the record    |     Record     | … |
```

The size prefix is little-endian. Entry i of the segment index holds the byte
offset of record i in the data file.
*/

// sizePrefixSize is the number of bytes used for the size prefix of a record.
const sizePrefixSize = 4

type segment struct {
	num      uint32
	firstSeq uint64
	count    uint64
	index    *index.Index
}

func dataFileName(dir string, num uint32) string {
	return filepath.Join(dir, fmt.Sprintf("packets.%d.data", num))
}

func indexFileName(dir string, num uint32) string {
	return filepath.Join(dir, fmt.Sprintf("packets.%d.index", num))
}

func openSegment(dir string, num uint32, firstSeq uint64) (*segment, error) {
	idx, err := index.Open(indexFileName(dir, num))
	if err != nil {
		return nil, err
	}
	count, err := idx.Len()
	if err != nil {
		idx.Close()
		return nil, err
	}
	return &segment{
		num:      num,
		firstSeq: firstSeq,
		count:    count,
		index:    idx,
	}, nil
}

// contains reports whether the packet with sequence number seq is in this
// segment.
func (seg *segment) contains(seq uint64) bool {
	return seq >= seg.firstSeq && seq-seg.firstSeq < seg.count
}

// locate reads the offset of a packet from the segment index.
func (seg *segment) locate(seq uint64) (types.Position, error) {
	off, err := seg.index.Read(seq - seg.firstSeq)
	if err != nil {
		return 0, err
	}
	return types.Position(off), nil
}

// recoverData makes the data file end where the last indexed record ends.
// Records written without an index entry are truncated. An index entry that
// points past the end of the data file is an error.
func (seg *segment) recoverData(data *os.File) (types.Position, error) {
	fi, err := data.Stat()
	if err != nil {
		return 0, err
	}
	dataSize := types.Position(fi.Size())

	var end types.Position
	if seg.count != 0 {
		off, err := seg.locate(seg.firstSeq + seg.count - 1)
		if err != nil {
			return 0, err
		}
		rec, err := readRecordSize(data, off)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, fmt.Errorf("%w: segment %d record at offset %d", types.ErrIndexAheadOfData, seg.num, off)
			}
			return 0, err
		}
		end = rec.Offset + sizePrefixSize + types.Position(rec.Size)
	}

	if end > dataSize {
		return 0, fmt.Errorf("%w: segment %d ends at %d, data file is %d bytes", types.ErrIndexAheadOfData, seg.num, end, dataSize)
	}
	if end < dataSize {
		log.Warnw("Truncating unindexed data at end of segment", "segment", seg.num, "dataSize", dataSize, "end", end)
		if err = data.Truncate(int64(end)); err != nil {
			return 0, fmt.Errorf("cannot truncate data file %s: %w", data.Name(), err)
		}
	}
	return end, nil
}

func readRecordSize(data io.ReaderAt, off types.Position) (types.Record, error) {
	var sizeBuf [sizePrefixSize]byte
	if _, err := data.ReadAt(sizeBuf[:], int64(off)); err != nil {
		return types.Record{}, err
	}
	return types.Record{
		Offset: off,
		Size:   types.Size(binary.LittleEndian.Uint32(sizeBuf[:])),
	}, nil
}

func readRecord(data io.ReaderAt, off types.Position) ([]byte, error) {
	rec, err := readRecordSize(data, off)
	if err != nil {
		return nil, fmt.Errorf("cannot read record size at offset %d: %w", off, err)
	}
	buf := make([]byte, rec.Size)
	if _, err = data.ReadAt(buf, int64(off)+sizePrefixSize); err != nil {
		return nil, fmt.Errorf("cannot read record at offset %d: %w", off, err)
	}
	return buf, nil
}
