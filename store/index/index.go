package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-packetstore/store/types"
)

/* An append-only file of fixed-width entries.

The format of the index file is:

```text
    |      Repeated      |
    |                    |
    |      8 bytes       |
    | Big-endian uint64  | …
```

The entry at position i starts at byte offset i * EntrySize. There is no
header, footer, or checksum.
*/

// EntrySize is the size of an index entry, in bytes.
const EntrySize = 8

var log = logging.Logger("packetstore")

// Index wraps an index file for reading values by position and appending new
// values at the end.
//
// Index does not check positions or values given to it, does not limit the
// size of the file, and does no locking. The owner of the Index must keep
// appends from racing with each other and with reads.
type Index struct {
	file         *os.File
	syncOnAppend bool
}

// Open opens the index file at path. The file is created if it does not exist
// and its contents are preserved if it does.
//
// If the file ends with a partial entry, that entry is truncated away unless
// NoRepair is given, in which case Open fails with types.ErrCorruptIndex.
func Open(path string, options ...Option) (*Index, error) {
	c := config{repair: true}
	c.apply(options)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open index file: %w", err)
	}

	if err = checkLength(file, c.repair); err != nil {
		file.Close()
		return nil, err
	}

	return &Index{
		file:         file,
		syncOnAppend: c.syncOnAppend,
	}, nil
}

// checkLength makes sure the file holds only whole entries.
func checkLength(file *os.File, repair bool) error {
	fi, err := file.Stat()
	if err != nil {
		return fmt.Errorf("cannot stat index file %s: %w", file.Name(), err)
	}
	size := fi.Size()
	partial := size % EntrySize
	if partial == 0 {
		return nil
	}
	if !repair {
		return fmt.Errorf("%w: %s is %d bytes", types.ErrCorruptIndex, file.Name(), size)
	}

	log.Warnw("Truncating partial entry at end of index file", "file", file.Name(), "size", size, "partialBytes", partial)
	if err = file.Truncate(size - partial); err != nil {
		return fmt.Errorf("cannot truncate partial entry from index file %s: %w", file.Name(), err)
	}
	return file.Sync()
}

// Read returns the value stored at pos.
//
// If pos is at or past the number of entries, the returned error wraps
// io.EOF.
func (idx *Index) Read(pos uint64) (uint64, error) {
	if pos > math.MaxInt64/EntrySize {
		return 0, fmt.Errorf("cannot read index entry %d: %w", pos, io.EOF)
	}
	if _, err := idx.file.Seek(int64(pos*EntrySize), io.SeekStart); err != nil {
		return 0, fmt.Errorf("cannot seek index file %s: %w", idx.file.Name(), err)
	}
	var buf [EntrySize]byte
	if _, err := io.ReadFull(idx.file, buf[:]); err != nil {
		return 0, fmt.Errorf("cannot read index entry %d: %w", pos, err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// Append writes value as a new entry at the end of the index. The value is
// readable at the position equal to the number of entries before the call.
func (idx *Index) Append(value uint64) error {
	if _, err := idx.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("cannot seek index file %s: %w", idx.file.Name(), err)
	}
	var buf [EntrySize]byte
	binary.BigEndian.PutUint64(buf[:], value)
	if _, err := idx.file.Write(buf[:]); err != nil {
		return fmt.Errorf("cannot append to index file %s: %w", idx.file.Name(), err)
	}
	if idx.syncOnAppend {
		return idx.Sync()
	}
	return nil
}

// Len returns the number of entries in the index. It is computed from the
// file size on every call.
func (idx *Index) Len() (uint64, error) {
	size, err := idx.StorageSize()
	if err != nil {
		return 0, err
	}
	return uint64(size) / EntrySize, nil
}

// Sync commits the contents of the index file to disk.
func (idx *Index) Sync() error {
	if err := idx.file.Sync(); err != nil {
		return fmt.Errorf("cannot sync index file %s: %w", idx.file.Name(), err)
	}
	return nil
}

// Close closes the index file. Appended entries are not synced first.
func (idx *Index) Close() error {
	return idx.file.Close()
}

// Path returns the name of the index file.
func (idx *Index) Path() string {
	return idx.file.Name()
}

// StorageSize returns bytes of storage used by the index.
func (idx *Index) StorageSize() (int64, error) {
	fi, err := idx.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("cannot stat index file %s: %w", idx.file.Name(), err)
	}
	return fi.Size(), nil
}

// Iter returns an iterator over the entries of the index. The iterator reads
// with ReadAt, so it does not disturb Read or Append.
func (idx *Index) Iter() *Iterator {
	return NewIter(idx.file)
}

// NewIter returns an iterator over the entries of an index file opened by
// the caller.
func NewIter(reader io.ReaderAt) *Iterator {
	return &Iterator{reader: reader}
}

type Iterator struct {
	reader io.ReaderAt
	pos    types.Position
}

// Next returns the next value in the index, or io.EOF when there are no more
// whole entries.
func (it *Iterator) Next() (uint64, error) {
	var buf [EntrySize]byte
	n, err := it.reader.ReadAt(buf[:], int64(it.pos))
	if n < EntrySize {
		if err == nil || err == io.EOF {
			return 0, io.EOF
		}
		return 0, err
	}
	it.pos += EntrySize
	return binary.BigEndian.Uint64(buf[:]), nil
}

// Position returns the position of the entry the next call to Next reads.
func (it *Iterator) Position() uint64 {
	return uint64(it.pos) / EntrySize
}
