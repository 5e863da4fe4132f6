package store

import (
	"fmt"
	"os"

	"github.com/ipld/go-packetstore/store/index"
)

// Stats describes the files of a packet store.
type Stats struct {
	Header   Header
	Packets  uint64
	Segments int
	// IndexBytes and DataBytes are the sizes of all segment files.
	IndexBytes int64
	DataBytes  int64
	// PartialIndexBytes counts trailing bytes of index files that do not form
	// a whole entry. OpenStore truncates them.
	PartialIndexBytes int64
}

// Stat reports on the store in dir without opening it. No file is modified
// and the store lock is not taken, so the result may be stale if a writer has
// the store open.
func Stat(dir string) (Stats, error) {
	header, err := ReadHeader(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("cannot read store header: %w", err)
	}
	stats := Stats{Header: header}
	for num := uint32(0); ; num++ {
		dataInfo, err := os.Stat(dataFileName(dir, num))
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return Stats{}, err
		}
		stats.Segments++
		stats.DataBytes += dataInfo.Size()

		indexInfo, err := os.Stat(indexFileName(dir, num))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Stats{}, err
		}
		size := indexInfo.Size()
		stats.IndexBytes += size
		stats.Packets += uint64(size / index.EntrySize)
		stats.PartialIndexBytes += size % index.EntrySize
	}
	return stats, nil
}
