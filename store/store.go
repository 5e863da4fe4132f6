package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-packetstore/store/filecache"
	"github.com/ipld/go-packetstore/store/types"
)

var log = logging.Logger("packetstore")

// Store is an append-only packet store. Packets are addressed by a sequence
// number assigned by Put, starting at 0.
type Store struct {
	dir    string
	header Header
	lock   *dirLock

	// lk guards everything below it. Index reads move the index file cursor,
	// so Get takes the exclusive lock too.
	lk              sync.Mutex
	segments        []*segment
	data            *os.File
	dataSize        types.Position
	count           uint64
	outstandingWork types.Work

	fileCache     *filecache.FileCache
	maxPacketSize uint32

	stateLk sync.RWMutex
	open    bool
	running bool
	err     error

	burstRate    types.Work
	syncInterval time.Duration
	closed       chan struct{}
	closing      chan struct{}
	flushNow     chan struct{}
}

// OpenStore opens the packet store in dir, creating dir and the store if they
// do not exist.
func OpenStore(ctx context.Context, dir string, options ...Option) (*Store, error) {
	c := config{
		maxFileSize:   defaultMaxFileSize,
		maxPacketSize: defaultMaxPacketSize,
		syncInterval:  defaultSyncInterval,
		burstRate:     defaultBurstRate,
		fileCacheSize: defaultFileCacheSize,
	}
	c.apply(options)
	if c.maxFileSize == 0 {
		c.maxFileSize = defaultMaxFileSize
	}
	if c.maxPacketSize == 0 || c.maxPacketSize > math.MaxUint32-sizePrefixSize {
		return nil, fmt.Errorf("invalid max packet size %d", c.maxPacketSize)
	}
	if c.compress {
		// The size prefix holds the compressed size, which may exceed the
		// packet size.
		n := snappy.MaxEncodedLen(int(c.maxPacketSize))
		if n < 0 || uint64(n) > math.MaxUint32-sizePrefixSize {
			return nil, fmt.Errorf("invalid max packet size %d: too large to compress", c.maxPacketSize)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create store directory: %w", err)
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	var segments []*segment
	var data *os.File
	opened := false
	defer func() {
		if opened {
			return
		}
		if data != nil {
			data.Close()
		}
		for _, seg := range segments {
			seg.index.Close()
		}
		lock.unlock()
	}()

	hdrPath := headerPath(dir)
	header, err := readHeader(hdrPath)
	if os.IsNotExist(err) {
		header = newHeader(c.maxFileSize, c.compress)
		if err = writeHeader(hdrPath, header); err != nil {
			return nil, err
		}
	} else {
		if err != nil {
			return nil, fmt.Errorf("cannot read store header %s: %w", hdrPath, err)
		}
		if header.Version != StoreVersion {
			return nil, types.ErrWrongVersion{header.Version, StoreVersion}
		}
		if header.MaxFileSize != c.maxFileSize {
			return nil, types.ErrWrongMaxFileSize{header.MaxFileSize, c.maxFileSize}
		}
		if header.Compress != c.compress {
			return nil, types.ErrWrongCompression{header.Compress, c.compress}
		}
	}

	segments, err = openSegments(ctx, dir)
	if err != nil {
		return nil, err
	}

	last := segments[len(segments)-1]
	data, err = os.OpenFile(dataFileName(dir, last.num), os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open data file: %w", err)
	}
	dataSize, err := last.recoverData(data)
	if err != nil {
		return nil, err
	}
	opened = true

	s := &Store{
		dir:           dir,
		header:        header,
		lock:          lock,
		segments:      segments,
		data:          data,
		dataSize:      dataSize,
		count:         last.firstSeq + last.count,
		fileCache:     filecache.New(c.fileCacheSize, func(num uint32) string { return dataFileName(dir, num) }),
		maxPacketSize: c.maxPacketSize,
		open:          true,
		burstRate:     c.burstRate,
		syncInterval:  c.syncInterval,
		closed:        make(chan struct{}),
		closing:       make(chan struct{}),
		flushNow:      make(chan struct{}, 1),
	}

	log.Infow("Opened packet store", "dir", dir, "segments", len(segments), "packets", s.count)
	return s, nil
}

// openSegments opens the index of every segment. There is always at least
// one segment.
func openSegments(ctx context.Context, dir string) ([]*segment, error) {
	var segments []*segment
	var firstSeq uint64
	var num uint32
	for {
		if err := ctx.Err(); err != nil {
			for _, seg := range segments {
				seg.index.Close()
			}
			return nil, err
		}
		if len(segments) != 0 {
			if _, err := os.Stat(dataFileName(dir, num)); err != nil {
				if os.IsNotExist(err) {
					break
				}
				return nil, err
			}
		}
		seg, err := openSegment(dir, num, firstSeq)
		if err != nil {
			for _, seg := range segments {
				seg.index.Close()
			}
			return nil, err
		}
		segments = append(segments, seg)
		firstSeq += seg.count
		num++
	}
	return segments, nil
}

func (s *Store) Start() {
	s.stateLk.Lock()
	start := s.open && !s.running && s.syncInterval != 0
	if start {
		s.running = true
	}
	s.stateLk.Unlock()
	if start {
		go s.run()
	}
}

func (s *Store) run() {
	defer close(s.closed)
	d := time.NewTicker(s.syncInterval)

	for {
		select {
		case <-s.flushNow:
			if err := s.Flush(); err != nil {
				log.Errorw("Cannot sync packet store", "err", err)
				s.setErr(err)
			}
		case <-s.closing:
			d.Stop()
			select {
			case <-d.C:
			default:
			}
			return
		case <-d.C:
			select {
			case s.flushNow <- struct{}{}:
			default:
				// Already signaled by write, do not need another flush.
			}
		}
	}
}

// Close stops the background sync, syncs outstanding data, and closes every
// segment file. Calling Close more than once is a no-op.
func (s *Store) Close() error {
	s.stateLk.Lock()
	open := s.open
	s.open = false

	if !open {
		s.stateLk.Unlock()
		return nil
	}

	running := s.running
	s.running = false
	s.stateLk.Unlock()

	if running {
		close(s.closing)
		<-s.closed
	}

	cerr := s.Flush()

	s.lk.Lock()
	defer s.lk.Unlock()

	s.fileCache.Clear()
	if err := s.data.Close(); err != nil {
		cerr = err
	}
	for _, seg := range s.segments {
		if err := seg.index.Close(); err != nil {
			cerr = err
		}
	}
	if err := s.lock.unlock(); err != nil {
		cerr = err
	}
	return cerr
}

func (s *Store) Err() error {
	s.stateLk.RLock()
	defer s.stateLk.RUnlock()
	if s.err == nil && !s.open {
		return types.ErrClosed
	}
	return s.err
}

func (s *Store) setErr(err error) {
	s.stateLk.Lock()
	if s.err == nil {
		s.err = err
	}
	s.stateLk.Unlock()
}

// Put appends a packet to the store and returns its sequence number.
func (s *Store) Put(packet []byte) (uint64, error) {
	if err := s.Err(); err != nil {
		return 0, err
	}
	if len(packet) == 0 {
		return 0, types.ErrEmptyPacket
	}
	if uint64(len(packet)) > uint64(s.maxPacketSize) {
		return 0, fmt.Errorf("%w: %d bytes, max is %d", types.ErrPacketTooLarge, len(packet), s.maxPacketSize)
	}

	value := packet
	if s.header.Compress {
		value = snappy.Encode(nil, packet)
	}
	rec := make([]byte, sizePrefixSize+len(value))
	binary.LittleEndian.PutUint32(rec, uint32(len(value)))
	copy(rec[sizePrefixSize:], value)

	s.lk.Lock()
	seq, err := s.put(rec)
	work := s.outstandingWork
	s.lk.Unlock()
	if err != nil {
		return 0, err
	}

	s.flushTick(work)
	return seq, nil
}

func (s *Store) put(rec []byte) (uint64, error) {
	if s.dataSize >= types.Position(s.header.MaxFileSize) {
		if err := s.rotate(); err != nil {
			s.setErr(err)
			return 0, err
		}
	}
	seg := s.segments[len(s.segments)-1]
	off := s.dataSize

	if _, err := s.data.Write(rec); err != nil {
		s.truncateData(off)
		return 0, fmt.Errorf("cannot write to data file %s: %w", s.data.Name(), err)
	}
	// Data is written before the index entry, so that an index entry never
	// refers to data that was not written.
	if err := seg.index.Append(uint64(off)); err != nil {
		// The index may now end with a partial entry, which is only repaired
		// when the store is reopened.
		s.truncateData(off)
		s.setErr(err)
		return 0, err
	}

	s.dataSize += types.Position(len(rec))
	seg.count++
	seq := s.count
	s.count++
	s.outstandingWork += types.Work(len(rec) + 8)
	return seq, nil
}

// truncateData removes a partially written record from the data file.
func (s *Store) truncateData(size types.Position) {
	if err := s.data.Truncate(int64(size)); err != nil {
		log.Errorw("Cannot remove partial record from data file", "file", s.data.Name(), "err", err)
		s.setErr(fmt.Errorf("cannot remove partial record from data file %s: %w", s.data.Name(), err))
	}
}

// rotate seals the current segment and starts the next one.
func (s *Store) rotate() error {
	cur := s.segments[len(s.segments)-1]
	num := cur.num + 1
	dataPath := dataFileName(s.dir, num)
	// If the data file being opened already exists then the segment number
	// has wrapped. This means that the max file size is far too small.
	if _, err := os.Stat(dataPath); !os.IsNotExist(err) {
		return fmt.Errorf("creating data file overwrites existing, check max file size and path (maxFileSize=%d) (path=%s)", s.header.MaxFileSize, dataPath)
	}

	if err := s.sync(); err != nil {
		return err
	}
	seg, err := openSegment(s.dir, num, s.count)
	if err != nil {
		return err
	}
	data, err := os.OpenFile(dataPath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		seg.index.Close()
		return fmt.Errorf("cannot open new data file %s: %w", dataPath, err)
	}

	if err = s.data.Close(); err != nil {
		log.Errorw("Cannot close sealed data file", "file", s.data.Name(), "err", err)
	}
	s.data = data
	s.dataSize = 0
	s.segments = append(s.segments, seg)
	log.Infow("Started new segment", "segment", num, "firstSeq", seg.firstSeq)
	return nil
}

// Get returns the packet with sequence number seq.
func (s *Store) Get(seq uint64) ([]byte, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}

	s.lk.Lock()
	value, err := s.get(seq)
	s.lk.Unlock()
	if err != nil {
		return nil, err
	}

	if !s.header.Compress {
		return value, nil
	}
	packet, err := snappy.Decode(nil, value)
	if err != nil {
		return nil, fmt.Errorf("cannot decompress packet %d: %w", seq, err)
	}
	return packet, nil
}

// GetSize returns the size of the packet with sequence number seq.
func (s *Store) GetSize(seq uint64) (uint32, error) {
	if err := s.Err(); err != nil {
		return 0, err
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	if s.header.Compress {
		value, err := s.get(seq)
		if err != nil {
			return 0, err
		}
		size, err := snappy.DecodedLen(value)
		if err != nil {
			return 0, fmt.Errorf("cannot decode size of packet %d: %w", seq, err)
		}
		return uint32(size), nil
	}

	seg, err := s.segmentFor(seq)
	if err != nil {
		return 0, err
	}
	off, err := seg.locate(seq)
	if err != nil {
		return 0, err
	}
	var rec types.Record
	err = s.withData(seg, func(data *os.File) error {
		rec, err = readRecordSize(data, off)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cannot read size of packet %d: %w", seq, err)
	}
	return uint32(rec.Size), nil
}

// get reads the stored value of a packet. s.lk must be held.
func (s *Store) get(seq uint64) ([]byte, error) {
	seg, err := s.segmentFor(seq)
	if err != nil {
		return nil, err
	}
	off, err := seg.locate(seq)
	if err != nil {
		return nil, err
	}
	var value []byte
	err = s.withData(seg, func(data *os.File) error {
		value, err = readRecord(data, off)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cannot read packet %d: %w", seq, err)
	}
	return value, nil
}

func (s *Store) segmentFor(seq uint64) (*segment, error) {
	if seq >= s.count {
		return nil, fmt.Errorf("%w: %d, store has %d packets", types.ErrOutOfBounds, seq, s.count)
	}
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].firstSeq+s.segments[i].count > seq
	})
	seg := s.segments[i]
	if !seg.contains(seq) {
		return nil, fmt.Errorf("%w: %d", types.ErrOutOfBounds, seq)
	}
	return seg, nil
}

// withData calls fn with the data file of seg. The current segment uses the
// open data file; sealed segments go through the file cache.
func (s *Store) withData(seg *segment, fn func(*os.File) error) error {
	if seg == s.segments[len(s.segments)-1] {
		return fn(s.data)
	}
	file, err := s.fileCache.Acquire(seg.num)
	if err != nil {
		return err
	}
	defer s.fileCache.Release(file)
	return fn(file)
}

// Len returns the number of packets in the store.
func (s *Store) Len() uint64 {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.count
}

// Segments returns the number of segments in the store.
func (s *Store) Segments() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.segments)
}

func (s *Store) flushTick(work types.Work) {
	if work <= s.burstRate {
		return
	}
	s.stateLk.RLock()
	running := s.running
	s.stateLk.RUnlock()
	if !running {
		return
	}
	select {
	case s.flushNow <- struct{}{}:
	default:
		// Already signaled, but flush not yet started.  No need to wait to
		// signal again since the existing unread signal guarantees the
		// change will be written.
	}
}

// Flush syncs the current data and index files to permanent storage. Sealed
// segments were synced when they were sealed.
func (s *Store) Flush() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.outstandingWork == 0 {
		return nil
	}
	return s.sync()
}

func (s *Store) sync() error {
	if err := s.data.Sync(); err != nil {
		return fmt.Errorf("cannot sync data file %s: %w", s.data.Name(), err)
	}
	if err := s.segments[len(s.segments)-1].index.Sync(); err != nil {
		return err
	}
	s.outstandingWork = 0
	return nil
}

// OutstandingWork returns the number of bytes written since the last sync.
func (s *Store) OutstandingWork() types.Work {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.outstandingWork
}

// IndexStorageSize returns the storage used by the index files.
func (s *Store) IndexStorageSize() (int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	var total int64
	for _, seg := range s.segments {
		size, err := seg.index.StorageSize()
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// DataStorageSize returns the storage used by the data files.
func (s *Store) DataStorageSize() (int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	total := int64(s.dataSize)
	for _, seg := range s.segments[:len(s.segments)-1] {
		fi, err := os.Stat(dataFileName(s.dir, seg.num))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}

// StorageSize returns the storage used by the index and data files.
func (s *Store) StorageSize() (int64, error) {
	isize, err := s.IndexStorageSize()
	if err != nil {
		return 0, err
	}
	dsize, err := s.DataStorageSize()
	if err != nil {
		return 0, err
	}
	return isize + dsize, nil
}
