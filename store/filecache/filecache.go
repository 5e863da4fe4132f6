// Package filecache keeps the data files of sealed segments open for reading.
// Files are kept in LRU order and reference counted, so that a file evicted
// while a read is in progress is closed only after that read releases it.
package filecache

import (
	"container/list"
	"fmt"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("packetstore")

// PathFunc returns the name of the data file for a segment number.
type PathFunc func(segment uint32) string

type FileCache struct {
	capacity int
	path     PathFunc

	lock    sync.Mutex
	cache   map[uint32]*list.Element
	ll      *list.List
	removed map[*os.File]int
}

type entry struct {
	segment uint32
	file    *os.File
	refs    int
}

// New creates a FileCache that holds up to capacity open files. A capacity of
// 0 disables caching: every file is closed when its last reference is
// released.
func New(capacity int, path PathFunc) *FileCache {
	return &FileCache{
		capacity: capacity,
		path:     path,
		cache:    make(map[uint32]*list.Element),
		ll:       list.New(),
	}
}

// Acquire returns the open data file of a segment, opening it read-only if it
// is not already cached. Every Acquire must be paired with a Release.
func (c *FileCache) Acquire(segment uint32) (*os.File, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if elem, ok := c.cache[segment]; ok {
		c.ll.MoveToFront(elem)
		ent := elem.Value.(*entry)
		ent.refs++
		return ent.file, nil
	}

	file, err := os.Open(c.path(segment))
	if err != nil {
		return nil, fmt.Errorf("cannot open segment %d data file: %w", segment, err)
	}

	if c.capacity == 0 {
		c.addRemoved(file, 1)
		return file, nil
	}

	c.cache[segment] = c.ll.PushFront(&entry{segment: segment, file: file, refs: 1})
	if c.ll.Len() > c.capacity {
		c.evict(c.ll.Back())
	}
	return file, nil
}

// Release drops a reference to a file returned by Acquire. The file is closed
// if it is no longer cached and no longer referenced.
func (c *FileCache) Release(file *os.File) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if refs, ok := c.removed[file]; ok {
		if refs == 1 {
			delete(c.removed, file)
			return file.Close()
		}
		c.removed[file] = refs - 1
		return nil
	}

	for _, elem := range c.cache {
		ent := elem.Value.(*entry)
		if ent.file != file {
			continue
		}
		if ent.refs == 0 {
			return fmt.Errorf("release of unreferenced file %s: %w", file.Name(), os.ErrClosed)
		}
		ent.refs--
		return nil
	}
	return fmt.Errorf("release of unknown file %s: %w", file.Name(), os.ErrClosed)
}

// Len returns the number of cached files.
func (c *FileCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}

// Cap returns the capacity of the cache.
func (c *FileCache) Cap() int {
	return c.capacity
}

// Clear evicts every cached file. Files still referenced are closed when they
// are released.
func (c *FileCache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for c.ll.Len() != 0 {
		c.evict(c.ll.Back())
	}
}

func (c *FileCache) evict(elem *list.Element) {
	c.ll.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.cache, ent.segment)
	log.Debugw("Evicted segment data file", "segment", ent.segment, "refs", ent.refs)
	if ent.refs == 0 {
		if err := ent.file.Close(); err != nil {
			log.Errorw("Cannot close segment data file", "file", ent.file.Name(), "err", err)
		}
		return
	}
	c.addRemoved(ent.file, ent.refs)
}

func (c *FileCache) addRemoved(file *os.File, refs int) {
	if c.removed == nil {
		c.removed = make(map[*os.File]int)
	}
	c.removed[file] = refs
}
