package store

import (
	"time"

	"github.com/ipld/go-packetstore/store/types"
)

const (
	defaultMaxFileSize   = uint32(1024 * 1024 * 1024)
	defaultMaxPacketSize = uint32(64 * 1024 * 1024)
	defaultBurstRate     = 4 * 1024 * 1024
	defaultSyncInterval  = time.Second
	defaultFileCacheSize = 64
)

type config struct {
	maxFileSize   uint32
	maxPacketSize uint32
	syncInterval  time.Duration
	burstRate     types.Work
	compress      bool
	fileCacheSize int
}

type Option func(*config)

// apply applies the given options to this config.
func (c *config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// MaxFileSize is the size a segment data file may reach before new packets
// are written to the next segment. A data file can exceed this size by at
// most one packet. The value is recorded when the store is created and must
// not change after.
func MaxFileSize(maxFileSize uint32) Option {
	return func(c *config) {
		c.maxFileSize = maxFileSize
	}
}

// MaxPacketSize is the largest packet that Put accepts.
func MaxPacketSize(maxPacketSize uint32) Option {
	return func(c *config) {
		c.maxPacketSize = maxPacketSize
	}
}

// SyncInterval determines how frequently changes are synced to disk when the
// store is started. A value of 0 leaves syncing to Flush and Close.
func SyncInterval(syncInterval time.Duration) Option {
	return func(c *config) {
		c.syncInterval = syncInterval
	}
}

// BurstRate specifies how much unsynced data can accumulate before causing
// data to be synced to disk.
func BurstRate(burstRate uint64) Option {
	return func(c *config) {
		c.burstRate = types.Work(burstRate)
	}
}

// Compress stores packets snappy-compressed. The value is recorded when the
// store is created and must not change after.
func Compress(compress bool) Option {
	return func(c *config) {
		c.compress = compress
	}
}

// FileCacheSize is the maximum number of sealed segment data files kept open
// for reading.
func FileCacheSize(size int) Option {
	return func(c *config) {
		c.fileCacheSize = size
	}
}
