package index

type config struct {
	syncOnAppend bool
	repair       bool
}

type Option func(*config)

// apply applies the given options to this config.
func (c *config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// SyncOnAppend makes every Append sync the index file before returning. By
// default appends are left to the operating system until Sync is called.
func SyncOnAppend(syncOnAppend bool) Option {
	return func(c *config) {
		c.syncOnAppend = syncOnAppend
	}
}

// NoRepair makes Open fail on an index file that ends with a partial entry,
// instead of truncating the partial entry.
func NoRepair() Option {
	return func(c *config) {
		c.repair = false
	}
}
