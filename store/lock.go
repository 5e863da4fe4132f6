package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipld/go-packetstore/store/types"
	"github.com/nightlyone/lockfile"
)

const lockName = "packetstore.lock"

// A lock file only excludes other processes, since it records the pid of its
// owner. Directories locked by this process are tracked here as well.
var (
	lockedLk   sync.Mutex
	lockedDirs = make(map[string]struct{})
)

type dirLock struct {
	dir  string
	file lockfile.Lockfile
}

// lockDir takes the single-writer lock of a store directory.
func lockDir(dir string) (*dirLock, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	lockedLk.Lock()
	defer lockedLk.Unlock()

	if _, ok := lockedDirs[abs]; ok {
		return nil, fmt.Errorf("%w: %s is open in this process", types.ErrStoreLocked, abs)
	}

	lf, err := lockfile.New(filepath.Join(abs, lockName))
	if err != nil {
		return nil, fmt.Errorf("cannot create lock file: %w", err)
	}
	if err = lf.TryLock(); err != nil {
		if p, perr := lf.GetOwner(); perr == nil && p.Pid != os.Getpid() {
			log.Errorw("Packet store is locked by another process", "dir", abs, "pid", p.Pid)
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrStoreLocked, abs, err)
	}

	lockedDirs[abs] = struct{}{}
	return &dirLock{dir: abs, file: lf}, nil
}

func (l *dirLock) unlock() error {
	lockedLk.Lock()
	delete(lockedDirs, l.dir)
	lockedLk.Unlock()

	if err := l.file.Unlock(); err != nil {
		return fmt.Errorf("cannot release lock on %s: %w", l.dir, err)
	}
	return nil
}
