// SPDX-License-Identifier: AGPL-3.0-only
package singleton

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock represents an acquired writer lock for a database path.
type Lock struct {
	flock *flock.Flock
}

// TryAcquire attempts to acquire the writer lock for the given database
// path. It returns the lock and true if acquired, or nil and false when the
// lock is already held by another broker process. Each editor instance
// spawns its own broker, so a shared transcript database can see several
// processes; only the holder of the lock persists transcripts.
func TryAcquire(dbPath string) (*Lock, bool, error) {
	lockPath := dbPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, false, fmt.Errorf("singleton: create lock directory: %w", err)
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("singleton: try lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, false, nil
	}
	return &Lock{flock: fl}, true, nil
}

// Release releases the writer lock.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
