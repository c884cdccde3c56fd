//go:build !unix

package ledger

import "sync"

var processLock sync.Mutex

// lockFile serializes ledger updates within this process only; there is
// no advisory file lock on this platform.
func lockFile(string) (func(), error) {
	processLock.Lock()
	return processLock.Unlock, nil
}
