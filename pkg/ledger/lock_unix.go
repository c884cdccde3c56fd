//go:build unix

package ledger

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/matzehuels/ipm/pkg/errors"
)

// lockFile takes an exclusive advisory lock on path, blocking until it is
// available. The returned func releases it.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "open lock %s", path)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "lock %s", path)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
