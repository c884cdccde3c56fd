package yggdrasil

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/matzehuels/ipm/pkg/errors"
)

// ErrExpired is returned by [Store.Load] when a snapshot exists on disk but
// is older than the store's TTL. The stale snapshot is still returned so a
// caller may decide to use it anyway.
var ErrExpired = stderrors.New("index snapshot expired")

// Store keeps index snapshots under dir/<uuid>/index.toml.
//
// Freshness is judged by file modification time; a TTL of 0 means
// snapshots never expire. Saving a snapshot resets its age.
type Store struct {
	dir string
	ttl time.Duration
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create %s", dir)
	}
	return &Store{dir: dir, ttl: ttl}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string { return s.dir }

// TTL returns how long a saved snapshot counts as fresh.
func (s *Store) TTL() time.Duration { return s.ttl }

// Path returns where the snapshot with the given uuid is kept.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id, DocumentName)
}

// Save writes the snapshot and returns its path.
func (s *Store) Save(snap *Snapshot) (string, error) {
	if err := errors.ValidatePackageName(snap.UUID); err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidIndex, err, "unusable index uuid %q", snap.UUID)
	}
	path := s.Path(snap.UUID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "create snapshot dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+DocumentName+".*")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "save snapshot")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(snap.Bytes()); err != nil {
		tmp.Close()
		return "", errors.Wrap(errors.ErrCodeInternal, err, "save snapshot")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "save snapshot")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "save snapshot")
	}
	return path, nil
}

// Load reads the snapshot with the given uuid, attributing it to
// indexURL.
//
// Return values:
//   - (snap, true, nil): fresh snapshot
//   - (nil, false, nil): nothing stored under id
//   - (snap, true, ErrExpired): stored but older than the TTL
//   - (nil, false, err): unreadable or invalid document
func (s *Store) Load(id, indexURL string) (*Snapshot, bool, error) {
	path := s.Path(id)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeInternal, err, "stat snapshot")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeInternal, err, "read snapshot")
	}
	snap, err := Parse(indexURL, data)
	if err != nil {
		return nil, false, err
	}
	if snap.UUID != id {
		return nil, false, errors.New(errors.ErrCodeInvalidIndex, "snapshot %s carries uuid %s", path, snap.UUID)
	}
	if s.ttl > 0 && time.Since(info.ModTime()) > s.ttl {
		return snap, true, ErrExpired
	}
	return snap, true, nil
}
