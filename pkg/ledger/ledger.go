// Package ledger is the machine-wide record of known indexes, cached
// artifacts and installed packages, kept in <home>/infini.lock.
//
// The ledger is an explicit store object: callers [Open] it once and pass
// it to the resolver and installer. Every mutation takes an exclusive
// advisory lock, reloads the file, applies the change, and writes the
// result through a temp file and rename before releasing the lock, so the
// ledger is durable on return and concurrent processes never interleave a
// read-modify-write cycle.
//
// An artifact may be cached without being installed, but a package is
// never recorded as installed without a cached artifact for the same name
// and version; [Ledger.RecordInstalled] enforces this.
package ledger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/hashing"
)

// FileName is the ledger file inside the ipm home directory.
const FileName = "infini.lock"

// Header is written above every generated lock document.
const Header = "# This file is @generated by IPM.\n# It is not intended for manual editing.\n"

// Index is a registered remote index and the snapshot synced from it.
type Index struct {
	URL      string    `toml:"index"`
	UUID     string    `toml:"uuid"`
	Path     string    `toml:"path"`
	SyncedAt time.Time `toml:"synced_at"`
}

// Artifact is a downloaded and verified archive in the local store.
type Artifact struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Hash      string `toml:"hash"`
	Yggdrasil string `toml:"yggdrasil"`
	Path      string `toml:"path"`
}

// Installed is a package currently installed on this machine.
type Installed struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Hash    string `toml:"hash"`
}

type metadata struct {
	UUID string `toml:"uuid"`
}

type document struct {
	Metadata   metadata    `toml:"metadata"`
	Yggdrasils []Index     `toml:"yggdrasils"`
	Storages   []Artifact  `toml:"storages"`
	Packages   []Installed `toml:"packages"`
}

// Ledger is an open ledger file.
type Ledger struct {
	path string

	mu  sync.RWMutex
	doc document
}

// Open loads the ledger at path, creating it with a fresh machine UUID
// when it does not exist yet.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create %s", filepath.Dir(path))
	}
	l := &Ledger{path: path}
	err := l.update(func(d *document) (bool, error) {
		if d.Metadata.UUID != "" {
			return false, nil
		}
		d.Metadata.UUID = uuid.NewString()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// UUID identifies this machine's ledger.
func (l *Ledger) UUID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.doc.Metadata.UUID
}

// Reload re-reads the ledger from disk.
func (l *Ledger) Reload() error {
	unlock, err := lockFile(l.path + ".flock")
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := read(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.doc = doc
	l.mu.Unlock()
	return nil
}

// update runs fn on a freshly loaded copy of the ledger under the file
// lock and persists the result when fn reports a change. On any error the
// file and the in-memory state stay as they were.
func (l *Ledger) update(fn func(*document) (bool, error)) error {
	unlock, err := lockFile(l.path + ".flock")
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := read(l.path)
	if err != nil {
		return err
	}
	changed, err := fn(&doc)
	if err != nil {
		return err
	}
	if changed {
		if err := write(l.path, doc); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.doc = doc
	l.mu.Unlock()
	return nil
}

func read(path string) (document, error) {
	var doc document
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, errors.Wrap(errors.ErrCodeInternal, err, "read ledger")
	}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return doc, errors.Wrap(errors.ErrCodeMalformedDescriptor, err, "parse ledger %s", path)
	}
	return doc, nil
}

func write(path string, doc document) error {
	var buf bytes.Buffer
	buf.WriteString(Header)
	buf.WriteByte('\n')
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode ledger")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+FileName+".*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write ledger")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeInternal, err, "write ledger")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeInternal, err, "write ledger")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write ledger")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write ledger")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write ledger")
	}
	return nil
}

// =============================================================================
// Indexes
// =============================================================================

// HasIndex reports whether url has been synced on this machine.
func (l *Ledger) HasIndex(url string) bool {
	_, ok := l.Index(url)
	return ok
}

// Index returns the registration of url.
func (l *Ledger) Index(url string) (Index, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ix := range l.doc.Yggdrasils {
		if ix.URL == url {
			return ix, true
		}
	}
	return Index{}, false
}

// Indexes returns every registered index.
func (l *Ledger) Indexes() []Index {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Index(nil), l.doc.Yggdrasils...)
}

// RegisterIndex records that url was synced into the snapshot at path.
// A previous registration of the same URL is replaced.
func (l *Ledger) RegisterIndex(url, id, path string, syncedAt time.Time) error {
	if url == "" || id == "" {
		return errors.New(errors.ErrCodeInvalidInput, "index URL and uuid are required")
	}
	entry := Index{URL: url, UUID: id, Path: path, SyncedAt: syncedAt.UTC().Truncate(time.Second)}
	return l.update(func(d *document) (bool, error) {
		for i, ix := range d.Yggdrasils {
			if ix.URL == url {
				d.Yggdrasils[i] = entry
				return true, nil
			}
		}
		d.Yggdrasils = append(d.Yggdrasils, entry)
		return true, nil
	})
}

// RemoveIndex forgets url. Artifacts fetched from it stay cached.
func (l *Ledger) RemoveIndex(url string) error {
	return l.update(func(d *document) (bool, error) {
		for i, ix := range d.Yggdrasils {
			if ix.URL == url {
				d.Yggdrasils = append(d.Yggdrasils[:i], d.Yggdrasils[i+1:]...)
				return true, nil
			}
		}
		return false, errors.New(errors.ErrCodeNotFound, "index %s is not registered", url)
	})
}

// =============================================================================
// Cached artifacts
// =============================================================================

// HasArtifact reports whether name@version is in the local store.
func (l *Ledger) HasArtifact(name, version string) bool {
	_, ok := l.Artifact(name, version)
	return ok
}

// Artifact returns the store record of name@version.
func (l *Ledger) Artifact(name, version string) (Artifact, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return findArtifact(&l.doc, name, version)
}

// ArtifactPath returns the stored archive path of name@version, or "".
func (l *Ledger) ArtifactPath(name, version string) string {
	a, _ := l.Artifact(name, version)
	return a.Path
}

// Artifacts returns every cached artifact.
func (l *Ledger) Artifacts() []Artifact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Artifact(nil), l.doc.Storages...)
}

// RecordArtifact records a verified archive in the store. An existing
// record for the same name and version is replaced.
func (l *Ledger) RecordArtifact(a Artifact) error {
	if a.Name == "" || a.Version == "" {
		return errors.New(errors.ErrCodeInvalidInput, "artifact name and version are required")
	}
	if !hashing.IsDigest(a.Hash) {
		return errors.New(errors.ErrCodeIntegrity, "artifact %s@%s has no valid digest", a.Name, a.Version)
	}
	a.Hash = hashing.Normalize(a.Hash)
	return l.update(func(d *document) (bool, error) {
		for i, s := range d.Storages {
			if s.Name == a.Name && s.Version == a.Version {
				d.Storages[i] = a
				return true, nil
			}
		}
		d.Storages = append(d.Storages, a)
		return true, nil
	})
}

func findArtifact(d *document, name, version string) (Artifact, bool) {
	for _, s := range d.Storages {
		if s.Name == name && s.Version == version {
			return s, true
		}
	}
	return Artifact{}, false
}

// =============================================================================
// Installed packages
// =============================================================================

// IsInstalled reports whether any version of name is installed.
func (l *Ledger) IsInstalled(name string) bool {
	_, ok := l.Installed(name)
	return ok
}

// Installed returns the installed record of name.
func (l *Ledger) Installed(name string) (Installed, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.doc.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Installed{}, false
}

// InstalledPackages returns every installed package.
func (l *Ledger) InstalledPackages() []Installed {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Installed(nil), l.doc.Packages...)
}

// RecordInstalled marks name@version as installed, replacing any other
// installed version of name. The artifact must already be cached; the
// recorded hash is the one from the store.
func (l *Ledger) RecordInstalled(name, version string) error {
	return l.update(func(d *document) (bool, error) {
		a, ok := findArtifact(d, name, version)
		if !ok {
			return false, errors.New(errors.ErrCodeNotFound,
				"cannot install %s@%s: artifact was never fetched and verified", name, version)
		}
		entry := Installed{Name: name, Version: version, Hash: a.Hash}
		for i, p := range d.Packages {
			if p.Name == name {
				d.Packages[i] = entry
				return true, nil
			}
		}
		d.Packages = append(d.Packages, entry)
		return true, nil
	})
}

// RemoveInstalled drops the installed record of name. The cached artifact
// is kept.
func (l *Ledger) RemoveInstalled(name string) error {
	return l.update(func(d *document) (bool, error) {
		for i, p := range d.Packages {
			if p.Name == name {
				d.Packages = append(d.Packages[:i], d.Packages[i+1:]...)
				return true, nil
			}
		}
		return false, errors.New(errors.ErrCodeNotFound, "%s is not installed", name)
	})
}

// String summarizes the ledger for debug logging.
func (l *Ledger) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fmt.Sprintf("ledger %s: %d indexes, %d artifacts, %d installed",
		l.path, len(l.doc.Yggdrasils), len(l.doc.Storages), len(l.doc.Packages))
}
