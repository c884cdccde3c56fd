// Package lockfile derives and persists the project lock, infini.lock at
// the project root.
//
// The lock is a derived artifact: it is rebuilt from the descriptor and a
// resolved set every time resolution runs, never patched. Entries keep
// resolution order, so re-deriving from the same inputs yields the same
// bytes.
package lockfile

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/ledger"
	"github.com/matzehuels/ipm/pkg/project"
	"github.com/matzehuels/ipm/pkg/resolve"
)

// FileName is the project lock file.
const FileName = "infini.lock"

// Metadata is the descriptor subset recorded in the lock.
type Metadata struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description,omitempty"`
	License     string `toml:"license,omitempty"`
}

// Package is one resolved entry: a local path, or a remote distribution.
type Package struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Path      string `toml:"path,omitempty"`
	Yggdrasil string `toml:"yggdrasil,omitempty"`
	URL       string `toml:"url,omitempty"`
	Hash      string `toml:"hash,omitempty"`
}

// Lock is a project lock document.
type Lock struct {
	Metadata Metadata  `toml:"metadata"`
	Packages []Package `toml:"packages"`
}

// Derive builds the lock of p from a resolved set. It does no I/O.
func Derive(p *project.Project, set resolve.Set) *Lock {
	l := &Lock{
		Metadata: Metadata{
			Name:        p.Metadata.Name,
			Version:     p.Metadata.Version,
			Description: p.Metadata.Description,
			License:     p.Metadata.License,
		},
		Packages: make([]Package, 0, len(set)),
	}
	for _, r := range set {
		l.Packages = append(l.Packages, Package{
			Name:      r.Name,
			Version:   r.Version,
			Path:      r.Path,
			Yggdrasil: r.Index,
			URL:       r.URL,
			Hash:      r.Hash,
		})
	}
	return l
}

// Set converts the lock back into a resolved set, in lock order.
func (l *Lock) Set() resolve.Set {
	set := make(resolve.Set, 0, len(l.Packages))
	for _, p := range l.Packages {
		set = append(set, resolve.Resolved{
			Name:    p.Name,
			Version: p.Version,
			Path:    p.Path,
			Index:   p.Yggdrasil,
			URL:     p.URL,
			Hash:    p.Hash,
		})
	}
	return set
}

// Marshal renders the lock with its generated-file header.
func (l *Lock) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(ledger.Header)
	buf.WriteByte('\n')
	if err := toml.NewEncoder(&buf).Encode(l); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode lock")
	}
	return buf.Bytes(), nil
}

// Persist writes the lock into dir, replacing any previous lock in one
// rename. It reports whether the file content changed.
func (l *Lock) Persist(dir string) (bool, error) {
	data, err := l.Marshal()
	if err != nil {
		return false, err
	}
	path := filepath.Join(dir, FileName)
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, data) {
		return false, nil
	}

	tmp, err := os.CreateTemp(dir, "."+FileName+".*")
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err, "write lock")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, errors.Wrap(errors.ErrCodeInternal, err, "write lock")
	}
	if err := tmp.Close(); err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err, "write lock")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err, "write lock")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err, "write lock")
	}
	return true, nil
}

// Load reads dir/infini.lock. A missing lock is NOT_FOUND.
func Load(dir string) (*Lock, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "%s does not exist, run `ipm lock` first", path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "read %s", path)
	}
	var l Lock
	if _, err := toml.Decode(string(data), &l); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedDescriptor, err, "parse %s", path)
	}
	return &l, nil
}
