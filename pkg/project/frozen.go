package project

import (
	"path/filepath"
	"strings"

	"github.com/matzehuels/ipm/pkg/archive"
	"github.com/matzehuels/ipm/pkg/hashing"
)

// FrozenPackage describes a built archive together with its digest.
type FrozenPackage struct {
	Name    string
	Version string
	Path    string
	Hash    string
}

// Freeze builds the project at dir into dist/<name>-<version>.ipk.
func Freeze(p *Project) (*FrozenPackage, error) {
	path, digest, err := archive.Build(p.Dir, p.Metadata.Name, p.Metadata.Version)
	if err != nil {
		return nil, err
	}
	return &FrozenPackage{
		Name:    p.Metadata.Name,
		Version: p.Metadata.Version,
		Path:    path,
		Hash:    digest,
	}, nil
}

// OpenFrozen describes an existing archive, reading its digest from the
// detached .hash file next to it.
func OpenFrozen(path string) (*FrozenPackage, error) {
	digest, err := hashing.ReadHashFile(path)
	if err != nil {
		return nil, err
	}
	name, version := splitFileName(filepath.Base(path))
	return &FrozenPackage{Name: name, Version: version, Path: path, Hash: digest}, nil
}

// HashPath is the detached digest file of the archive.
func (f *FrozenPackage) HashPath() string {
	return f.Path + hashing.HashSuffix
}

// Verify recomputes the archive digest and compares it to Hash.
func (f *FrozenPackage) Verify() (bool, error) {
	return hashing.VerifyFile(f.Path, f.Hash)
}

// splitFileName parses "<name>-<version>.ipk". Package names may contain
// dashes, so the version is everything after the last one.
func splitFileName(base string) (name, version string) {
	base = strings.TrimSuffix(base, archive.Extension)
	i := strings.LastIndex(base, "-")
	if i <= 0 {
		return base, ""
	}
	return base[:i], base[i+1:]
}
