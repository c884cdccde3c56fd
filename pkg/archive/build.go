package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/hashing"
)

// DescriptorFile is the name of the package descriptor at an archive root.
const DescriptorFile = "infini.toml"

// SourceDir is the directory holding a package's rule sources.
const SourceDir = "src"

// FileName returns the canonical archive file name for a package.
func FileName(name, version string) string {
	return fmt.Sprintf("%s-%s%s", name, version, Extension)
}

// Build packs the descriptor and src/ tree of the project at root into
// root/dist/<name>-<version>.ipk and writes the detached .hash file next to
// it. It returns the archive path and its digest.
func Build(root, name, version string) (path, digest string, err error) {
	if _, err := os.Stat(filepath.Join(root, DescriptorFile)); err != nil {
		return "", "", errors.NotInitialized(root)
	}
	if err := errors.ValidatePackageName(name); err != nil {
		return "", "", err
	}

	dist := filepath.Join(root, "dist")
	if err := os.MkdirAll(dist, 0o755); err != nil {
		return "", "", err
	}
	path = filepath.Join(dist, FileName(name, version))

	tmp, err := os.CreateTemp(dist, ".build-*"+Extension)
	if err != nil {
		return "", "", err
	}
	defer os.Remove(tmp.Name())

	keep := func(top string) bool { return top == DescriptorFile || top == SourceDir }
	if err := packFiltered(tmp, root, keep); err != nil {
		tmp.Close()
		return "", "", err
	}
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", "", err
	}

	digest, err = hashing.WriteHashFile(path)
	if err != nil {
		return "", "", err
	}
	return path, digest, nil
}

// FindRoot returns the directory inside an unpacked tree that holds the
// package descriptor: dir itself, or its single top-level subdirectory.
func FindRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, DescriptorFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		sub := filepath.Join(dir, entries[0].Name())
		if _, err := os.Stat(filepath.Join(sub, DescriptorFile)); err == nil {
			return sub, nil
		}
	}
	return "", errors.New(errors.ErrCodeArchive, "archive has no %s", DescriptorFile)
}
