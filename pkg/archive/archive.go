package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"

	"github.com/matzehuels/ipm/pkg/errors"
)

// Extension is the file extension of packed rule packages.
const Extension = ".ipk"

// Pack archives every entry under dir and returns the compressed bytes.
func Pack(dir string) ([]byte, error) {
	var buf bytes.Buffer
	if err := PackTo(&buf, dir); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackTo writes the archive of dir to w.
func PackTo(w io.Writer, dir string) error {
	return packFiltered(w, dir, nil)
}

// packFiltered archives dir, keeping only top-level entries accepted by keep.
// A nil keep accepts everything.
func packFiltered(w io.Writer, dir string, keep func(top string) bool) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(errors.ErrCodeArchive, "%s is not a directory", dir)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if keep != nil {
			top, _, _ := strings.Cut(name, "/")
			if !keep(top) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		return addEntry(tw, root, p, name)
	})
	if err != nil {
		tw.Close()
		gz.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func addEntry(tw *tar.Writer, root, p, name string) error {
	info, err := os.Lstat(p)
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		link, err = os.Readlink(p)
		if err != nil {
			return err
		}
		if err := checkLink(root, name, filepath.ToSlash(link)); err != nil {
			return err
		}
	} else if !info.Mode().IsRegular() && !info.IsDir() {
		return errors.New(errors.ErrCodeArchive, "unsupported file type: %s", name)
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uname, hdr.Gname = "", ""
	hdr.Uid, hdr.Gid = 0, 0

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Unpack extracts the archive in data into dest, creating dest if needed.
func Unpack(data []byte, dest string) error {
	return UnpackFrom(bytes.NewReader(data), dest)
}

// UnpackFile extracts the archive at path into dest.
func UnpackFile(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return UnpackFrom(f, dest)
}

// UnpackFrom extracts the archive read from r into dest.
func UnpackFrom(r io.Reader, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(parent, ".ipk-unpack-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := extract(r, staging); err != nil {
		return err
	}
	return moveInto(staging, dest)
}

func extract(r io.Reader, root string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(errors.ErrCodeArchive, err, "corrupt archive")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(errors.ErrCodeArchive, err, "corrupt archive")
		}
		if err := extractEntry(tr, hdr, root); err != nil {
			return err
		}
	}
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, root string) error {
	if hdr.Typeflag == tar.TypeXGlobalHeader {
		return nil
	}

	name, err := cleanName(hdr.Name)
	if err != nil {
		return err
	}
	if name == "." {
		return nil
	}

	target, err := safeTarget(root, name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(hdr))
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return errors.Wrap(errors.ErrCodeArchive, err, "corrupt archive entry %s", name)
		}
		return f.Close()

	case tar.TypeSymlink:
		if err := checkLink(root, name, hdr.Linkname); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)

	default:
		return errors.New(errors.ErrCodeArchive, "unsupported entry type %q for %s", hdr.Typeflag, name)
	}
}

// cleanName normalizes an entry name and rejects names that leave the root.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", errors.New(errors.ErrCodeArchive, "empty entry name")
	}
	if strings.Contains(name, "\\") || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", errors.New(errors.ErrCodeArchive, "absolute or invalid entry path: %s", name)
	}
	cleaned := path.Clean(name)
	if escapes(cleaned) {
		return "", errors.New(errors.ErrCodeArchive, "entry escapes destination: %s", name)
	}
	return cleaned, nil
}

// safeTarget joins name onto root and rejects the entry when any
// already-extracted symlink would redirect it.
func safeTarget(root, name string) (string, error) {
	want := filepath.Join(root, filepath.FromSlash(name))
	got, err := securejoin.SecureJoin(root, filepath.FromSlash(name))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeArchive, err, "resolve entry %s", name)
	}
	if got != want {
		return "", errors.New(errors.ErrCodeArchive, "entry %s is redirected through a symlink", name)
	}
	return want, nil
}

// checkLink rejects symlink targets that resolve outside the archive root.
// A ".." in the target may only step out of a real directory that is
// already extracted; stepping back through a symlink, or through a name
// that does not exist yet and could later become one, is refused.
func checkLink(root, name, link string) error {
	if link == "" || strings.HasPrefix(link, "/") || filepath.IsAbs(link) {
		return errors.New(errors.ErrCodeArchive, "symlink %s has absolute target %q", name, link)
	}

	var stack []string
	if dir := path.Dir(name); dir != "." {
		stack = strings.Split(dir, "/")
	}
	linked := false
	for _, part := range strings.Split(link, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return errors.New(errors.ErrCodeArchive, "symlink %s escapes destination: %q", name, link)
			}
			if linked || !isRealDir(root, stack) {
				return errors.New(errors.ErrCodeArchive, "symlink %s climbs out of a link or missing directory: %q", name, link)
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, part)
			if fi, err := os.Lstat(filepath.Join(root, filepath.Join(stack...))); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
				linked = true
			}
		}
	}
	return nil
}

func isRealDir(root string, parts []string) bool {
	fi, err := os.Lstat(filepath.Join(root, filepath.Join(parts...)))
	return err == nil && fi.IsDir()
}

func escapes(cleaned string) bool {
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

func fileMode(hdr *tar.Header) os.FileMode {
	return os.FileMode(hdr.Mode&0o777) | 0o600
}

// moveInto moves the extracted tree at src into dest. A missing dest is
// created with a single rename; an existing one is merged entry by entry,
// replacing files of the same name.
func moveInto(src, dest string) error {
	if _, err := os.Lstat(dest); os.IsNotExist(err) {
		if err := os.Rename(src, dest); err != nil {
			return err
		}
		return os.Chmod(dest, 0o755)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dest, e.Name())
		existing, err := os.Lstat(to)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return err
		case existing.IsDir() && e.IsDir():
			if err := moveInto(from, to); err != nil {
				return err
			}
			continue
		default:
			if err := os.RemoveAll(to); err != nil {
				return err
			}
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("move %s: %w", e.Name(), err)
		}
	}
	return nil
}
