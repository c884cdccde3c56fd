package install

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/ipm/pkg/archive"
	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/hashing"
	"github.com/matzehuels/ipm/pkg/httputil"
	"github.com/matzehuels/ipm/pkg/ledger"
	"github.com/matzehuels/ipm/pkg/resolve"
)

// packageArchive builds the .ipk bytes of a minimal package.
func packageArchive(t *testing.T, name, version string) []byte {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"infini.toml":     "[project]\nname = \"" + name + "\"\nversion = \"" + version + "\"\n",
		"src/__init__.py": "# " + name + " " + version + "\n",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	data, err := archive.Pack(dir)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// artifactServer serves path -> body and counts archive downloads.
type artifactServer struct {
	*httptest.Server
	files     map[string][]byte
	downloads atomic.Int32
}

func newArtifactServer(t *testing.T) *artifactServer {
	s := &artifactServer{files: map[string][]byte{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, archive.Extension) {
			s.downloads.Add(1)
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

// publish serves the archive of name@version and returns its resolved entry.
func (s *artifactServer) publish(t *testing.T, name, version string) resolve.Resolved {
	data := packageArchive(t, name, version)
	path := "/" + name + "/" + archive.FileName(name, version)
	s.files[path] = data
	s.files[path+hashing.HashSuffix] = []byte(hashing.DigestBytes(data) + "\n")
	return resolve.Resolved{
		Name:    name,
		Version: version,
		Index:   s.URL + "/",
		URL:     s.URL + path,
		Hash:    hashing.DigestBytes(data),
	}
}

type fixture struct {
	installer *Installer
	ledger    *ledger.Ledger
	root      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	home := t.TempDir()
	l, err := ledger.Open(filepath.Join(home, ledger.FileName))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		installer: &Installer{
			Fetcher:  httputil.NewClient(httputil.ClientOptions{RetryDelay: time.Millisecond}),
			Ledger:   l,
			StoreDir: filepath.Join(home, "storage"),
			Logger:   log.New(os.Stderr),
		},
		ledger: l,
		root:   filepath.Join(t.TempDir(), "packages"),
	}
}

func TestFreshInstall(t *testing.T) {
	srv := newArtifactServer(t)
	f := newFixture(t)
	foo := srv.publish(t, "foo", "1.2.0")

	report, err := f.installer.Install(context.Background(), f.root, resolve.Set{foo}, Options{})
	if err != nil {
		t.Fatalf("Install: %v\n%s", err, report)
	}
	out, _ := report.Outcome("foo")
	if out.Stage != Registered {
		t.Errorf("stage = %s, want %s", out.Stage, Registered)
	}
	if !f.ledger.HasArtifact("foo", "1.2.0") || !f.ledger.IsInstalled("foo") {
		t.Error("ledger does not record foo")
	}
	if _, err := os.Stat(filepath.Join(f.root, "foo", archive.DescriptorFile)); err != nil {
		t.Errorf("descriptor not unpacked: %v", err)
	}

	stored := f.ledger.ArtifactPath("foo", "1.2.0")
	if stored != StorePath(f.installer.StoreDir, foo.Hash, "foo", "1.2.0") {
		t.Errorf("artifact stored at %s", stored)
	}
	if ok, err := hashing.VerifyFile(stored, foo.Hash); err != nil || !ok {
		t.Errorf("stored artifact does not verify: %v", err)
	}

	entries, _ := os.ReadDir(f.root)
	if len(entries) != 1 {
		t.Errorf("staging directories left behind: %v", entries)
	}
	if left, _ := filepath.Glob(filepath.Join(f.installer.StoreDir, ".download-*")); len(left) != 0 {
		t.Errorf("download dirs left behind: %v", left)
	}
}

func TestInstallIntegrityFailure(t *testing.T) {
	srv := newArtifactServer(t)
	f := newFixture(t)
	foo := srv.publish(t, "foo", "1.2.0")
	foo.Hash = hashing.DigestBytes([]byte("something else"))

	before, _ := os.ReadFile(f.ledger.Path())
	report, err := f.installer.Install(context.Background(), f.root, resolve.Set{foo}, Options{})
	if !errors.Is(err, errors.ErrCodeIntegrity) {
		t.Fatalf("Install() error = %v, want INTEGRITY", err)
	}
	out, _ := report.Outcome("foo")
	if out.Stage != Failed || out.FailedAt != Downloaded {
		t.Errorf("outcome = %s", out)
	}

	after, _ := os.ReadFile(f.ledger.Path())
	if string(before) != string(after) {
		t.Error("ledger changed after integrity failure")
	}
	if _, err := os.Stat(f.root); !os.IsNotExist(err) {
		t.Errorf("package directory created: %v", err)
	}
	if left, _ := filepath.Glob(filepath.Join(f.installer.StoreDir, "*", "*")); len(left) != 0 {
		t.Errorf("store not clean: %v", left)
	}
}

func TestInstallFetchesDetachedHash(t *testing.T) {
	srv := newArtifactServer(t)
	f := newFixture(t)
	foo := srv.publish(t, "foo", "1.0.0")
	foo.Hash = ""

	if _, err := f.installer.Install(context.Background(), f.root, resolve.Set{foo}, Options{}); err != nil {
		t.Fatal(err)
	}
	a, ok := f.ledger.Artifact("foo", "1.0.0")
	if !ok || !hashing.IsDigest(a.Hash) {
		t.Errorf("artifact = %+v", a)
	}
}

func TestInstallSkipsAndReusesStore(t *testing.T) {
	srv := newArtifactServer(t)
	f := newFixture(t)
	foo := srv.publish(t, "foo", "1.0.0")
	bar := srv.publish(t, "bar", "2.0.0")
	set := resolve.Set{foo, bar, {Name: "mine", Version: "*", Path: "../mine"}}
	ctx := context.Background()

	if _, err := f.installer.Install(ctx, f.root, set, Options{}); err != nil {
		t.Fatal(err)
	}
	report, err := f.installer.Install(ctx, f.root, set, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n := report.Count(Skipped); n != 3 {
		t.Errorf("second run skipped %d packages, want 3:\n%s", n, report)
	}
	mine, _ := report.Outcome("mine")
	if !mine.Local {
		t.Errorf("mine = %s", mine)
	}

	// A fresh project directory installs from the local store.
	other := filepath.Join(t.TempDir(), "packages")
	report, err = f.installer.Install(ctx, other, set, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out, _ := report.Outcome("foo"); !out.Cached || out.Stage != Registered {
		t.Errorf("foo = %s (cached %v)", out, out.Cached)
	}
	if got := srv.downloads.Load(); got != 2 {
		t.Errorf("archives downloaded %d times, want 2", got)
	}
}

func TestInstallAlreadyInstalled(t *testing.T) {
	srv := newArtifactServer(t)
	f := newFixture(t)
	v1 := srv.publish(t, "foo", "1.0.0")
	v2 := srv.publish(t, "foo", "2.0.0")
	ctx := context.Background()

	if _, err := f.installer.Install(ctx, f.root, resolve.Set{v1}, Options{}); err != nil {
		t.Fatal(err)
	}

	_, err := f.installer.Install(ctx, f.root, resolve.Set{v2}, Options{})
	if !errors.Is(err, errors.ErrCodeAlreadyInstalled) {
		t.Fatalf("Install() error = %v, want ALREADY_INSTALLED", err)
	}
	if got := srv.downloads.Load(); got != 1 {
		t.Errorf("conflict should be detected before downloading, got %d downloads", got)
	}

	if _, err := f.installer.Install(ctx, f.root, resolve.Set{v2}, Options{Upgrade: true}); err != nil {
		t.Fatalf("Install with Upgrade: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(f.root, "foo", "src", "__init__.py"))
	if err != nil || !strings.Contains(string(data), "2.0.0") {
		t.Errorf("upgraded package content = %q, %v", data, err)
	}
	if got, _ := f.ledger.Installed("foo"); got.Version != "2.0.0" {
		t.Errorf("ledger installed = %+v", got)
	}
	entries, _ := os.ReadDir(f.root)
	if len(entries) != 1 {
		t.Errorf("old installation not cleaned up: %v", entries)
	}
}

func TestInstallAbortsBeforeUnpacking(t *testing.T) {
	srv := newArtifactServer(t)
	f := newFixture(t)
	good := srv.publish(t, "good", "1.0.0")
	missing := resolve.Resolved{Name: "gone", Version: "1.0.0", URL: srv.URL + "/gone/gone-1.0.0.ipk", Hash: good.Hash}

	_, err := f.installer.Install(context.Background(), f.root, resolve.Set{good, missing}, Options{})
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("Install() error = %v, want NOT_FOUND", err)
	}
	if f.ledger.IsInstalled("good") {
		t.Error("good was installed although the run failed in phase 1")
	}
	if _, err := os.Stat(filepath.Join(f.root, "good")); !os.IsNotExist(err) {
		t.Error("good was unpacked although the run failed in phase 1")
	}
}
