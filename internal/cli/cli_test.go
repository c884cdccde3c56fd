package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/ipm/pkg/archive"
	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/hashing"
	"github.com/matzehuels/ipm/pkg/project"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	prev := stdout
	stdout = &out
	t.Cleanup(func() { stdout = prev })

	root := New(io.Discard, LogInfo).RootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// coinIndex serves an index with a single package, coin 1.0.0.
func coinIndex(t *testing.T) *httptest.Server {
	t.Helper()
	src := t.TempDir()
	descriptor := "[project]\nname = \"coin\"\nversion = \"1.0.0\"\n"
	if err := os.WriteFile(filepath.Join(src, project.FileName), []byte(descriptor), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := archive.Pack(src)
	if err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf(`[metadata]
uuid = "9a1d6c7e-0b55-4f0e-8f60-2d3b4c5a6e7f"

[packages.coin]
latestVersion = "1.0.0"

[[packages.coin.distributions]]
version = "1.0.0"
download_url = "coin-1.0.0.ipk"
hash = %q
`, hashing.DigestBytes(data))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.toml":
			io.WriteString(w, doc)
		case "/coin-1.0.0.ipk":
			w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitAndTag(t *testing.T) {
	dir := t.TempDir()

	if _, err := execute(t, "-C", dir, "init", "--name", "campaign", "--author", "gm"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "-C", dir, "init", "--name", "campaign"); !errors.Is(err, errors.ErrCodeInvalidPath) {
		t.Errorf("second init error = %v, want INVALID_PATH", err)
	}
	if _, err := execute(t, "-C", dir, "tag", "0.2.0"); err != nil {
		t.Fatalf("tag: %v", err)
	}

	p, err := project.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "campaign" || p.Version() != "0.2.0" {
		t.Errorf("project = %s %s, want campaign 0.2.0", p.Name(), p.Version())
	}
	if len(p.Metadata.Authors) != 1 || p.Metadata.Authors[0].Name != "gm" {
		t.Errorf("authors = %+v", p.Metadata.Authors)
	}
}

func TestRequireAndSync(t *testing.T) {
	srv := coinIndex(t)
	home, dir := t.TempDir(), t.TempDir()
	global := []string{"--home", home, "--index", srv.URL + "/", "-C", dir}

	if _, err := execute(t, append(global, "init", "--name", "campaign")...); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := execute(t, append(global, "require", "coin")...)
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if !strings.Contains(out, "coin") {
		t.Errorf("require output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "infini.lock")); err != nil {
		t.Errorf("require did not write the lock: %v", err)
	}

	if _, err := execute(t, append(global, "sync")...); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "packages", "coin", project.FileName)); err != nil {
		t.Errorf("coin not installed: %v", err)
	}

	out, err = execute(t, append(global, "ledger", "list")...)
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	if !strings.Contains(out, srv.URL) || !strings.Contains(out, "coin") {
		t.Errorf("ledger list output = %q", out)
	}
}

func TestRequireUnknownPackage(t *testing.T) {
	srv := coinIndex(t)
	home, dir := t.TempDir(), t.TempDir()
	global := []string{"--home", home, "--index", srv.URL + "/", "-C", dir}

	if _, err := execute(t, append(global, "init", "--name", "campaign")...); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, append(global, "require", "ghost")...); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("require ghost error = %v, want NOT_FOUND", err)
	}
}

func TestLedgerPath(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "--home", home, "ledger", "path")
	if err != nil {
		t.Fatalf("ledger path: %v", err)
	}
	if want := filepath.Join(home, "infini.lock") + "\n"; out != want {
		t.Errorf("ledger path = %q, want %q", out, want)
	}
}

func TestCompletion(t *testing.T) {
	out, err := execute(t, "completion", "bash")
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if !strings.Contains(out, "ipm") {
		t.Error("bash completion should mention the ipm command")
	}
}
