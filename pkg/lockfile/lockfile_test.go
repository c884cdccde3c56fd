package lockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/ledger"
	"github.com/matzehuels/ipm/pkg/project"
	"github.com/matzehuels/ipm/pkg/resolve"
)

func testProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.Parse(t.TempDir(), "[project]\nname = \"dice\"\nversion = \"0.1.0\"\nlicense = \"MIT\"\n")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func testSet() resolve.Set {
	return resolve.Set{
		{Name: "zeta", Version: "1.0.0", Index: "https://ygg.example.org/", URL: "https://ygg.example.org/zeta/zeta-1.0.0.ipk", Hash: "aa"},
		{Name: "mine", Version: "*", Path: "../mine"},
		{Name: "alpha", Version: "2.0.0", Index: "https://ygg.example.org/", URL: "https://ygg.example.org/alpha/alpha-2.0.0.ipk", Hash: "bb"},
	}
}

func TestDeriveKeepsResolutionOrder(t *testing.T) {
	l := Derive(testProject(t), testSet())
	var names []string
	for _, p := range l.Packages {
		names = append(names, p.Name)
	}
	if got := strings.Join(names, ","); got != "zeta,mine,alpha" {
		t.Errorf("lock order = %s", got)
	}
	if l.Metadata.Name != "dice" || l.Metadata.License != "MIT" {
		t.Errorf("metadata = %+v", l.Metadata)
	}
	if l.Packages[1].Hash != "" || l.Packages[1].Path != "../mine" {
		t.Errorf("local entry = %+v", l.Packages[1])
	}
}

func TestMarshalDeterministic(t *testing.T) {
	p := testProject(t)
	first, err := Derive(p, testSet()).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(first, []byte(ledger.Header)) {
		t.Errorf("lock missing header:\n%s", first)
	}
	for range 5 {
		again, err := Derive(p, testSet()).Marshal()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("re-derived lock differs:\n%s\n---\n%s", first, again)
		}
	}
}

func TestPersistLoad(t *testing.T) {
	dir := t.TempDir()
	l := Derive(testProject(t), testSet())

	changed, err := l.Persist(dir)
	if err != nil || !changed {
		t.Fatalf("Persist() = %v, %v", changed, err)
	}
	changed, err = l.Persist(dir)
	if err != nil || changed {
		t.Errorf("second Persist() = %v, %v; want unchanged", changed, err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	set := loaded.Set()
	want := testSet()
	if len(set) != len(want) {
		t.Fatalf("Set() = %v", set)
	}
	for i := range want {
		if set[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, set[i], want[i])
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Persist left temp files: %v", entries)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("Load missing = %v, want NOT_FOUND", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[[packages]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, errors.ErrCodeMalformedDescriptor) {
		t.Errorf("Load malformed = %v, want MALFORMED_DESCRIPTOR", err)
	}
}
