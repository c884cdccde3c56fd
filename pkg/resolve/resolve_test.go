package resolve

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/project"
	"github.com/matzehuels/ipm/pkg/yggdrasil"
)

const (
	mainIndex  = "https://ygg.example.org/"
	otherIndex = "https://other.example.org/"
)

// fakeIndexes serves parsed snapshots and counts Obtain calls per URL.
type fakeIndexes struct {
	snaps map[string]*yggdrasil.Snapshot
	calls map[string]int
}

func (f *fakeIndexes) Obtain(_ context.Context, url string, _ bool) (*yggdrasil.Snapshot, error) {
	f.calls[url]++
	snap, ok := f.snaps[url]
	if !ok {
		return nil, errors.New(errors.ErrCodeNetwork, "no such index %s", url)
	}
	return snap, nil
}

// pkg describes one distribution: name@version plus inline requirements.
type pkg struct {
	name, version string
	requires      string // TOML inline table body, e.g. `b = "1.0.0"`
}

func catalog(t *testing.T, url string, pkgs ...pkg) *yggdrasil.Snapshot {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "[metadata]\nuuid = %q\n", "uuid-"+strings.TrimSuffix(strings.TrimPrefix(url, "https://"), "/"))
	for _, p := range pkgs {
		fmt.Fprintf(&b, "\n[[packages.%s.distributions]]\nversion = %q\ndownload_url = \"%s/%s-%s.ipk\"\nhash = \"h-%s-%s\"\n",
			p.name, p.version, p.name, p.name, p.version, p.name, p.version)
		if p.requires != "" {
			fmt.Fprintf(&b, "requirements = { %s }\n", p.requires)
		}
	}
	snap, err := yggdrasil.Parse(url, []byte(b.String()))
	if err != nil {
		t.Fatalf("catalog: %v\n%s", err, b.String())
	}
	return snap
}

func newResolver(snaps ...*yggdrasil.Snapshot) (*Resolver, *fakeIndexes) {
	f := &fakeIndexes{snaps: map[string]*yggdrasil.Snapshot{}, calls: map[string]int{}}
	for _, s := range snaps {
		f.snaps[s.URL] = s
	}
	return &Resolver{
		Indexes: f,
		Default: mainIndex,
		Aliases: map[string]string{"other": otherIndex},
	}, f
}

func pinned(name, version string) project.Requirement {
	return project.Requirement{Name: name, Version: version, Source: project.DefaultIndex{}}
}

func versions(s Set) string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

func TestResolveTransitive(t *testing.T) {
	r, _ := newResolver(catalog(t, mainIndex,
		pkg{"a", "1.0.0", `b = "2.0.0"`},
		pkg{"b", "2.0.0", `c = "*"`},
		pkg{"c", "0.1.0", ""},
	))
	set, err := r.ResolveProject(context.Background(), []project.Requirement{pinned("a", "1.0.0")})
	if err != nil {
		t.Fatal(err)
	}
	if got := versions(set); got != "a@1.0.0 b@2.0.0 c@0.1.0" {
		t.Errorf("resolved = %s", got)
	}
	b, _ := set.Get("b")
	if b.URL != mainIndex+"b/b-2.0.0.ipk" || b.Hash != "h-b-2.0.0" || b.Index != mainIndex {
		t.Errorf("b = %+v", b)
	}
}

func TestResolveCycleTerminates(t *testing.T) {
	r, _ := newResolver(catalog(t, mainIndex,
		pkg{"a", "1.0.0", `b = "1.0.0"`},
		pkg{"b", "1.0.0", `a = "1.0.0"`},
	))
	set, err := r.ResolveProject(context.Background(), []project.Requirement{pinned("a", "1.0.0")})
	if err != nil {
		t.Fatal(err)
	}
	if got := versions(set); got != "a@1.0.0 b@1.0.0" {
		t.Errorf("resolved = %s", got)
	}
}

func TestResolveSelfCycle(t *testing.T) {
	r, _ := newResolver(catalog(t, mainIndex, pkg{"a", "1.0.0", `a = "1.0.0"`}))
	set, err := r.ResolveProject(context.Background(), []project.Requirement{pinned("a", "*")})
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Errorf("resolved = %s", versions(set))
	}
}

// a -> b@1.0 directly, and a -> c -> b@2.0.
func conflictCatalog(t *testing.T) *yggdrasil.Snapshot {
	return catalog(t, mainIndex,
		pkg{"a", "1.0.0", `b = "1.0.0", c = "1.0.0"`},
		pkg{"b", "1.0.0", ""},
		pkg{"b", "2.0.0", ""},
		pkg{"c", "1.0.0", `b = "2.0.0"`},
	)
}

func TestResolveFirstWins(t *testing.T) {
	r, _ := newResolver(conflictCatalog(t))
	set, err := r.ResolveProject(context.Background(), []project.Requirement{pinned("a", "1.0.0")})
	if err != nil {
		t.Fatal(err)
	}
	if got := versions(set); got != "a@1.0.0 b@1.0.0 c@1.0.0" {
		t.Errorf("resolved = %s", got)
	}
}

func TestResolveFollowsWrittenOrder(t *testing.T) {
	// c is listed before b, so c's b@2.0.0 is reached first.
	r, _ := newResolver(catalog(t, mainIndex,
		pkg{"a", "1.0.0", `c = "1.0.0", b = "1.0.0"`},
		pkg{"b", "1.0.0", ""},
		pkg{"b", "2.0.0", ""},
		pkg{"c", "1.0.0", `b = "2.0.0"`},
	))
	set, err := r.ResolveProject(context.Background(), []project.Requirement{pinned("a", "1.0.0")})
	if err != nil {
		t.Fatal(err)
	}
	if got := versions(set); got != "a@1.0.0 c@1.0.0 b@2.0.0" {
		t.Errorf("resolved = %s", got)
	}
}

func TestResolveStrictConflict(t *testing.T) {
	r, _ := newResolver(conflictCatalog(t))
	r.Policy = Strict
	_, err := r.ResolveProject(context.Background(), []project.Requirement{pinned("a", "1.0.0")})
	if !errors.Is(err, errors.ErrCodeVersionConflict) {
		t.Errorf("err = %v, want VERSION_CONFLICT", err)
	}
}

func TestResolveStrictAllowsWildcard(t *testing.T) {
	r, _ := newResolver(catalog(t, mainIndex,
		pkg{"a", "1.0.0", `b = "*"`},
		pkg{"b", "1.0.0", ""},
		pkg{"b", "2.0.0", ""},
	))
	r.Policy = Strict
	set, err := r.ResolveProject(context.Background(), []project.Requirement{pinned("b", "1.0.0"), pinned("a", "1.0.0")})
	if err != nil {
		t.Fatal(err)
	}
	if got := versions(set); got != "b@1.0.0 a@1.0.0" {
		t.Errorf("resolved = %s", got)
	}
}

func TestResolveIdempotent(t *testing.T) {
	r, _ := newResolver(conflictCatalog(t))
	reqs := []project.Requirement{pinned("c", "1.0.0"), pinned("a", "1.0.0")}

	first, err := r.ResolveProject(context.Background(), reqs)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := r.ResolveProject(context.Background(), reqs)
		if err != nil {
			t.Fatal(err)
		}
		if versions(again) != versions(first) {
			t.Fatalf("resolution changed: %s != %s", versions(again), versions(first))
		}
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("entry %d changed: %+v != %+v", i, again[i], first[i])
			}
		}
	}
}

func TestResolveLocalLeaf(t *testing.T) {
	r, f := newResolver(catalog(t, mainIndex, pkg{"a", "1.0.0", ""}))
	reqs := []project.Requirement{
		{Name: "mine", Version: project.Wildcard, Source: project.LocalPath{Path: "../mine"}},
		pinned("a", "1.0.0"),
	}
	set, err := r.ResolveProject(context.Background(), reqs)
	if err != nil {
		t.Fatal(err)
	}
	mine, ok := set.Get("mine")
	if !ok || !mine.IsLocal() || mine.Path != "../mine" || mine.Hash != "" || mine.URL != "" {
		t.Errorf("mine = %+v", mine)
	}
	if len(f.calls) != 1 {
		t.Errorf("local requirement touched an index: %v", f.calls)
	}
}

func TestResolveIndexSources(t *testing.T) {
	r, f := newResolver(
		catalog(t, mainIndex, pkg{"a", "1.0.0", `b = "1.0.0"`}),
		catalog(t, otherIndex,
			pkg{"x", "1.0.0", `b = "1.0.0"`},
			pkg{"b", "1.0.0", ""},
		),
	)
	reqs := []project.Requirement{
		{Name: "x", Version: "1.0.0", Source: project.NamedIndex{Alias: "other"}},
		{Name: "a", Version: "*", Source: project.Registry{IndexURL: mainIndex}},
	}
	set, err := r.ResolveProject(context.Background(), reqs)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := set.Get("b")
	if b.Index != otherIndex {
		t.Errorf("b resolved against %s, want the parent's index %s", b.Index, otherIndex)
	}
	for url, n := range f.calls {
		if n != 1 {
			t.Errorf("%s obtained %d times, want once per run", url, n)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	r, _ := newResolver(catalog(t, mainIndex, pkg{"a", "1.0.0", `ghost = "1.0.0"`}))
	tests := []struct {
		name string
		req  project.Requirement
		code errors.Code
	}{
		{"unknown alias", project.Requirement{Name: "a", Version: "*", Source: project.NamedIndex{Alias: "nope"}}, errors.ErrCodeUnknownIndex},
		{"missing version", pinned("a", "9.0.0"), errors.ErrCodeNotFound},
		{"missing transitive", pinned("a", "1.0.0"), errors.ErrCodeNotFound},
		{"unreachable index", project.Requirement{Name: "a", Version: "*", Source: project.Registry{IndexURL: "https://down.example.org/"}}, errors.ErrCodeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ResolveProject(context.Background(), []project.Requirement{tt.req})
			if !errors.Is(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": FirstWins, "first-wins": FirstWins, "STRICT": Strict} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("newest"); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("ParsePolicy(newest) error = %v", err)
	}
}
