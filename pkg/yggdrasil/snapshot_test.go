package yggdrasil

import (
	"testing"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/project"
)

const catalog = `[metadata]
uuid = "5b0f6a8e-1c7e-4e55-9d3a-2f1c9a7d0b11"
host = "ygg.example.org"

[packages.dice]
latestVersion = "1.2.0"

[[packages.dice.distributions]]
version = "1.0.0"
download_url = "https://cdn.example.org/dice-1.0.0.ipk"
hash = "aa"

[[packages.dice.distributions]]
version = "1.2.0"
download_url = "dice/dice-1.2.0.ipk"
hash = "bb"
requirements = { coin = "0.3.0", cards = { version = "2.0.0", index = "https://other.example.org/" } }

[[packages.coin.distributions]]
version = "0.2.0"
download_url = "/coin/coin-0.2.0.ipk"
hash = "cc"

[[packages.coin.distributions]]
version = "0.10.0"
download_url = "/coin/coin-0.10.0.ipk"
hash = "dd"
`

func mustParse(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := Parse("https://ygg.example.org/", []byte(catalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return snap
}

func TestParse(t *testing.T) {
	snap := mustParse(t)
	if snap.UUID != "5b0f6a8e-1c7e-4e55-9d3a-2f1c9a7d0b11" || snap.Host != "ygg.example.org" {
		t.Errorf("metadata = %q %q", snap.UUID, snap.Host)
	}
	if names := snap.Names(); len(names) != 2 || names[0] != "coin" || names[1] != "dice" {
		t.Errorf("Names() = %v", names)
	}
	if string(snap.Bytes()) != catalog {
		t.Error("Bytes() should return the source document")
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"html", "<html><body>hello</body></html>"},
		{"no metadata", "[packages.dice]\nlatestVersion = \"1.0.0\"\n"},
		{"empty uuid", "[metadata]\nuuid = \"  \"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("https://x.example.org/", []byte(tt.doc))
			if !errors.Is(err, errors.ErrCodeInvalidIndex) {
				t.Errorf("Parse() error = %v, want INVALID_INDEX", err)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	snap := mustParse(t)
	tests := []struct {
		name, pkg, version string
		want               string // "" for nil
	}{
		{"exact", "dice", "1.0.0", "1.0.0"},
		{"wildcard uses latestVersion", "dice", project.Wildcard, "1.2.0"},
		{"empty uses latestVersion", "dice", "", "1.2.0"},
		{"no latestVersion picks highest", "coin", "*", "0.10.0"},
		{"missing version", "dice", "9.9.9", ""},
		{"missing package", "nope", "*", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := snap.Lookup(tt.pkg, tt.version)
			switch {
			case tt.want == "" && d != nil:
				t.Errorf("Lookup() = %+v, want nil", d)
			case tt.want != "" && (d == nil || d.Version != tt.want):
				t.Errorf("Lookup() = %+v, want version %s", d, tt.want)
			}
		})
	}
}

func TestResolveURL(t *testing.T) {
	snap := mustParse(t)
	tests := []struct {
		index, pkg, version, want string
	}{
		{"https://ygg.example.org/", "dice", "1.0.0", "https://cdn.example.org/dice-1.0.0.ipk"},
		{"https://ygg.example.org/", "dice", "1.2.0", "https://ygg.example.org/dice/dice-1.2.0.ipk"},
		{"https://ygg.example.org/mirror", "dice", "1.2.0", "https://ygg.example.org/mirror/dice/dice-1.2.0.ipk"},
		{"https://ygg.example.org/mirror/", "coin", "0.2.0", "https://ygg.example.org/coin/coin-0.2.0.ipk"},
	}
	for _, tt := range tests {
		got, err := snap.Lookup(tt.pkg, tt.version).ResolveURL(tt.index)
		if err != nil {
			t.Errorf("ResolveURL(%s) error: %v", tt.index, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveURL(%s) = %s, want %s", tt.index, got, tt.want)
		}
	}
}

func TestSubRequirements(t *testing.T) {
	snap := mustParse(t)
	reqs, err := snap.Lookup("dice", "1.2.0").SubRequirements()
	if err != nil {
		t.Fatal(err)
	}
	want := []project.Requirement{
		{Name: "coin", Version: "0.3.0", Source: project.DefaultIndex{}},
		{Name: "cards", Version: "2.0.0", Source: project.Registry{IndexURL: "https://other.example.org/"}},
	}
	if len(reqs) != len(want) {
		t.Fatalf("SubRequirements() = %v", reqs)
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Errorf("requirement %d = %+v, want %+v", i, reqs[i], want[i])
		}
	}

	none, err := snap.Lookup("dice", "1.0.0").SubRequirements()
	if err != nil || len(none) != 0 {
		t.Errorf("SubRequirements() = %v, %v; want none", none, err)
	}
}

func TestSubRequirementsKeepWrittenOrder(t *testing.T) {
	const doc = `[metadata]
uuid = "u"

[[packages.deck.distributions]]
version = "1.0.0"
download_url = "deck-1.0.0.ipk"
requirements = { zeta = "1", alpha = "1", mid = "1" }

[[packages.deck.distributions]]
version = "2.0.0"
download_url = "deck-2.0.0.ipk"

[[packages.deck.distributions]]
version = "3.0.0"
download_url = "deck-3.0.0.ipk"

[packages.deck.distributions.requirements]
mid = "3"
zeta = "3"
`
	snap, err := Parse("https://ygg.example.org/", []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		version string
		want    []string
	}{
		{"1.0.0", []string{"zeta", "alpha", "mid"}},
		{"3.0.0", []string{"mid", "zeta"}},
	}
	for _, tt := range tests {
		reqs, err := snap.Lookup("deck", tt.version).SubRequirements()
		if err != nil {
			t.Fatal(err)
		}
		if len(reqs) != len(tt.want) {
			t.Fatalf("deck %s requirements = %v", tt.version, reqs)
		}
		for i, name := range tt.want {
			if reqs[i].Name != name {
				t.Errorf("deck %s requirement %d = %s, want %s", tt.version, i, reqs[i].Name, name)
			}
		}
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"0.10.0", "0.2.0", 1},
		{"1.0.0-rc.1", "1.0.0", -1},
		{"v2.0.0", "1.9.9", 1},
		{"1.0.0", "nightly", 1},
		{"alpha", "beta", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
