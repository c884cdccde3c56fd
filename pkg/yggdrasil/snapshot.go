package yggdrasil

import (
	"net/url"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/project"
)

// DocumentName is the catalog document served at the root of an index.
const DocumentName = "index.toml"

// Snapshot is one fetched copy of an index catalog. It is immutable once
// parsed; a sync replaces it wholesale.
type Snapshot struct {
	URL      string // index the snapshot came from
	UUID     string
	Host     string
	Packages map[string]*PackageEntry

	raw []byte
}

// PackageEntry lists the published versions of one package.
type PackageEntry struct {
	LatestVersion string         `toml:"latestVersion"`
	Distributions []Distribution `toml:"distributions"`
}

// Distribution is one downloadable version of a package.
type Distribution struct {
	Version      string         `toml:"version"`
	DownloadURL  string         `toml:"download_url"`
	Hash         string         `toml:"hash"`
	Requirements map[string]any `toml:"requirements"`

	order []string // requirement names as written in the document
}

type indexDocument struct {
	Metadata struct {
		UUID string `toml:"uuid"`
		Host string `toml:"host"`
	} `toml:"metadata"`
	Packages map[string]*PackageEntry `toml:"packages"`
}

// NormalizeURL gives every spelling of an index URL the same form, with
// surrounding space trimmed and exactly one trailing slash.
func NormalizeURL(index string) string {
	return strings.TrimRight(strings.TrimSpace(index), "/") + "/"
}

// DocumentURL returns the catalog URL of the index at base.
func DocumentURL(base string) string {
	return strings.TrimRight(base, "/") + "/" + DocumentName
}

// Parse decodes a catalog document fetched from indexURL. A document that
// is not TOML or carries no metadata.uuid is INVALID_INDEX.
func Parse(indexURL string, data []byte) (*Snapshot, error) {
	var doc indexDocument
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidIndex, err, "%s is not an index document", indexURL)
	}
	if strings.TrimSpace(doc.Metadata.UUID) == "" {
		return nil, errors.New(errors.ErrCodeInvalidIndex, "%s has no metadata.uuid", indexURL)
	}
	if doc.Packages == nil {
		doc.Packages = map[string]*PackageEntry{}
	}
	for name, entry := range doc.Packages {
		if entry == nil {
			doc.Packages[name] = &PackageEntry{}
		}
	}
	recordOrder(md, doc.Packages)
	return &Snapshot{
		URL:      indexURL,
		UUID:     strings.TrimSpace(doc.Metadata.UUID),
		Host:     doc.Metadata.Host,
		Packages: doc.Packages,
		raw:      data,
	}, nil
}

// recordOrder stores the written order of each distribution's
// requirements. Elements of a [[...distributions]] array share one key
// path in the metadata, so every requirements table opens a new group and
// each distribution takes the next group naming the same packages.
func recordOrder(md toml.MetaData, packages map[string]*PackageEntry) {
	groups := map[string][][]string{}
	for _, key := range md.Keys() {
		if len(key) < 4 || key[0] != "packages" || key[2] != "distributions" || key[3] != "requirements" {
			continue
		}
		name := key[1]
		switch len(key) {
		case 4:
			groups[name] = append(groups[name], nil)
		case 5:
			g := groups[name]
			if len(g) == 0 {
				g = append(g, nil)
			}
			g[len(g)-1] = append(g[len(g)-1], key[4])
			groups[name] = g
		}
	}

	for name, entry := range packages {
		pending := groups[name]
		for i := range entry.Distributions {
			d := &entry.Distributions[i]
			if len(d.Requirements) == 0 {
				continue
			}
			for len(pending) > 0 {
				next := pending[0]
				pending = pending[1:]
				if sameNames(next, d.Requirements) {
					d.order = next
					break
				}
			}
		}
	}
}

func sameNames(names []string, m map[string]any) bool {
	if len(names) != len(m) {
		return false
	}
	for _, n := range names {
		if _, ok := m[n]; !ok {
			return false
		}
	}
	return true
}

// Bytes returns the document the snapshot was parsed from.
func (s *Snapshot) Bytes() []byte { return s.raw }

// Lookup finds the distribution of name matching version. An empty or
// wildcard version selects the entry's latestVersion. Lookup returns nil
// when nothing matches.
func (s *Snapshot) Lookup(name, version string) *Distribution {
	entry, ok := s.Packages[name]
	if !ok {
		return nil
	}
	if version == "" || version == project.Wildcard {
		version = s.LatestVersion(name)
		if version == "" {
			return nil
		}
	}
	for i := range entry.Distributions {
		if entry.Distributions[i].Version == version {
			return &entry.Distributions[i]
		}
	}
	return nil
}

// LatestVersion returns the declared latestVersion of name, or the highest
// published version when the index does not declare one.
func (s *Snapshot) LatestVersion(name string) string {
	entry, ok := s.Packages[name]
	if !ok {
		return ""
	}
	if entry.LatestVersion != "" {
		return entry.LatestVersion
	}
	if vs := s.Versions(name); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Versions returns the published versions of name, newest first.
func (s *Snapshot) Versions(name string) []string {
	entry, ok := s.Packages[name]
	if !ok {
		return nil
	}
	vs := make([]string, 0, len(entry.Distributions))
	for _, d := range entry.Distributions {
		vs = append(vs, d.Version)
	}
	sort.SliceStable(vs, func(i, j int) bool { return CompareVersions(vs[i], vs[j]) > 0 })
	return vs
}

// Names returns the package names in the catalog, sorted.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Packages))
	for name := range s.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveURL returns the absolute download URL of the distribution. A
// relative download_url is resolved against the index URL.
func (d *Distribution) ResolveURL(indexURL string) (string, error) {
	ref, err := url.Parse(d.DownloadURL)
	if err != nil || d.DownloadURL == "" {
		return "", errors.New(errors.ErrCodeInvalidIndex, "bad download_url %q for version %s", d.DownloadURL, d.Version)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(strings.TrimRight(indexURL, "/") + "/")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidInput, err, "bad index URL %q", indexURL)
	}
	return base.ResolveReference(ref).String(), nil
}

// SubRequirements returns the requirements the distribution declares, in
// the order the index document lists them.
func (d *Distribution) SubRequirements() ([]project.Requirement, error) {
	if len(d.Requirements) == 0 {
		return nil, nil
	}
	reqs, err := project.RequirementsFromMap(d.Requirements, d.order)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidIndex, err, "requirements of version %s", d.Version)
	}
	return reqs, nil
}
