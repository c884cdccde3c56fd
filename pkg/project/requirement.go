package project

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matzehuels/ipm/pkg/errors"
)

// Wildcard is the version constraint meaning "latest available".
const Wildcard = "*"

// Source says where a requirement is resolved from. It is one of
// [DefaultIndex], [Registry], [LocalPath] or [NamedIndex].
type Source interface {
	isSource()
	String() string
}

// DefaultIndex resolves against the configured default index.
type DefaultIndex struct{}

// Registry resolves against an explicit index URL.
type Registry struct{ IndexURL string }

// LocalPath points at a package directory on disk. Local requirements are
// leaves: never looked up remotely, never hashed.
type LocalPath struct{ Path string }

// NamedIndex resolves against an alias declared in the project's
// [yggdrasils] table.
type NamedIndex struct{ Alias string }

func (DefaultIndex) isSource() {}
func (Registry) isSource()     {}
func (LocalPath) isSource()    {}
func (NamedIndex) isSource()   {}

func (DefaultIndex) String() string { return "default" }
func (s Registry) String() string   { return "index " + s.IndexURL }
func (s LocalPath) String() string  { return "path " + s.Path }
func (s NamedIndex) String() string { return "yggdrasil " + s.Alias }

// Requirement is a declared dependency on a rule package.
//
// A requirement is either Pinned (a bare version string in the descriptor,
// Source is DefaultIndex) or Sourced (an attribute table naming exactly
// one of path, yggdrasil or index, with an optional version).
type Requirement struct {
	Name    string
	Version string // exact pin or Wildcard
	Source  Source
}

// IsLocal reports whether the requirement points at a local directory.
func (r Requirement) IsLocal() bool {
	_, ok := r.Source.(LocalPath)
	return ok
}

// IsWildcard reports whether any version satisfies the requirement.
func (r Requirement) IsWildcard() bool {
	return r.Version == "" || r.Version == Wildcard
}

// IsPinned reports whether the requirement is the bare-string shape.
func (r Requirement) IsPinned() bool {
	_, ok := r.Source.(DefaultIndex)
	return ok || r.Source == nil
}

// String renders the requirement as name==version (source).
func (r Requirement) String() string {
	v := r.Version
	if v == "" {
		v = Wildcard
	}
	if r.IsPinned() {
		return fmt.Sprintf("%s==%s", r.Name, v)
	}
	return fmt.Sprintf("%s==%s (%s)", r.Name, v, r.Source)
}

// RequireOptions selects the shape written by [Project.Require].
// At most one of Path, Yggdrasil and Index may be set.
type RequireOptions struct {
	Version   string
	Path      string
	Yggdrasil string
	Index     string
}

func (o RequireOptions) sourced() bool {
	return o.Path != "" || o.Yggdrasil != "" || o.Index != ""
}

func (o RequireOptions) validate() error {
	n := 0
	for _, s := range []string{o.Path, o.Yggdrasil, o.Index} {
		if s != "" {
			n++
		}
	}
	if n > 1 {
		return errors.New(errors.ErrCodeInvalidInput, "path, yggdrasil and index are mutually exclusive")
	}
	return nil
}

// RequirementFromValue interprets a decoded requirement value: a bare
// version string or an attribute table {version?, path|yggdrasil|index}.
func RequirementFromValue(name string, v any) (Requirement, error) {
	if err := errors.ValidatePackageName(name); err != nil {
		return Requirement{}, err
	}
	switch val := v.(type) {
	case string:
		return Requirement{Name: name, Version: orWildcard(val), Source: DefaultIndex{}}, nil
	case map[string]any:
		return requirementFromTable(name, val)
	default:
		return Requirement{}, errors.New(errors.ErrCodeMalformedDescriptor,
			"requirement %q must be a version string or a table, got %T", name, v)
	}
}

func requirementFromTable(name string, table map[string]any) (Requirement, error) {
	req := Requirement{Name: name, Version: Wildcard, Source: DefaultIndex{}}
	sources := 0

	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s, ok := table[k].(string)
		if !ok {
			return Requirement{}, errors.New(errors.ErrCodeMalformedDescriptor,
				"requirement %q: %s must be a string", name, k)
		}
		switch k {
		case "version":
			req.Version = orWildcard(s)
		case "path":
			req.Source = LocalPath{Path: s}
			sources++
		case "yggdrasil":
			req.Source = NamedIndex{Alias: s}
			sources++
		case "index":
			req.Source = Registry{IndexURL: s}
			sources++
		default:
			return Requirement{}, errors.New(errors.ErrCodeMalformedDescriptor,
				"requirement %q: unknown key %q", name, k)
		}
	}
	if sources > 1 {
		return Requirement{}, errors.New(errors.ErrCodeMalformedDescriptor,
			"requirement %q: path, yggdrasil and index are mutually exclusive", name)
	}
	return req, nil
}

// RequirementsFromMap converts a decoded requirement table. Names listed
// in order come first, in that order; the rest follow sorted so the result
// stays deterministic when the written order is unknown.
func RequirementsFromMap(m map[string]any, order []string) ([]Requirement, error) {
	names := make([]string, 0, len(m))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if _, ok := m[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range m {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	reqs := make([]Requirement, 0, len(names))
	for _, name := range names {
		r, err := RequirementFromValue(name, m[name])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// ParsePin splits "name==version" into its parts. A bare name yields an
// empty version.
func ParsePin(pin string) (name, version string, err error) {
	name, version, _ = strings.Cut(strings.TrimSpace(pin), "==")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if err := errors.ValidatePackageName(name); err != nil {
		return "", "", err
	}
	return name, version, nil
}

func orWildcard(v string) string {
	if strings.TrimSpace(v) == "" {
		return Wildcard
	}
	return strings.TrimSpace(v)
}
