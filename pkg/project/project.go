// Package project reads and edits the package descriptor, infini.toml.
//
// A [Project] is loaded once per operation. Its mutators ([Project.Require],
// [Project.Unrequire], [Project.AddYggdrasil] and friends) edit the
// document text inside the target table, so comments and formatting the
// user wrote by hand survive; [Project.Dump] writes the result back.
//
//	p, err := project.Load(".")
//	if err != nil {
//	    return err
//	}
//	if err := p.Require("dice", project.RequireOptions{Version: "1.0.0"}); err != nil {
//	    return err
//	}
//	return p.Dump()
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/ipm/pkg/errors"
)

// FileName is the descriptor file at a project root.
const FileName = "infini.toml"

// Descriptor table names.
const (
	tableProject      = "project"
	tableYggdrasils   = "yggdrasils"
	tableRequirements = "requirements"
	tableDependencies = "dependencies"
)

// Author is one entry of project.authors.
type Author struct {
	Name  string `toml:"name"`
	Email string `toml:"email,omitempty"`
}

// Metadata is the [project] table.
type Metadata struct {
	Name        string            `toml:"name"`
	Version     string            `toml:"version"`
	Description string            `toml:"description,omitempty"`
	Authors     []Author          `toml:"authors,omitempty"`
	License     string            `toml:"license,omitempty"`
	Readme      string            `toml:"readme,omitempty"`
	URLs        map[string]string `toml:"urls,omitempty"`
}

// Dependency is a host-language dependency from [dependencies].
type Dependency struct {
	Name       string
	Constraint string
}

// Project is a loaded package descriptor.
type Project struct {
	Dir      string
	Metadata Metadata

	yggdrasils   map[string]string
	requirements []Requirement
	dependencies []Dependency
	doc          *document
}

type descriptorFile struct {
	Project      Metadata                  `toml:"project"`
	Yggdrasils   map[string]string         `toml:"yggdrasils"`
	Requirements map[string]toml.Primitive `toml:"requirements"`
	Dependencies map[string]string         `toml:"dependencies"`
}

// Load reads dir/infini.toml.
//
// A missing file is NOT_INITIALIZED; an unparsable file, a file without a
// [project] table or a malformed requirement is MALFORMED_DESCRIPTOR.
func Load(dir string) (*Project, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotInitialized(dir)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedDescriptor, err, "read %s", path)
	}

	p := &Project{Dir: dir, doc: newDocument(string(data))}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p, nil
}

// Parse builds a Project from descriptor text without touching disk.
func Parse(dir, text string) (*Project, error) {
	p := &Project{Dir: dir, doc: newDocument(text)}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) parse() error {
	var f descriptorFile
	md, err := toml.Decode(p.doc.String(), &f)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMalformedDescriptor, err, "parse %s", FileName)
	}
	if !md.IsDefined(tableProject) {
		return errors.New(errors.ErrCodeMalformedDescriptor, "%s has no [project] table", FileName)
	}

	reqs := make([]Requirement, 0, len(f.Requirements))
	for _, key := range md.Keys() {
		if len(key) != 2 || key[0] != tableRequirements {
			continue
		}
		var v any
		if err := md.PrimitiveDecode(f.Requirements[key[1]], &v); err != nil {
			return errors.Wrap(errors.ErrCodeMalformedDescriptor, err, "requirement %q", key[1])
		}
		r, err := RequirementFromValue(key[1], v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeMalformedDescriptor, err, "requirement %q", key[1])
		}
		reqs = append(reqs, r)
	}

	deps := make([]Dependency, 0, len(f.Dependencies))
	for _, key := range md.Keys() {
		if len(key) == 2 && key[0] == tableDependencies {
			deps = append(deps, Dependency{Name: key[1], Constraint: orWildcard(f.Dependencies[key[1]])})
		}
	}

	if f.Yggdrasils == nil {
		f.Yggdrasils = map[string]string{}
	}
	p.Metadata = f.Project
	p.yggdrasils = f.Yggdrasils
	p.requirements = reqs
	p.dependencies = deps
	return nil
}

// Path returns the descriptor file path.
func (p *Project) Path() string {
	return filepath.Join(p.Dir, FileName)
}

// Name is project.name.
func (p *Project) Name() string { return p.Metadata.Name }

// Version is project.version.
func (p *Project) Version() string { return p.Metadata.Version }

// Requirements returns the declared requirements in document order.
func (p *Project) Requirements() []Requirement {
	out := make([]Requirement, len(p.requirements))
	copy(out, p.requirements)
	return out
}

// Requirement returns the requirement with the given name.
func (p *Project) Requirement(name string) (Requirement, bool) {
	for _, r := range p.requirements {
		if r.Name == name {
			return r, true
		}
	}
	return Requirement{}, false
}

// Dependencies returns the host-language dependencies in document order.
func (p *Project) Dependencies() []Dependency {
	out := make([]Dependency, len(p.dependencies))
	copy(out, p.dependencies)
	return out
}

// Yggdrasils returns a copy of the alias -> index URL table.
func (p *Project) Yggdrasils() map[string]string {
	out := make(map[string]string, len(p.yggdrasils))
	for k, v := range p.yggdrasils {
		out[k] = v
	}
	return out
}

// Bytes returns the current descriptor text.
func (p *Project) Bytes() []byte {
	return []byte(p.doc.String())
}

// Dump writes the descriptor back to disk, replacing it atomically.
func (p *Project) Dump() error {
	return writeFileAtomic(p.Path(), p.Bytes())
}

// Init writes a fresh descriptor into dir. It refuses to overwrite an
// existing one unless force is set.
func Init(dir string, meta Metadata, force bool) (*Project, error) {
	if err := errors.ValidatePackageName(meta.Name); err != nil {
		return nil, err
	}
	if meta.Version == "" {
		meta.Version = "0.1.0"
	}
	if meta.License == "" {
		meta.License = "MIT"
	}

	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return nil, errors.New(errors.ErrCodeInvalidPath, "%s already exists", path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", dir)
	}

	p, err := Parse(dir, renderMetadata(meta))
	if err != nil {
		return nil, err
	}
	if err := p.Dump(); err != nil {
		return nil, err
	}
	return p, nil
}

func renderMetadata(meta Metadata) string {
	doc := &document{}
	doc.lines = append(doc.lines, "["+tableProject+"]")
	doc.set(tableProject, "name", quote(meta.Name))
	doc.set(tableProject, "version", quote(meta.Version))
	if meta.Description != "" {
		doc.set(tableProject, "description", quote(meta.Description))
	}
	if len(meta.Authors) > 0 {
		authors := ""
		for i, a := range meta.Authors {
			if i > 0 {
				authors += ", "
			}
			authors += inlineTable([2]string{"name", a.Name}, [2]string{"email", a.Email})
		}
		doc.set(tableProject, "authors", "["+authors+"]")
	}
	doc.set(tableProject, "license", quote(meta.License))
	if meta.Readme != "" {
		doc.set(tableProject, "readme", quote(meta.Readme))
	}
	doc.lines = append(doc.lines, "", "["+tableRequirements+"]")
	return doc.String()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
