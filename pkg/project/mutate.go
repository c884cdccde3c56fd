package project

import (
	"github.com/matzehuels/ipm/pkg/errors"
)

// Require adds or replaces a requirement. With only a version the bare
// string shape is written; otherwise an attribute table.
func (p *Project) Require(name string, opts RequireOptions) error {
	if err := errors.ValidatePackageName(name); err != nil {
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.Yggdrasil != "" {
		if _, ok := p.yggdrasils[opts.Yggdrasil]; !ok {
			return errors.New(errors.ErrCodeUnknownIndex, "yggdrasil %q is not declared in [%s]", opts.Yggdrasil, tableYggdrasils)
		}
	}
	if opts.Index != "" {
		if err := errors.ValidateURL(opts.Index); err != nil {
			return err
		}
	}

	version := orWildcard(opts.Version)
	value := quote(version)
	if opts.sourced() {
		pairs := [][2]string{}
		if version != Wildcard {
			pairs = append(pairs, [2]string{"version", version})
		}
		pairs = append(pairs,
			[2]string{"path", opts.Path},
			[2]string{"yggdrasil", opts.Yggdrasil},
			[2]string{"index", opts.Index},
		)
		value = inlineTable(pairs...)
	}
	return p.edit(func(d *document) error {
		d.set(tableRequirements, name, value)
		return nil
	})
}

// Unrequire removes a requirement. An absent name is NOT_FOUND.
func (p *Project) Unrequire(name string) error {
	return p.edit(func(d *document) error {
		if !d.remove(tableRequirements, name) {
			return errors.New(errors.ErrCodeNotFound, "%q is not a requirement of %s", name, p.Metadata.Name)
		}
		return nil
	})
}

// Add records a host-language dependency with the given constraint.
func (p *Project) Add(name, constraint string) error {
	if name == "" {
		return errors.New(errors.ErrCodeInvalidInput, "dependency name cannot be empty")
	}
	return p.edit(func(d *document) error {
		d.set(tableDependencies, name, quote(orWildcard(constraint)))
		return nil
	})
}

// Remove deletes a host-language dependency. An absent name is NOT_FOUND.
func (p *Project) Remove(name string) error {
	return p.edit(func(d *document) error {
		if !d.remove(tableDependencies, name) {
			return errors.New(errors.ErrCodeNotFound, "%q is not a dependency of %s", name, p.Metadata.Name)
		}
		return nil
	})
}

// AddYggdrasil declares an index alias.
func (p *Project) AddYggdrasil(alias, url string) error {
	if alias == "" {
		return errors.New(errors.ErrCodeInvalidInput, "yggdrasil alias cannot be empty")
	}
	if err := errors.ValidateURL(url); err != nil {
		return err
	}
	return p.edit(func(d *document) error {
		d.set(tableYggdrasils, alias, quote(url))
		return nil
	})
}

// RemoveYggdrasil drops an index alias. An absent alias is NOT_FOUND.
// Requirements still naming the alias fail later with UNKNOWN_INDEX.
func (p *Project) RemoveYggdrasil(alias string) error {
	return p.edit(func(d *document) error {
		if !d.remove(tableYggdrasils, alias) {
			return errors.New(errors.ErrCodeNotFound, "yggdrasil %q is not declared", alias)
		}
		return nil
	})
}

// SetVersion rewrites project.version.
func (p *Project) SetVersion(version string) error {
	if version == "" {
		return errors.New(errors.ErrCodeInvalidInput, "version cannot be empty")
	}
	return p.edit(func(d *document) error {
		d.set(tableProject, "version", quote(version))
		return nil
	})
}

// edit applies fn to a copy of the document and re-parses it. The
// project is left unchanged if fn or the re-parse fails.
func (p *Project) edit(fn func(*document) error) error {
	next := &document{lines: append([]string(nil), p.doc.lines...)}
	if err := fn(next); err != nil {
		return err
	}
	prev := p.doc
	p.doc = next
	if err := p.parse(); err != nil {
		p.doc = prev
		return err
	}
	return nil
}
