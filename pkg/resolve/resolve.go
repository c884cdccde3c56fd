// Package resolve flattens a project's requirement graph into an ordered,
// deduplicated set of concrete packages.
//
// Resolution is greedy: requirements are walked depth-first in declaration
// order, each name is resolved at most once, and the first version seen
// for a name wins. A visited set makes cycles terminate. Under the
// [Strict] policy a later, different exact pin of an already resolved
// name is reported as VERSION_CONFLICT instead of being skipped.
//
// Local-path requirements are leaves: they are recorded as-is and never
// looked up, expanded or hashed.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/observability"
	"github.com/matzehuels/ipm/pkg/project"
	"github.com/matzehuels/ipm/pkg/yggdrasil"
)

// Policy decides what happens when two branches pin different versions of
// the same package.
type Policy int

const (
	// FirstWins keeps the version resolved first and silently skips the rest.
	FirstWins Policy = iota
	// Strict fails with VERSION_CONFLICT.
	Strict
)

// ParsePolicy accepts "first-wins" and "strict".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first-wins":
		return FirstWins, nil
	case "strict":
		return Strict, nil
	}
	return FirstWins, errors.New(errors.ErrCodeInvalidInput, "unknown conflict policy %q (want first-wins or strict)", s)
}

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "first-wins"
}

// IndexSource hands out index snapshots. [yggdrasil.Syncer] implements it.
type IndexSource interface {
	Obtain(ctx context.Context, url string, refresh bool) (*yggdrasil.Snapshot, error)
}

// Resolved is one entry of a resolved set: either a local path, or a
// concrete remote distribution with its download URL and digest.
type Resolved struct {
	Name    string
	Version string

	Path string // local requirements only

	Index string // index URL the distribution came from
	URL   string // absolute download URL
	Hash  string
}

// IsLocal reports whether the entry points at a local directory.
func (r Resolved) IsLocal() bool { return r.Path != "" }

func (r Resolved) String() string {
	if r.IsLocal() {
		return fmt.Sprintf("%s (path %s)", r.Name, r.Path)
	}
	return fmt.Sprintf("%s@%s", r.Name, r.Version)
}

// Set is a resolved closure in resolution order.
type Set []Resolved

// Get returns the entry named name.
func (s Set) Get(name string) (Resolved, bool) {
	for _, r := range s {
		if r.Name == name {
			return r, true
		}
	}
	return Resolved{}, false
}

// Names lists the entry names in order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, r := range s {
		names[i] = r.Name
	}
	return names
}

// Resolver resolves requirement lists against remote indexes.
type Resolver struct {
	Indexes IndexSource
	Default string            // index for requirements without a source
	Aliases map[string]string // yggdrasil alias -> index URL
	Policy  Policy
	Refresh bool // re-sync every index once per run
	Logger  *log.Logger
}

type run struct {
	*Resolver
	set       Set
	index     map[string]int // name -> position in set
	visited   map[string]bool
	snapshots map[string]*yggdrasil.Snapshot
}

// ResolveProject resolves reqs and their transitive requirements. Each
// index is obtained at most once per call, so the result is consistent
// with a single snapshot per index.
func (r *Resolver) ResolveProject(ctx context.Context, reqs []project.Requirement) (Set, error) {
	if r.Logger == nil {
		r.Logger = log.Default()
	}
	hooks := observability.Resolve()
	hooks.OnResolveStart(ctx, len(reqs))
	start := time.Now()

	st := &run{
		Resolver:  r,
		index:     map[string]int{},
		visited:   map[string]bool{},
		snapshots: map[string]*yggdrasil.Snapshot{},
	}
	var err error
	for _, req := range reqs {
		if err = st.resolveOne(ctx, req, ""); err != nil {
			break
		}
	}
	hooks.OnResolveComplete(ctx, len(st.set), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	r.Logger.Debug("resolved", "requirements", len(reqs), "packages", len(st.set), "policy", r.Policy)
	return st.set, nil
}

func (st *run) resolveOne(ctx context.Context, req project.Requirement, parentIndex string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if prev, ok := st.get(req.Name); ok {
		return st.conflict(prev, req)
	}

	if req.IsLocal() {
		st.add(Resolved{Name: req.Name, Version: req.Version, Path: req.Source.(project.LocalPath).Path})
		return nil
	}

	if st.visited[req.Name] {
		return nil
	}
	st.visited[req.Name] = true

	indexURL, err := st.indexFor(req, parentIndex)
	if err != nil {
		return err
	}
	snap, err := st.snapshot(ctx, indexURL)
	if err != nil {
		return err
	}
	dist := snap.Lookup(req.Name, req.Version)
	if dist == nil {
		constraint := req.Version
		if req.IsWildcard() {
			constraint = project.Wildcard
		}
		return errors.NotFound(req.Name, constraint)
	}
	url, err := dist.ResolveURL(indexURL)
	if err != nil {
		return err
	}
	st.add(Resolved{
		Name:    req.Name,
		Version: dist.Version,
		Index:   indexURL,
		URL:     url,
		Hash:    dist.Hash,
	})
	st.Logger.Debug("resolved package", "name", req.Name, "version", dist.Version, "index", indexURL)

	subs, err := dist.SubRequirements()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := st.resolveOne(ctx, sub, indexURL); err != nil {
			return err
		}
	}
	return nil
}

// conflict handles a requirement whose name is already resolved.
func (st *run) conflict(prev Resolved, req project.Requirement) error {
	if st.Policy != Strict || req.IsWildcard() || req.IsLocal() || prev.IsLocal() {
		return nil
	}
	if prev.Version != req.Version {
		return errors.New(errors.ErrCodeVersionConflict,
			"%s is required as %s but %s was already resolved", req.Name, req.Version, prev.Version)
	}
	return nil
}

func (st *run) indexFor(req project.Requirement, parentIndex string) (string, error) {
	switch src := req.Source.(type) {
	case project.Registry:
		return yggdrasil.NormalizeURL(src.IndexURL), nil
	case project.NamedIndex:
		url, ok := st.Aliases[src.Alias]
		if !ok {
			return "", errors.New(errors.ErrCodeUnknownIndex,
				"%s requires yggdrasil %q, which is not declared", req.Name, src.Alias)
		}
		return yggdrasil.NormalizeURL(url), nil
	default:
		if parentIndex != "" {
			return parentIndex, nil
		}
		if st.Default == "" {
			return "", errors.New(errors.ErrCodeUnknownIndex, "%s has no index and no default is configured", req.Name)
		}
		return yggdrasil.NormalizeURL(st.Default), nil
	}
}

func (st *run) snapshot(ctx context.Context, url string) (*yggdrasil.Snapshot, error) {
	if snap, ok := st.snapshots[url]; ok {
		return snap, nil
	}
	snap, err := st.Indexes.Obtain(ctx, url, st.Refresh)
	if err != nil {
		return nil, err
	}
	st.snapshots[url] = snap
	observability.Resolve().OnIndexFetched(ctx, url, len(snap.Packages))
	return snap, nil
}

func (st *run) get(name string) (Resolved, bool) {
	i, ok := st.index[name]
	if !ok {
		return Resolved{}, false
	}
	return st.set[i], true
}

func (st *run) add(r Resolved) {
	st.index[r.Name] = len(st.set)
	st.set = append(st.set, r)
}
