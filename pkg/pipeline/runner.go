package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/ipm/pkg/archive"
	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/hashing"
	"github.com/matzehuels/ipm/pkg/hosttool"
	"github.com/matzehuels/ipm/pkg/httputil"
	"github.com/matzehuels/ipm/pkg/install"
	"github.com/matzehuels/ipm/pkg/ledger"
	"github.com/matzehuels/ipm/pkg/lockfile"
	"github.com/matzehuels/ipm/pkg/project"
	"github.com/matzehuels/ipm/pkg/resolve"
	"github.com/matzehuels/ipm/pkg/yggdrasil"
)

// Runner executes package manager operations against one ipm home.
//
// A Runner is safe for use by multiple goroutines as long as they work on
// different projects. The ledger serializes its own updates, also across
// processes.
type Runner struct {
	Options Options
	Ledger  *ledger.Ledger
	HTTP    *httputil.Client
	Indexes *yggdrasil.Syncer
	Logger  *log.Logger

	policy resolve.Policy
}

// NewRunner opens the ledger under opts.Home and wires the transport and
// index store. opts should already carry defaults. A nil logger uses
// log.Default().
func NewRunner(opts Options, logger *log.Logger) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	policy, _ := resolve.ParsePolicy(opts.ConflictPolicy)

	led, err := ledger.Open(opts.LedgerPath())
	if err != nil {
		return nil, err
	}
	client := httputil.NewClient(httputil.ClientOptions{
		Timeout:  opts.Timeout,
		Attempts: opts.Retries,
	})
	store, err := yggdrasil.NewStore(opts.IndexDir(), opts.IndexTTL)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Options: opts,
		Ledger:  led,
		HTTP:    client,
		Indexes: yggdrasil.NewSyncer(yggdrasil.NewClient(client), store, led, logger),
		Logger:  logger,
		policy:  policy,
	}, nil
}

// =============================================================================
// Indexes
// =============================================================================

// SyncIndex fetches the index at url and registers the snapshot.
func (r *Runner) SyncIndex(ctx context.Context, url string) (*yggdrasil.Snapshot, error) {
	return r.Indexes.Sync(ctx, url)
}

// AddYggdrasil syncs the index at url and declares it under alias in the
// project at dir. The descriptor is not touched if the index is unusable.
func (r *Runner) AddYggdrasil(ctx context.Context, dir, alias, url string) error {
	p, err := project.Load(dir)
	if err != nil {
		return err
	}
	if err := p.AddYggdrasil(alias, url); err != nil {
		return err
	}
	if _, err := r.SyncIndex(ctx, url); err != nil {
		return err
	}
	return p.Dump()
}

// RemoveYggdrasil drops an index alias. Requirements still naming it make
// resolution fail with UNKNOWN_INDEX, in which case nothing is written.
func (r *Runner) RemoveYggdrasil(ctx context.Context, dir, alias string) (*lockfile.Lock, error) {
	p, err := project.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := p.RemoveYggdrasil(alias); err != nil {
		return nil, err
	}
	return r.commit(ctx, p)
}

// indexURLs lists every index the project can reach directly: the default,
// each declared alias and each explicit index source.
func (r *Runner) indexURLs(p *project.Project) []string {
	seen := map[string]bool{yggdrasil.NormalizeURL(r.Options.DefaultIndex): true}
	for _, url := range p.Yggdrasils() {
		seen[yggdrasil.NormalizeURL(url)] = true
	}
	for _, req := range p.Requirements() {
		if src, ok := req.Source.(project.Registry); ok {
			seen[yggdrasil.NormalizeURL(src.IndexURL)] = true
		}
	}
	urls := make([]string, 0, len(seen))
	for url := range seen {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// indexFor is the index a top-level requirement is looked up in.
func (r *Runner) indexFor(p *project.Project, src project.Source) (string, error) {
	switch s := src.(type) {
	case project.Registry:
		return s.IndexURL, nil
	case project.NamedIndex:
		url, ok := p.Yggdrasils()[s.Alias]
		if !ok {
			return "", errors.New(errors.ErrCodeUnknownIndex, "yggdrasil %q is not declared", s.Alias)
		}
		return url, nil
	default:
		return r.Options.DefaultIndex, nil
	}
}

// =============================================================================
// Resolution and locking
// =============================================================================

// ResolveProject resolves the requirements of p.
func (r *Runner) ResolveProject(ctx context.Context, p *project.Project) (resolve.Set, error) {
	res := &resolve.Resolver{
		Indexes: r.Indexes,
		Default: r.Options.DefaultIndex,
		Aliases: p.Yggdrasils(),
		Policy:  r.policy,
		Refresh: r.Options.Refresh,
		Logger:  r.Logger,
	}
	return res.ResolveProject(ctx, p.Requirements())
}

// Lock resolves the project at dir and writes its lock file.
func (r *Runner) Lock(ctx context.Context, dir string) (*lockfile.Lock, error) {
	p, err := project.Load(dir)
	if err != nil {
		return nil, err
	}
	set, err := r.ResolveProject(ctx, p)
	if err != nil {
		return nil, err
	}
	return r.persist(p, set)
}

// Check syncs every index the project refers to and then locks it.
func (r *Runner) Check(ctx context.Context, dir string) (*lockfile.Lock, error) {
	p, err := project.Load(dir)
	if err != nil {
		return nil, err
	}
	for _, url := range r.indexURLs(p) {
		if _, err := r.SyncIndex(ctx, url); err != nil {
			return nil, err
		}
	}
	return r.Lock(ctx, dir)
}

func (r *Runner) persist(p *project.Project, set resolve.Set) (*lockfile.Lock, error) {
	lock := lockfile.Derive(p, set)
	changed, err := lock.Persist(p.Dir)
	if err != nil {
		return nil, err
	}
	if changed {
		r.Logger.Info("wrote lock", "project", p.Name(), "packages", len(lock.Packages))
	} else {
		r.Logger.Debug("lock up to date", "project", p.Name())
	}
	return lock, nil
}

// commit resolves an edited project and writes the descriptor and lock.
// Nothing is written when resolution fails.
func (r *Runner) commit(ctx context.Context, p *project.Project) (*lockfile.Lock, error) {
	set, err := r.ResolveProject(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := p.Dump(); err != nil {
		return nil, err
	}
	return r.persist(p, set)
}

// =============================================================================
// Installation
// =============================================================================

// Install installs set into dir/packages.
func (r *Runner) Install(ctx context.Context, dir string, set resolve.Set, opts install.Options) (*install.Report, error) {
	// Pick up artifacts stored by other processes since Open.
	if err := r.Ledger.Reload(); err != nil {
		return nil, err
	}
	in := &install.Installer{
		Fetcher:     r.HTTP,
		Ledger:      r.Ledger,
		StoreDir:    r.Options.StorageDir(),
		Concurrency: r.Options.Concurrency,
		Logger:      r.Logger,
	}
	report, err := in.Install(ctx, filepath.Join(dir, PackagesDir), set, opts)
	if err == nil {
		r.Logger.Info("installed packages",
			"installed", report.Count(install.Registered),
			"skipped", report.Count(install.Skipped),
			"duration", report.Duration)
	}
	return report, err
}

// Sync installs the packages recorded in the project lock, locking the
// project first when it has no lock yet.
func (r *Runner) Sync(ctx context.Context, dir string, opts install.Options) (*install.Report, error) {
	lock, err := lockfile.Load(dir)
	if errors.Is(err, errors.ErrCodeNotFound) {
		r.Logger.Debug("no lock, resolving", "dir", dir)
		lock, err = r.Lock(ctx, dir)
	}
	if err != nil {
		return nil, err
	}
	return r.Install(ctx, dir, lock.Set(), opts)
}

// =============================================================================
// Requirements
// =============================================================================

// Require adds "name" or "name==version" to the project at dir. A remote
// requirement without a version is pinned to the latest version of its
// index. The descriptor and lock are written only if the project still
// resolves.
func (r *Runner) Require(ctx context.Context, dir, pin string, opts project.RequireOptions) (*lockfile.Lock, error) {
	name, version, err := project.ParsePin(pin)
	if err != nil {
		return nil, err
	}
	if version != "" {
		opts.Version = version
	}
	p, err := project.Load(dir)
	if err != nil {
		return nil, err
	}

	if opts.Version == "" && opts.Path == "" {
		latest, err := r.latest(ctx, p, sourceOf(opts), name)
		if err != nil {
			return nil, err
		}
		opts.Version = latest
	}
	if err := p.Require(name, opts); err != nil {
		return nil, err
	}
	return r.commit(ctx, p)
}

// Unrequire removes a requirement and relocks the project.
func (r *Runner) Unrequire(ctx context.Context, dir, name string) (*lockfile.Lock, error) {
	p, err := project.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := p.Unrequire(name); err != nil {
		return nil, err
	}
	return r.commit(ctx, p)
}

// Bump is a requirement moved to a newer version by [Runner.Update].
type Bump struct {
	Name string
	From string
	To   string
}

// Update moves every pinned remote requirement to the latest version of
// its index when that version is newer. Indexes are synced first.
func (r *Runner) Update(ctx context.Context, dir string) ([]Bump, error) {
	p, err := project.Load(dir)
	if err != nil {
		return nil, err
	}
	for _, url := range r.indexURLs(p) {
		if _, err := r.SyncIndex(ctx, url); err != nil {
			return nil, err
		}
	}

	var bumps []Bump
	for _, req := range p.Requirements() {
		if req.IsLocal() || req.IsWildcard() {
			continue
		}
		latest, err := r.latest(ctx, p, req.Source, req.Name)
		if err != nil {
			return nil, err
		}
		if yggdrasil.CompareVersions(latest, req.Version) <= 0 {
			continue
		}
		if err := p.Require(req.Name, requireOptions(req.Source, latest)); err != nil {
			return nil, err
		}
		bumps = append(bumps, Bump{Name: req.Name, From: req.Version, To: latest})
	}
	if len(bumps) == 0 {
		return nil, nil
	}
	if _, err := r.commit(ctx, p); err != nil {
		return nil, err
	}
	return bumps, nil
}

func (r *Runner) latest(ctx context.Context, p *project.Project, src project.Source, name string) (string, error) {
	url, err := r.indexFor(p, src)
	if err != nil {
		return "", err
	}
	snap, err := r.Indexes.Obtain(ctx, url, false)
	if err != nil {
		return "", err
	}
	latest := snap.LatestVersion(name)
	if latest == "" {
		return "", errors.NotFound(name, "")
	}
	return latest, nil
}

func sourceOf(opts project.RequireOptions) project.Source {
	switch {
	case opts.Path != "":
		return project.LocalPath{Path: opts.Path}
	case opts.Yggdrasil != "":
		return project.NamedIndex{Alias: opts.Yggdrasil}
	case opts.Index != "":
		return project.Registry{IndexURL: opts.Index}
	}
	return project.DefaultIndex{}
}

func requireOptions(src project.Source, version string) project.RequireOptions {
	opts := project.RequireOptions{Version: version}
	switch s := src.(type) {
	case project.LocalPath:
		opts.Path = s.Path
	case project.NamedIndex:
		opts.Yggdrasil = s.Alias
	case project.Registry:
		opts.Index = s.IndexURL
	}
	return opts
}

// =============================================================================
// Host-language dependencies
// =============================================================================

// Add records a host-language dependency such as "requests>=2.31". The
// host installer must be on PATH.
func (r *Runner) Add(dir, dependency string) error {
	if _, err := hosttool.Require(r.Options.HostInstaller); err != nil {
		return err
	}
	name, constraint, err := errors.ParseHostDependency(dependency)
	if err != nil {
		return err
	}
	p, err := project.Load(dir)
	if err != nil {
		return err
	}
	if err := p.Add(name, constraint); err != nil {
		return err
	}
	return p.Dump()
}

// Remove drops a host-language dependency.
func (r *Runner) Remove(dir, name string) error {
	if _, err := hosttool.Require(r.Options.HostInstaller); err != nil {
		return err
	}
	p, err := project.Load(dir)
	if err != nil {
		return err
	}
	if err := p.Remove(name); err != nil {
		return err
	}
	return p.Dump()
}

// =============================================================================
// Archives
// =============================================================================

// Build packs the project at dir into dist/.
func (r *Runner) Build(dir string) (*project.FrozenPackage, error) {
	p, err := project.Load(dir)
	if err != nil {
		return nil, err
	}
	frozen, err := project.Freeze(p)
	if err != nil {
		return nil, err
	}
	r.Logger.Info("built package", "name", frozen.Name, "version", frozen.Version, "hash", frozen.Hash)
	return frozen, nil
}

// Extract verifies the archive at path against the digest stored in
// hashPath (path+".hash" when empty) and unpacks it into dest/<name>,
// where name comes from the archive's own descriptor. It returns the
// extracted directory.
func (r *Runner) Extract(path, hashPath, dest string) (string, error) {
	frozen, err := openFrozen(path, hashPath)
	if err != nil {
		return "", err
	}
	ok, err := frozen.Verify()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeArchive, err, "read %s", path)
	}
	if !ok {
		return "", errors.New(errors.ErrCodeIntegrity, "%s does not match its digest", path)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "create %s", dest)
	}
	stage, err := os.MkdirTemp(dest, ".extract-*")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "create staging directory")
	}
	defer os.RemoveAll(stage)

	unpacked := filepath.Join(stage, "pkg")
	if err := archive.UnpackFile(path, unpacked); err != nil {
		return "", errors.Wrap(errors.ErrCodeArchive, err, "unpack %s", path)
	}
	root, err := archive.FindRoot(unpacked)
	if err != nil {
		return "", err
	}
	p, err := project.Load(root)
	if err != nil {
		return "", err
	}
	if err := errors.ValidatePackageName(p.Name()); err != nil {
		return "", err
	}

	target := filepath.Join(dest, p.Name())
	if _, err := os.Lstat(target); err == nil {
		return "", errors.New(errors.ErrCodeAlreadyInstalled, "%s already exists", target)
	}
	if err := os.Rename(root, target); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "move into %s", target)
	}
	if frozen.Name != "" && frozen.Name != p.Name() {
		r.Logger.Warn("archive name differs from its descriptor", "file", filepath.Base(path), "name", p.Name())
	}
	r.Logger.Info("extracted package", "name", p.Name(), "version", p.Version(), "dest", target)
	return target, nil
}

// openFrozen describes the archive at path. Without an explicit digest
// file the detached .hash next to the archive is used.
func openFrozen(path, hashPath string) (*project.FrozenPackage, error) {
	if hashPath == "" {
		frozen, err := project.OpenFrozen(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeIntegrity, err, "read digest of %s", path)
		}
		return frozen, nil
	}
	data, err := os.ReadFile(hashPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIntegrity, err, "read digest of %s", path)
	}
	digest := hashing.Normalize(string(data))
	if !hashing.IsDigest(digest) {
		return nil, errors.New(errors.ErrCodeIntegrity, "malformed digest in %s", hashPath)
	}
	return &project.FrozenPackage{Path: path, Hash: digest}, nil
}
