// Package install fetches, verifies and unpacks a resolved set.
//
// An install run has two phases. Phase 1 obtains every archive, from the
// local store or the network, and verifies its digest; downloads run in
// parallel and any failure aborts the run before anything is installed,
// removing every temporary file. Phase 2 walks the set in resolution order
// and, for each package, moves the verified archive into the
// content-addressed store, unpacks it into a staging directory beside the
// target, swaps it into place by rename, and records it in the ledger.
package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/ipm/pkg/archive"
	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/hashing"
	"github.com/matzehuels/ipm/pkg/ledger"
	"github.com/matzehuels/ipm/pkg/observability"
	"github.com/matzehuels/ipm/pkg/project"
	"github.com/matzehuels/ipm/pkg/resolve"
)

// DefaultConcurrency bounds parallel downloads.
const DefaultConcurrency = 4

// Fetcher downloads artifacts. [httputil.Client] implements it.
type Fetcher interface {
	Download(ctx context.Context, url, path string) (int64, error)
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// Options control how existing installations are treated.
type Options struct {
	// Force reinstalls packages even when the same version is present.
	Force bool
	// Upgrade replaces an installed package with a different version.
	Upgrade bool
}

// Installer materializes resolved packages.
type Installer struct {
	Fetcher     Fetcher
	Ledger      *ledger.Ledger
	StoreDir    string // content-addressed artifact store
	Concurrency int
	Logger      *log.Logger
}

// job tracks one package through the state machine.
type job struct {
	r       resolve.Resolved
	out     *Outcome
	target  string
	archive string // verified archive, temp or stored
	hash    string
	cached  bool
}

// Install installs set into root/<name>. The returned report is non-nil
// even on error and shows how far each package got.
func (in *Installer) Install(ctx context.Context, root string, set resolve.Set, opts Options) (*Report, error) {
	if in.Logger == nil {
		in.Logger = log.Default()
	}
	start := time.Now()
	report := &Report{Packages: make([]Outcome, len(set))}
	defer func() { report.Duration = time.Since(start) }()

	jobs, err := in.plan(root, set, report, opts)
	if err == nil {
		err = in.run(ctx, root, jobs)
	}
	observability.Install().OnInstallComplete(ctx, report.Count(Registered), report.Count(Skipped), time.Since(start), err)
	return report, err
}

// plan classifies every entry before any I/O happens, so an
// ALREADY_INSTALLED conflict fails the run up front.
func (in *Installer) plan(root string, set resolve.Set, report *Report, opts Options) ([]*job, error) {
	var jobs []*job
	for i, r := range set {
		out := &report.Packages[i]
		*out = Outcome{Name: r.Name, Version: r.Version, Stage: Pending}

		if r.IsLocal() {
			out.Stage, out.Local, out.Reason, out.Path = Skipped, true, "local path", r.Path
			continue
		}
		if err := errors.ValidatePackageName(r.Name); err != nil {
			return nil, fail(out, err)
		}
		target := filepath.Join(root, r.Name)
		out.Path = target

		if current, ok := installedVersion(target); ok {
			switch {
			case current == r.Version && !opts.Force:
				out.Stage, out.Reason = Skipped, "already installed"
				continue
			case current != r.Version && !opts.Force && !opts.Upgrade:
				return nil, fail(out, errors.New(errors.ErrCodeAlreadyInstalled,
					"%s %s is installed at %s; use --upgrade to replace it with %s", r.Name, current, target, r.Version))
			}
		}
		if r.URL == "" {
			return nil, fail(out, errors.New(errors.ErrCodeInvalidInput, "%s@%s has no download URL", r.Name, r.Version))
		}
		jobs = append(jobs, &job{r: r, out: out, target: target})
	}
	return jobs, nil
}

func (in *Installer) run(ctx context.Context, root string, jobs []*job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := os.MkdirAll(in.StoreDir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create store")
	}
	tmp, err := os.MkdirTemp(in.StoreDir, ".download-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create download dir")
	}
	defer os.RemoveAll(tmp)

	limit := in.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, j := range jobs {
		g.Go(func() error { return in.fetch(gctx, tmp, j) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create %s", root)
	}
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.materialize(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// fetch drives a job from Pending to Verified.
func (in *Installer) fetch(ctx context.Context, tmp string, j *job) error {
	in.advance(ctx, j, IndexResolved)

	if a, ok := in.Ledger.Artifact(j.r.Name, j.r.Version); ok && (j.r.Hash == "" || hashing.Equal(a.Hash, j.r.Hash)) {
		if match, err := hashing.VerifyFile(a.Path, a.Hash); err == nil && match {
			observability.Cache().OnCacheHit(ctx, "artifact")
			j.archive, j.hash, j.cached = a.Path, a.Hash, true
			j.out.Cached = true
			in.advance(ctx, j, Downloaded)
			in.advance(ctx, j, Verified)
			return nil
		}
		in.Logger.Warn("stored artifact is missing or corrupt, downloading again", "name", j.r.Name, "path", a.Path)
	}
	observability.Cache().OnCacheMiss(ctx, "artifact")

	expected := j.r.Hash
	if expected == "" {
		data, err := in.Fetcher.GetBytes(ctx, j.r.URL+hashing.HashSuffix)
		if err != nil {
			return fail(j.out, err)
		}
		expected = strings.TrimSpace(string(data))
	}
	if !hashing.IsDigest(expected) {
		return fail(j.out, errors.New(errors.ErrCodeIntegrity, "%s@%s has no valid digest", j.r.Name, j.r.Version))
	}

	path := filepath.Join(tmp, archive.FileName(j.r.Name, j.r.Version))
	in.Logger.Debug("downloading", "name", j.r.Name, "version", j.r.Version, "url", j.r.URL)
	if _, err := in.Fetcher.Download(ctx, j.r.URL, path); err != nil {
		return fail(j.out, err)
	}
	in.advance(ctx, j, Downloaded)

	ok, err := hashing.VerifyFile(path, expected)
	if err != nil {
		os.Remove(path)
		return fail(j.out, errors.Wrap(errors.ErrCodeIntegrity, err, "verify %s@%s", j.r.Name, j.r.Version))
	}
	if !ok {
		os.Remove(path)
		return fail(j.out, errors.New(errors.ErrCodeIntegrity,
			"%s@%s does not match its digest %s", j.r.Name, j.r.Version, expected))
	}
	j.archive, j.hash = path, hashing.Normalize(expected)
	in.advance(ctx, j, Verified)
	return nil
}

// materialize drives a verified job to Registered.
func (in *Installer) materialize(ctx context.Context, j *job) error {
	stored, err := in.store(j)
	if err != nil {
		return fail(j.out, err)
	}
	if err := swapIn(stored, j.target, j.r.Name); err != nil {
		return fail(j.out, err)
	}
	in.advance(ctx, j, Unpacked)

	err = in.Ledger.RecordArtifact(ledger.Artifact{
		Name:      j.r.Name,
		Version:   j.r.Version,
		Hash:      j.hash,
		Yggdrasil: j.r.Index,
		Path:      stored,
	})
	if err == nil {
		err = in.Ledger.RecordInstalled(j.r.Name, j.r.Version)
	}
	if err != nil {
		return fail(j.out, err)
	}
	in.advance(ctx, j, Registered)
	in.Logger.Info("installed", "name", j.r.Name, "version", j.r.Version, "cached", j.cached)
	return nil
}

// StorePath is where an artifact with the given digest is kept.
func StorePath(storeDir, hash, name, version string) string {
	hash = hashing.Normalize(hash)
	return filepath.Join(storeDir, hash[:2], hash, archive.FileName(name, version))
}

func (in *Installer) store(j *job) (string, error) {
	if j.cached {
		return j.archive, nil
	}
	dest := StorePath(in.StoreDir, j.hash, j.r.Name, j.r.Version)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "create store entry")
	}
	if err := os.Rename(j.archive, dest); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "store %s", dest)
	}
	return dest, nil
}

// swapIn unpacks archivePath beside target and renames it into place.
// A previous installation is moved aside first and restored if the final
// rename fails, so target always holds a complete package.
func swapIn(archivePath, target, name string) error {
	parent := filepath.Dir(target)
	stage, err := os.MkdirTemp(parent, ".stage-"+name+"-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create staging dir")
	}
	defer os.RemoveAll(stage)

	unpacked := filepath.Join(stage, "pkg")
	if err := archive.UnpackFile(archivePath, unpacked); err != nil {
		return err
	}
	pkgRoot, err := archive.FindRoot(unpacked)
	if err != nil {
		return err
	}
	desc, err := project.Load(pkgRoot)
	if err != nil {
		return errors.Wrap(errors.ErrCodeArchive, err, "archive of %s", name)
	}
	if desc.Name() != name {
		return errors.New(errors.ErrCodeArchive, "archive of %s contains package %q", name, desc.Name())
	}

	var aside string
	if _, err := os.Lstat(target); err == nil {
		aside = filepath.Join(stage, "old")
		if err := os.Rename(target, aside); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "move aside %s", target)
		}
	}
	if err := os.Rename(pkgRoot, target); err != nil {
		if aside != "" {
			_ = os.Rename(aside, target)
		}
		return errors.Wrap(errors.ErrCodeInternal, err, "install %s", target)
	}
	return nil
}

// installedVersion reads the version of the package installed at dir.
func installedVersion(dir string) (string, bool) {
	p, err := project.Load(dir)
	if err != nil {
		return "", false
	}
	return p.Version(), true
}

func (in *Installer) advance(ctx context.Context, j *job, stage Stage) {
	j.out.Stage = stage
	observability.Install().OnStage(ctx, j.r.Name, j.r.Version, string(stage), nil)
}

// fail marks out as failed in its current stage and returns err.
func fail(out *Outcome, err error) error {
	out.FailedAt, out.Stage, out.Err = out.Stage, Failed, err
	observability.Install().OnStage(context.Background(), out.Name, out.Version, string(Failed), err)
	return err
}
