// Package pipeline is the public surface of the package manager core.
//
// A [Runner] owns the machine-wide ledger, the index syncer and the HTTP
// transport, and exposes the operations the CLI is built from:
//
//	runner, err := pipeline.NewRunner(pipeline.Options{}.WithDefaults(), logger)
//	if err != nil {
//	    return err
//	}
//	lock, err := runner.Lock(ctx, ".")
//	if err != nil {
//	    return err
//	}
//	report, err := runner.Install(ctx, ".", lock.Set(), install.Options{})
//
// Operations that change the project descriptor resolve the edited
// requirements first and write the descriptor and lock only when
// resolution succeeds.
package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/hosttool"
	"github.com/matzehuels/ipm/pkg/install"
	"github.com/matzehuels/ipm/pkg/resolve"
)

// =============================================================================
// Default Values - Single Source of Truth for the CLI and library callers
// =============================================================================

const (
	// DefaultIndex is the index used by requirements without a source.
	DefaultIndex = "https://yggdrasil.noctisynth.org/"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultRetries is the number of attempts for transient network failures.
	DefaultRetries = 3

	// DefaultIndexTTL is how long a synced index snapshot is reused.
	DefaultIndexTTL = time.Hour

	// DefaultConcurrency bounds parallel downloads.
	DefaultConcurrency = install.DefaultConcurrency

	// PackagesDir is where a project's rule packages are installed.
	PackagesDir = "packages"
)

// Environment variables read by [Options.WithDefaults].
const (
	EnvHome  = "IPM_HOME"
	EnvIndex = "IPM_INDEX"
)

// Layout of the ipm home directory.
const (
	storageDir = "storage"
	indexDir   = "index"
)

// =============================================================================
// Options
// =============================================================================

// Options configures a [Runner].
type Options struct {
	Home           string        // ledger, artifact store and index snapshots
	DefaultIndex   string        // index for requirements without a source
	Timeout        time.Duration // per HTTP request
	Retries        int           // attempts for transient network failures
	IndexTTL       time.Duration // reuse window of a synced index
	Refresh        bool          // ignore fresh snapshots and sync every index
	Concurrency    int           // parallel downloads
	ConflictPolicy string        // "first-wins" or "strict"
	HostInstaller  string        // host-language dependency installer
}

// WithDefaults fills unset fields from the environment and the package
// defaults.
func (o Options) WithDefaults() Options {
	if o.Home == "" {
		o.Home = os.Getenv(EnvHome)
	}
	if o.Home == "" {
		if home, err := os.UserHomeDir(); err == nil {
			o.Home = filepath.Join(home, ".ipm")
		}
	}
	if o.DefaultIndex == "" {
		o.DefaultIndex = os.Getenv(EnvIndex)
	}
	if o.DefaultIndex == "" {
		o.DefaultIndex = DefaultIndex
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.IndexTTL == 0 {
		o.IndexTTL = DefaultIndexTTL
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ConflictPolicy == "" {
		o.ConflictPolicy = resolve.FirstWins.String()
	}
	if o.HostInstaller == "" {
		o.HostInstaller = hosttool.DefaultInstaller
	}
	return o
}

// Validate checks fields that WithDefaults cannot repair.
func (o Options) Validate() error {
	if o.Home == "" {
		return errors.New(errors.ErrCodeEnvironment, "cannot determine the ipm home directory; set %s", EnvHome)
	}
	if err := errors.ValidateURL(o.DefaultIndex); err != nil {
		return err
	}
	if _, err := resolve.ParsePolicy(o.ConflictPolicy); err != nil {
		return err
	}
	return nil
}

// LedgerPath is the ledger file under Home.
func (o Options) LedgerPath() string { return filepath.Join(o.Home, "infini.lock") }

// StorageDir is the content-addressed artifact store under Home.
func (o Options) StorageDir() string { return filepath.Join(o.Home, storageDir) }

// IndexDir holds index snapshots under Home.
func (o Options) IndexDir() string { return filepath.Join(o.Home, indexDir) }
