package yggdrasil

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/ipm/pkg/ledger"
	"github.com/matzehuels/ipm/pkg/observability"
)

// Fetcher retrieves a catalog from the network.
type Fetcher interface {
	Fetch(ctx context.Context, indexURL string) (*Snapshot, error)
}

// Registry is the part of the ledger that tracks synced indexes.
type Registry interface {
	Index(url string) (ledger.Index, bool)
	RegisterIndex(url, id, path string, syncedAt time.Time) error
}

// Syncer keeps local snapshots of remote indexes up to date.
type Syncer struct {
	Fetcher Fetcher
	Store   *Store
	Ledger  Registry
	Logger  *log.Logger

	now func() time.Time
}

// NewSyncer wires a Syncer. A nil logger uses log.Default().
func NewSyncer(f Fetcher, store *Store, reg Registry, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.Default()
	}
	return &Syncer{Fetcher: f, Store: store, Ledger: reg, Logger: logger, now: time.Now}
}

// Sync fetches the index at url, saves the snapshot and registers it in
// the ledger. Nothing is saved or registered when the fetch fails.
func (s *Syncer) Sync(ctx context.Context, url string) (*Snapshot, error) {
	url = NormalizeURL(url)
	s.Logger.Debug("fetching index", "url", url)
	snap, err := s.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	path, err := s.Store.Save(snap)
	if err != nil {
		return nil, err
	}
	observability.Cache().OnCacheSet(ctx, "index", len(snap.Bytes()))
	if err := s.Ledger.RegisterIndex(url, snap.UUID, path, s.now()); err != nil {
		return nil, err
	}
	s.Logger.Info("synced index", "url", url, "uuid", snap.UUID, "packages", len(snap.Packages))
	return snap, nil
}

// Obtain returns a snapshot of url, reusing the stored one when it is
// registered and still fresh. refresh forces a sync.
func (s *Syncer) Obtain(ctx context.Context, url string, refresh bool) (*Snapshot, error) {
	url = NormalizeURL(url)
	if !refresh {
		if snap := s.cached(ctx, url); snap != nil {
			return snap, nil
		}
	}
	return s.Sync(ctx, url)
}

func (s *Syncer) cached(ctx context.Context, url string) *Snapshot {
	ix, ok := s.Ledger.Index(url)
	if !ok {
		observability.Cache().OnCacheMiss(ctx, "index")
		return nil
	}
	snap, ok, err := s.Store.Load(ix.UUID, url)
	switch {
	case stderrors.Is(err, ErrExpired):
		s.Logger.Debug("index snapshot expired", "url", url, "synced_at", ix.SyncedAt)
	case err != nil:
		s.Logger.Warn("ignoring unreadable index snapshot", "url", url, "err", err)
	case ok:
		observability.Cache().OnCacheHit(ctx, "index")
		s.Logger.Debug("using cached index", "url", url, "uuid", snap.UUID)
		return snap
	}
	observability.Cache().OnCacheMiss(ctx, "index")
	return nil
}
