package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/notepulse/notepulse/internal/store"
	"github.com/notepulse/notepulse/pkg/note"
)

// ErrSyncInProgress is returned when a sync is requested while another
// one is still running. The caller retries later; syncs never queue.
var ErrSyncInProgress = errors.New("sync already in progress")

// StatsFetcher pulls one consistent snapshot from the stats endpoint.
type StatsFetcher interface {
	FetchStats(ctx context.Context, creds note.Credentials, maxPages int) (*note.Snapshot, error)
}

// ArticleDiscoverer lists published articles from a public feed.
type ArticleDiscoverer interface {
	Articles(ctx context.Context, username string) ([]note.ArticleRef, error)
}

// SyncResult summarizes one remote sync.
type SyncResult struct {
	Date       string                 `json:"date"`
	Records    int                    `json:"records"`
	Pages      int                    `json:"pages"`
	Skipped    int                    `json:"skipped"`
	Discovered int                    `json:"discovered"`
	Reason     note.TerminationReason `json:"termination_reason"`
}

// SyncStatus reports the service's current state.
type SyncStatus struct {
	Syncing     bool      `json:"syncing"`
	LastSync    time.Time `json:"last_sync,omitzero"`
	LastRecords int       `json:"last_records"`
}

// SyncService drives the remote sync path: fetch the full snapshot,
// apply it as the authoritative picture for today. One sync runs at a
// time per service; the guard is owned here, not ambient state.
type SyncService struct {
	fetcher     StatsFetcher
	discoverer  ArticleDiscoverer
	snapshotter *Snapshotter
	resolver    *Resolver
	creds       note.Credentials
	username    string
	maxPages    int

	mu          sync.Mutex
	syncing     bool
	lastSync    time.Time
	lastRecords int
}

// NewSyncService creates the sync service. discoverer and username may
// be zero when RSS discovery is disabled.
func NewSyncService(fetcher StatsFetcher, discoverer ArticleDiscoverer, st store.Store, creds note.Credentials, username string, maxPages int) *SyncService {
	return &SyncService{
		fetcher:     fetcher,
		discoverer:  discoverer,
		snapshotter: NewSnapshotter(st),
		resolver:    NewResolver(st),
		creds:       creds,
		username:    username,
		maxPages:    maxPages,
	}
}

// Sync performs one full remote sync. A fetch failure aborts the whole
// attempt with nothing written; the snapshot is all-or-nothing.
func (s *SyncService) Sync(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if s.creds.AuthToken == "" || s.creds.SessionToken == "" {
		return nil, fmt.Errorf("sync: session credentials not configured")
	}

	snap, err := s.fetcher.FetchStats(ctx, s.creds, s.maxPages)
	if err != nil {
		return nil, err
	}

	date := time.Now().UTC().Format("2006-01-02")
	written, err := s.snapshotter.Apply(ctx, date, snap.Records)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		Date:    date,
		Records: written,
		Pages:   snap.Pages,
		Skipped: snap.Skipped,
		Reason:  snap.Reason,
	}

	if s.discoverer != nil && s.username != "" {
		result.Discovered = s.discover(ctx)
	}

	s.mu.Lock()
	s.lastSync = time.Now().UTC()
	s.lastRecords = written
	s.mu.Unlock()

	return result, nil
}

// discover registers article master records from the public RSS feed.
// Failures are logged, never fatal: discovery only pre-creates
// identities the stats path would create anyway.
func (s *SyncService) discover(ctx context.Context) int {
	refs, err := s.discoverer.Articles(ctx, s.username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync: rss discovery: %v\n", err)
		return 0
	}
	registered := 0
	for _, ref := range refs {
		if _, _, err := s.resolver.Resolve(ctx, ref.Key, ref.Title, ref.URL, store.StatusPublished); err != nil {
			fmt.Fprintf(os.Stderr, "sync: register %s: %v\n", ref.Key, err)
			continue
		}
		registered++
	}
	return registered
}

// Status returns whether a sync is running and when the last one
// finished.
func (s *SyncService) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{
		Syncing:     s.syncing,
		LastSync:    s.lastSync,
		LastRecords: s.lastRecords,
	}
}
