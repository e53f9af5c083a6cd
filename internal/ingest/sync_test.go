package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notepulse/notepulse/internal/store"
	"github.com/notepulse/notepulse/pkg/note"
)

type fakeFetcher struct {
	snap    *note.Snapshot
	err     error
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeFetcher) FetchStats(ctx context.Context, creds note.Credentials, maxPages int) (*note.Snapshot, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type fakeDiscoverer struct {
	refs []note.ArticleRef
}

func (f *fakeDiscoverer) Articles(ctx context.Context, username string) ([]note.ArticleRef, error) {
	return f.refs, nil
}

var testCreds = note.Credentials{AuthToken: "a", SessionToken: "s"}

func TestSyncAppliesSnapshot(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{snap: &note.Snapshot{
		Records: []note.Record{
			{Key: "n1", Title: "A", PV: 10},
			{Key: "n2", Title: "B", PV: 20},
		},
		Pages:   2,
		Skipped: 1,
		Reason:  note.TerminationEmptyPage,
	}}
	svc := NewSyncService(fetcher, nil, st, testCreds, "", 10)

	res, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Records != 2 || res.Skipped != 1 || res.Reason != note.TerminationEmptyPage {
		t.Errorf("result = %+v", res)
	}

	totals, err := st.TotalsAll(context.Background())
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.PV != 30 {
		t.Errorf("pv = %d, want 30", totals.PV)
	}

	status := svc.Status()
	if status.Syncing || status.LastSync.IsZero() || status.LastRecords != 2 {
		t.Errorf("status = %+v", status)
	}
}

func TestSyncFetchFailureWritesNothing(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{err: &note.FetchError{Page: 2, Status: 403}}
	svc := NewSyncService(fetcher, nil, st, testCreds, "", 10)

	_, err := svc.Sync(context.Background())
	var fetchErr *note.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *note.FetchError, got %v", err)
	}

	totals, _ := st.TotalsAll(context.Background())
	if totals.PV != 0 {
		t.Errorf("partial snapshot was applied: %+v", totals)
	}
	if !svc.Status().LastSync.IsZero() {
		t.Error("failed sync must not update last sync time")
	}
}

func TestSyncRejectsOverlap(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{
		snap:    &note.Snapshot{Reason: note.TerminationEmptyPage},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	svc := NewSyncService(fetcher, nil, st, testCreds, "", 10)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Sync(context.Background())
		done <- err
	}()

	<-fetcher.started
	if _, err := svc.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}

	close(fetcher.block)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first sync: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first sync did not finish")
	}

	// After completion the guard is released.
	if _, err := svc.Sync(context.Background()); err != nil {
		t.Errorf("sync after release: %v", err)
	}
}

func TestSyncRequiresCredentials(t *testing.T) {
	svc := NewSyncService(&fakeFetcher{snap: &note.Snapshot{}}, nil, newTestStore(t), note.Credentials{}, "", 10)
	if _, err := svc.Sync(context.Background()); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestSyncRegistersDiscoveredArticles(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{snap: &note.Snapshot{Reason: note.TerminationEmptyPage}}
	disc := &fakeDiscoverer{refs: []note.ArticleRef{
		{Key: "n9", Title: "From RSS", URL: "https://note.com/u/n/n9"},
	}}
	svc := NewSyncService(fetcher, disc, st, testCreds, "u", 10)

	res, err := svc.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Discovered != 1 {
		t.Errorf("discovered = %d, want 1", res.Discovered)
	}

	a, err := st.GetArticleByTitle(context.Background(), "From RSS")
	if err != nil {
		t.Fatalf("discovered article not registered: %v", err)
	}
	if a.ExternalKey != "n9" || a.Status != store.StatusPublished {
		t.Errorf("article = %+v", a)
	}
}
