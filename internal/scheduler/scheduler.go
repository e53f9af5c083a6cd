package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/notepulse/notepulse/internal/ingest"
	"github.com/notepulse/notepulse/pkg/alert"
)

// Scheduler runs periodic stat synchronization.
type Scheduler struct {
	sync     *ingest.SyncService
	alertMgr *alert.Manager
	interval time.Duration
}

// New creates a new scheduler.
func New(sync *ingest.SyncService, alertMgr *alert.Manager, interval time.Duration) *Scheduler {
	if interval == 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		sync:     sync,
		alertMgr: alertMgr,
		interval: interval,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	fmt.Fprintln(os.Stderr, "scheduler: initial sync...")
	s.syncAndAlert(ctx)

	fmt.Fprintf(os.Stderr, "scheduler: running (sync every %s)\n", s.interval)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprintln(os.Stderr, "scheduler: syncing...")
			s.syncAndAlert(ctx)
		}
	}
}

func (s *Scheduler) syncAndAlert(ctx context.Context) {
	result, err := s.sync.Sync(ctx)
	if err != nil {
		if errors.Is(err, ingest.ErrSyncInProgress) {
			fmt.Fprintln(os.Stderr, "  sync already running, skipped")
			return
		}
		fmt.Fprintf(os.Stderr, "  sync error: %v\n", err)
		return
	}

	fmt.Fprintf(os.Stderr, "  synced %d records for %s (%d pages, %d skipped)\n",
		result.Records, result.Date, result.Pages, result.Skipped)

	if !s.alertMgr.HasNotifiers() {
		return
	}

	notification := &alert.Notification{
		Title:   "note.com stats synced",
		Body:    fmt.Sprintf("Fetched %d articles across %d pages (%s)", result.Records, result.Pages, result.Reason),
		Event:   "sync",
		Date:    result.Date,
		Records: result.Records,
		Skipped: result.Skipped,
	}

	if err := s.alertMgr.Broadcast(ctx, notification); err != nil {
		fmt.Fprintf(os.Stderr, "  alert error: %v\n", err)
	}
}
