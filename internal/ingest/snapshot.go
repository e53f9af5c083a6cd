package ingest

import (
	"context"
	"fmt"

	"github.com/notepulse/notepulse/internal/store"
	"github.com/notepulse/notepulse/pkg/note"
)

// Snapshotter applies full-day metric snapshots pulled directly from
// the stats API. A snapshot is the complete picture for its date, so
// the write replaces any rows previously stored for that date.
type Snapshotter struct {
	store    store.Store
	resolver *Resolver
}

// NewSnapshotter creates a snapshot applier.
func NewSnapshotter(s store.Store) *Snapshotter {
	return &Snapshotter{store: s, resolver: NewResolver(s)}
}

// Apply resolves every record's identity and replaces the metric rows
// for the given date. It never consults prior days. Returns the number
// of rows written.
func (s *Snapshotter) Apply(ctx context.Context, date string, records []note.Record) (int, error) {
	rows := make([]store.DailyMetric, 0, len(records))
	for _, rec := range records {
		a, _, err := s.resolver.Resolve(ctx, rec.Key, rec.Title, rec.URL, store.StatusPublished)
		if err != nil {
			return 0, fmt.Errorf("resolve %s: %w", rec.Key, err)
		}
		rows = append(rows, store.DailyMetric{
			ArticleID: a.ID,
			Date:      date,
			PV:        rec.PV,
			Likes:     rec.Likes,
			Comments:  rec.Comments,
		})
	}

	if err := s.store.ReplaceDay(ctx, date, rows); err != nil {
		return 0, fmt.Errorf("apply snapshot %s: %w", date, err)
	}
	return len(rows), nil
}
