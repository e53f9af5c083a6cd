package ingest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/notepulse/notepulse/internal/store"
	"github.com/notepulse/notepulse/pkg/alert"
)

// ImportRow is one article's cumulative-to-date totals as found in a
// periodic export file. ExternalKey may be empty; Title is then the
// matching fallback.
type ImportRow struct {
	ExternalKey string
	Title       string
	PV          int
	Likes       int
	Comments    int
}

// ImportOptions controls one reconciliation run.
type ImportOptions struct {
	// Date is the calendar day (YYYY-MM-DD) the export was taken.
	Date string
	// BackfillOnly tags articles created by this import as drafts,
	// for historical registration without publishing them.
	BackfillOnly bool
	// PromoteDrafts flips matched articles that were already stored
	// as drafts before this import to published. Articles created by
	// this import keep their initial status.
	PromoteDrafts bool
}

// Anomaly reports a cumulative figure smaller than recorded history.
// The delta was clamped to zero for that metric: the system records no
// new activity rather than decreasing history. Lossy, deliberate, and
// always surfaced.
type Anomaly struct {
	ExternalKey string `json:"external_key,omitempty"`
	Title       string `json:"title"`
	Metric      string `json:"metric"`
	Reason      string `json:"reason"`
}

const reasonNegativeDeltaClamped = "negative-delta-clamped"

// ImportResult summarizes one reconciliation run.
type ImportResult struct {
	DeltasWritten int       `json:"deltas_written"`
	Skipped       int       `json:"skipped"`
	Promoted      int64     `json:"promoted"`
	Anomalies     []Anomaly `json:"anomalies,omitempty"`
}

// Reconciler converts cumulative totals into incremental daily deltas.
// Imports are serialized per reconciler so two overlapping runs cannot
// race on the same article's prior-sum-then-write sequence; each
// article's pair is additionally transactional in the store.
type Reconciler struct {
	store    store.Store
	resolver *Resolver

	mu sync.Mutex
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(s store.Store) *Reconciler {
	return &Reconciler{store: s, resolver: NewResolver(s)}
}

// Reconcile applies one cumulative export for opts.Date. Per-article
// failures are isolated: the failing row is counted as skipped and the
// rest of the batch proceeds. Re-running the same export for the same
// date yields the same deltas.
func (r *Reconciler) Reconcile(ctx context.Context, rows []ImportRow, opts ImportOptions) (*ImportResult, error) {
	if opts.Date == "" {
		return nil, fmt.Errorf("reconcile import: date is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := &ImportResult{}
	status := store.StatusPublished
	if opts.BackfillOnly {
		status = store.StatusDraft
	}

	var promote []int64
	for _, row := range dedupeRows(rows) {
		if row.ExternalKey == "" && row.Title == "" {
			result.Skipped++
			continue
		}

		a, created, err := r.resolver.Resolve(ctx, row.ExternalKey, row.Title, "", status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "import: skip %q: %v\n", rowLabel(row), err)
			result.Skipped++
			continue
		}

		cum := store.MetricTotals{PV: row.PV, Likes: row.Likes, Comments: row.Comments}
		prior, err := r.store.ApplyCumulative(ctx, a.ID, opts.Date, cum)
		if err != nil {
			fmt.Fprintf(os.Stderr, "import: skip %q: %v\n", rowLabel(row), err)
			result.Skipped++
			continue
		}
		result.DeltasWritten++

		for _, m := range []struct {
			name       string
			cum, prior int
		}{
			{"pv", cum.PV, prior.PV},
			{"likes", cum.Likes, prior.Likes},
			{"comments", cum.Comments, prior.Comments},
		} {
			if m.cum < m.prior {
				result.Anomalies = append(result.Anomalies, Anomaly{
					ExternalKey: row.ExternalKey,
					Title:       a.Title,
					Metric:      m.name,
					Reason:      reasonNegativeDeltaClamped,
				})
			}
		}

		// Only drafts that existed before this import qualify for
		// promotion; fresh registrations keep their initial status.
		if opts.PromoteDrafts && !created && a.Status == store.StatusDraft {
			promote = append(promote, a.ID)
		}
	}

	if len(promote) > 0 {
		n, err := r.store.PromoteArticles(ctx, promote)
		if err != nil {
			return nil, fmt.Errorf("promote drafts: %w", err)
		}
		result.Promoted = n
	}

	return result, nil
}

// Notification renders the result for operator alert destinations,
// turning each clamp anomaly into a display line.
func (r *ImportResult) Notification(date string) *alert.Notification {
	n := &alert.Notification{
		Title:   "Cumulative import reconciled",
		Body:    fmt.Sprintf("Wrote %d daily deltas", r.DeltasWritten),
		Event:   "import",
		Date:    date,
		Records: r.DeltasWritten,
		Skipped: r.Skipped,
	}
	for _, a := range r.Anomalies {
		n.Anomalies = append(n.Anomalies, fmt.Sprintf("%s %s (%s)", a.Title, a.Metric, a.Reason))
	}
	return n
}

// dedupeRows collapses duplicate articles within one export file, last
// row wins. Keyed rows and title-only rows are deduplicated in their
// own namespaces.
func dedupeRows(rows []ImportRow) []ImportRow {
	index := make(map[string]int, len(rows))
	out := make([]ImportRow, 0, len(rows))
	for _, row := range rows {
		id := "k:" + row.ExternalKey
		if row.ExternalKey == "" {
			id = "t:" + row.Title
		}
		if i, ok := index[id]; ok && id != "t:" {
			out[i] = row
			continue
		}
		index[id] = len(out)
		out = append(out, row)
	}
	return out
}

func rowLabel(row ImportRow) string {
	if row.ExternalKey != "" {
		return row.ExternalKey
	}
	return row.Title
}
