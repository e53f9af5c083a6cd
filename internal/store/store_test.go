package store

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var ignoreTimestamps = cmpopts.IgnoreFields(Article{}, "CreatedAt", "UpdatedAt")

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureArticleIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a1, created, err := s.EnsureArticle(ctx, "n1", "First", "https://note.com/u/n/n1", StatusPublished)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Error("first sighting should create")
	}

	a2, created, err := s.EnsureArticle(ctx, "n1", "First (edited)", "https://note.com/u/n/n1", StatusPublished)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if created {
		t.Error("second sighting must not create")
	}
	if a2.ID != a1.ID {
		t.Errorf("internal id changed: %d != %d", a2.ID, a1.ID)
	}
	if a2.Title != "First (edited)" {
		t.Errorf("title not refreshed: %q", a2.Title)
	}
}

func TestEnsureArticleDoesNotRegressStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, _, err := s.EnsureArticle(ctx, "n1", "T", "", StatusPublished); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// A later sighting that asks for draft must not demote.
	a, _, err := s.EnsureArticle(ctx, "n1", "T", "", StatusDraft)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if a.Status != StatusPublished {
		t.Errorf("status regressed to %q", a.Status)
	}
}

func TestEnsureArticleEmptyKey(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.EnsureArticle(context.Background(), "", "T", "", StatusPublished); err == nil {
		t.Fatal("expected error for empty external key")
	}
}

func TestCreateAndGetByTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.CreateArticleByTitle(ctx, "Keyless", StatusDraft)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ExternalKey != "" {
		t.Errorf("expected empty external key, got %q", a.ExternalKey)
	}

	// Two keyless articles may coexist; lookup returns the oldest.
	if _, err := s.CreateArticleByTitle(ctx, "Keyless", StatusDraft); err != nil {
		t.Fatalf("create duplicate title: %v", err)
	}
	got, err := s.GetArticleByTitle(ctx, "Keyless")
	if err != nil {
		t.Fatalf("get by title: %v", err)
	}
	if diff := cmp.Diff(*a, *got, ignoreTimestamps); diff != "" {
		t.Errorf("article mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetArticleByTitle(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceDayIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _, err := s.EnsureArticle(ctx, "n1", "T", "", StatusPublished)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	rows := []DailyMetric{{ArticleID: a.ID, Date: "2026-08-30", PV: 100, Likes: 5, Comments: 1}}
	for i := 0; i < 2; i++ {
		if err := s.ReplaceDay(ctx, "2026-08-30", rows); err != nil {
			t.Fatalf("replace day (pass %d): %v", i, err)
		}
	}

	entries, err := s.MetricsInRange(ctx, "", "")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := []MetricEntry{{Date: "2026-08-30", ArticleID: a.ID, Title: "T", PV: 100, Likes: 5, Comments: 1}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceDayDropsStaleRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _, _ := s.EnsureArticle(ctx, "n1", "A", "", StatusPublished)
	b, _, _ := s.EnsureArticle(ctx, "n2", "B", "", StatusPublished)

	day := "2026-08-30"
	if err := s.ReplaceDay(ctx, day, []DailyMetric{
		{ArticleID: a.ID, Date: day, PV: 10},
		{ArticleID: b.ID, Date: day, PV: 20},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	// Second snapshot no longer contains article B for that day.
	if err := s.ReplaceDay(ctx, day, []DailyMetric{
		{ArticleID: a.ID, Date: day, PV: 15},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	entries, err := s.MetricsInRange(ctx, day, day)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(entries) != 1 || entries[0].ArticleID != a.ID || entries[0].PV != 15 {
		t.Errorf("unexpected rows after replacement: %+v", entries)
	}
}

func TestApplyCumulative(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _, _ := s.EnsureArticle(ctx, "n1", "T", "", StatusPublished)
	if err := s.ReplaceDay(ctx, "2026-08-01", []DailyMetric{
		{ArticleID: a.ID, Date: "2026-08-01", PV: 60, Likes: 3, Comments: 1},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.ReplaceDay(ctx, "2026-08-02", []DailyMetric{
		{ArticleID: a.ID, Date: "2026-08-02", PV: 40, Likes: 2, Comments: 0},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	prior, err := s.ApplyCumulative(ctx, a.ID, "2026-08-10", MetricTotals{PV: 130, Likes: 7, Comments: 2})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff(MetricTotals{PV: 100, Likes: 5, Comments: 1}, prior); diff != "" {
		t.Errorf("prior mismatch (-want +got):\n%s", diff)
	}

	got, err := s.SumMetricsBefore(ctx, a.ID, "2026-08-11")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if diff := cmp.Diff(MetricTotals{PV: 130, Likes: 7, Comments: 2}, got); diff != "" {
		t.Errorf("cumulative after delta mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyCumulativeClampsNegative(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _, _ := s.EnsureArticle(ctx, "n1", "T", "", StatusPublished)
	if _, err := s.ApplyCumulative(ctx, a.ID, "2026-08-01", MetricTotals{PV: 100}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// A stale export reports less than recorded history.
	prior, err := s.ApplyCumulative(ctx, a.ID, "2026-08-05", MetricTotals{PV: 80})
	if err != nil {
		t.Fatalf("apply stale: %v", err)
	}
	if prior.PV != 100 {
		t.Errorf("prior pv = %d, want 100", prior.PV)
	}

	entries, err := s.MetricsInRange(ctx, "2026-08-05", "2026-08-05")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(entries) != 1 || entries[0].PV != 0 {
		t.Errorf("clamped delta rows = %+v, want single zero row", entries)
	}
}

func TestApplyCumulativeReimportIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _, _ := s.EnsureArticle(ctx, "n1", "T", "", StatusPublished)
	for i := 0; i < 2; i++ {
		if _, err := s.ApplyCumulative(ctx, a.ID, "2026-08-10", MetricTotals{PV: 130}); err != nil {
			t.Fatalf("apply (pass %d): %v", i, err)
		}
	}

	total, err := s.TotalsAll(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if total.PV != 130 {
		t.Errorf("total pv = %d after re-import, want 130", total.PV)
	}
}

func TestPromoteArticles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	draft, _ := s.CreateArticleByTitle(ctx, "Draft", StatusDraft)
	pub, _, _ := s.EnsureArticle(ctx, "n1", "Pub", "", StatusPublished)

	n, err := s.PromoteArticles(ctx, []int64{draft.ID, pub.ID})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 1 {
		t.Errorf("promoted %d rows, want 1", n)
	}

	got, err := s.GetArticleByTitle(ctx, "Draft")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPublished {
		t.Errorf("status = %q, want published", got.Status)
	}
}

func TestArticleSummaries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _, _ := s.EnsureArticle(ctx, "n1", "A", "", StatusPublished)
	b, _, _ := s.EnsureArticle(ctx, "n2", "B", "", StatusPublished)
	_ = s.ReplaceDay(ctx, "2026-08-01", []DailyMetric{
		{ArticleID: a.ID, Date: "2026-08-01", PV: 10, Likes: 1},
		{ArticleID: b.ID, Date: "2026-08-01", PV: 50, Likes: 2},
	})
	_ = s.ReplaceDay(ctx, "2026-08-02", []DailyMetric{
		{ArticleID: a.ID, Date: "2026-08-02", PV: 5, Comments: 1},
	})

	sums, err := s.ArticleSummaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	want := []ArticleSummary{
		{ID: b.ID, ExternalKey: "n2", Title: "B", Status: StatusPublished, PV: 50, Likes: 2, LastDate: "2026-08-01"},
		{ID: a.ID, ExternalKey: "n1", Title: "A", Status: StatusPublished, PV: 15, Likes: 1, Comments: 1, LastDate: "2026-08-02"},
	}
	if diff := cmp.Diff(want, sums); diff != "" {
		t.Errorf("summaries mismatch (-want +got):\n%s", diff)
	}
}

func TestAccountStatsFieldLevelUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	followers := 120
	if err := s.UpsertAccountStats(ctx, AccountStat{Date: "2026-08-30", Followers: &followers}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	revenue := 5000
	if err := s.UpsertAccountStats(ctx, AccountStat{Date: "2026-08-30", Revenue: &revenue}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.LatestAccountStats(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Followers == nil || *got.Followers != 120 {
		t.Errorf("followers lost on partial upsert: %v", got.Followers)
	}
	if got.Revenue == nil || *got.Revenue != 5000 {
		t.Errorf("revenue = %v, want 5000", got.Revenue)
	}
}

func TestLatestAccountStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LatestAccountStats(context.Background()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDSNOptions(t *testing.T) {
	if got := dsnFor(":memory:"); got != ":memory:" {
		t.Errorf("dsnFor(:memory:) = %q, want bare path", got)
	}

	got := dsnFor("/data/pulse.db")
	for _, opt := range []string{"_journal_mode=WAL", "_busy_timeout=5000", "_txlock=immediate"} {
		if !strings.Contains(got, opt) {
			t.Errorf("dsnFor file path = %q, missing %s", got, opt)
		}
	}
}
