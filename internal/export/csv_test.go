package export

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/notepulse/notepulse/internal/store"
)

func TestWriteDetail(t *testing.T) {
	entries := []store.MetricEntry{
		{Date: "2026-08-01", Title: "Post A", PV: 100, Likes: 5, Comments: 1},
		{Date: "2026-08-01", Title: "Post, with comma", PV: 20},
	}

	var sb strings.Builder
	if err := WriteDetail(&sb, entries); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := sb.String()
	if !strings.HasPrefix(got, "\ufeff") {
		t.Error("missing BOM prefix")
	}
	want := "\ufeff日付,記事タイトル,PV,スキ,コメント\n" +
		"2026-08-01,Post A,100,5,1\n" +
		"2026-08-01,\"Post, with comma\",20,0,0\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteSummary(t *testing.T) {
	summaries := []store.ArticleSummary{
		{Title: "Post A", PV: 120, Likes: 5, Comments: 1, LastDate: "2026-08-02"},
		{Title: "No Metrics Yet"},
	}

	var sb strings.Builder
	if err := WriteSummary(&sb, summaries); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := "\ufeff記事タイトル,累計PV,累計スキ,累計コメント,最終更新日\n" +
		"Post A,120,5,1,2026-08-02\n"
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}
