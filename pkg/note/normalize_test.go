package note

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    map[string]any
		want   Record
		wantOK bool
	}{
		{
			name: "current api shape",
			raw: map[string]any{
				"id": float64(123), "name": "First Post",
				"noteUrl":   "https://note.com/u/n/nabc",
				"readCount": float64(100), "likeCount": float64(8), "commentCount": float64(2),
			},
			want:   Record{Key: "123", Title: "First Post", URL: "https://note.com/u/n/nabc", PV: 100, Likes: 8, Comments: 2},
			wantOK: true,
		},
		{
			name: "legacy field names",
			raw: map[string]any{
				"key": "nabc", "title": "Old Shape",
				"pv": float64(55), "likes": float64(4), "comments": float64(1),
			},
			want:   Record{Key: "nabc", Title: "Old Shape", PV: 55, Likes: 4, Comments: 1},
			wantOK: true,
		},
		{
			name: "modern field wins over legacy",
			raw: map[string]any{
				"key":       "nabc",
				"readCount": float64(100), "pv": float64(999),
			},
			want:   Record{Key: "nabc", Title: untitled, PV: 100},
			wantOK: true,
		},
		{
			name: "explicit zero is not masked by lower priority",
			raw: map[string]any{
				"key":       "nabc",
				"readCount": float64(0), "pv": float64(999),
				"likeCount": float64(0), "likes": float64(7),
			},
			want:   Record{Key: "nabc", Title: untitled, PV: 0, Likes: 0},
			wantOK: true,
		},
		{
			name: "null falls through to lower priority",
			raw: map[string]any{
				"key":       "nabc",
				"readCount": nil, "viewCount": float64(12),
			},
			want:   Record{Key: "nabc", Title: untitled, PV: 12},
			wantOK: true,
		},
		{
			name: "url reconstructed from user and key",
			raw: map[string]any{
				"key": "n123", "userUrlname": "writer",
			},
			want:   Record{Key: "n123", Title: untitled, URL: "https://note.com/writer/n/n123"},
			wantOK: true,
		},
		{
			name: "negative counts clamp to zero",
			raw: map[string]any{
				"key": "nabc", "readCount": float64(-5),
			},
			want:   Record{Key: "nabc", Title: untitled},
			wantOK: true,
		},
		{
			name:   "no identity key skips record",
			raw:    map[string]any{"title": "orphan", "pv": float64(10)},
			wantOK: false,
		},
		{
			name:   "null identity skips record",
			raw:    map[string]any{"id": nil, "key": nil, "pv": float64(10)},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
