package ingest

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeCumulativeCSV(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        []ImportRow
		wantSkipped int
		wantErr     bool
	}{
		{
			name: "japanese export headers",
			input: "タイトル,ビュー,スキ,コメント\n" +
				"記事その1,1200,45,3\n" +
				"記事その2,300,8,0\n",
			want: []ImportRow{
				{Title: "記事その1", PV: 1200, Likes: 45, Comments: 3},
				{Title: "記事その2", PV: 300, Likes: 8},
			},
		},
		{
			name: "english aliases and bom",
			input: "\ufeffTitle,Views,Likes,Comments\n" +
				"\"Post, with comma\",100,5,1\n",
			want: []ImportRow{
				{Title: "Post, with comma", PV: 100, Likes: 5, Comments: 1},
			},
		},
		{
			name: "key column",
			input: "key,title,pv\n" +
				"n1,Post,50\n",
			want: []ImportRow{
				{ExternalKey: "n1", Title: "Post", PV: 50},
			},
		},
		{
			name: "blank and titleless rows skipped",
			input: "タイトル,PV\n" +
				"\n" +
				",100\n" +
				"Post,10\n",
			want:        []ImportRow{{Title: "Post", PV: 10}},
			wantSkipped: 1,
		},
		{
			name: "thousands separators and bad numbers",
			input: "タイトル,PV,スキ\n" +
				"Post,\"1,234\",n/a\n",
			want: []ImportRow{{Title: "Post", PV: 1234}},
		},
		{
			name:    "no usable columns",
			input:   "foo,bar\n1,2\n",
			wantErr: true,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, skipped, err := DecodeCumulativeCSV(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, rows); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
			if skipped != tt.wantSkipped {
				t.Errorf("skipped = %d, want %d", skipped, tt.wantSkipped)
			}
		})
	}
}
