package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The platform's CSV exports have shipped with several header sets,
// Japanese and English. Each logical column is matched against an
// ordered alias list, first hit wins.
var (
	csvTitleHeaders   = []string{"タイトル", "記事名", "記事タイトル", "title", "Title", "Article"}
	csvKeyHeaders     = []string{"キー", "key", "Key", "ID", "id"}
	csvPVHeaders      = []string{"ビュー", "ビュー数", "PV", "pv", "Views", "views"}
	csvLikeHeaders    = []string{"スキ", "いいね", "likes", "Likes", "Like"}
	csvCommentHeaders = []string{"コメント", "comments", "Comments", "Comment"}
)

// DecodeCumulativeCSV reads a cumulative export file into import rows.
// Rows without a title or key are counted as skipped, not failed.
// Numeric cells that do not parse count as zero, matching how the
// export renders empty metrics.
func DecodeCumulativeCSV(r io.Reader) ([]ImportRow, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, 0, fmt.Errorf("decode csv: empty file")
	}
	if err != nil {
		return nil, 0, fmt.Errorf("decode csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	titleCol := findColumn(header, csvTitleHeaders)
	keyCol := findColumn(header, csvKeyHeaders)
	if titleCol < 0 && keyCol < 0 {
		return nil, 0, fmt.Errorf("decode csv: no title or key column in header %v", header)
	}
	pvCol := findColumn(header, csvPVHeaders)
	likeCol := findColumn(header, csvLikeHeaders)
	commentCol := findColumn(header, csvCommentHeaders)

	var rows []ImportRow
	skipped := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("decode csv row: %w", err)
		}
		if blankRecord(record) {
			continue
		}

		row := ImportRow{
			ExternalKey: cell(record, keyCol),
			Title:       cell(record, titleCol),
			PV:          cellInt(record, pvCol),
			Likes:       cellInt(record, likeCol),
			Comments:    cellInt(record, commentCol),
		}
		if row.ExternalKey == "" && row.Title == "" {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

func findColumn(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range header {
			if strings.TrimSpace(h) == alias {
				return i
			}
		}
	}
	return -1
}

func cell(record []string, col int) string {
	if col < 0 || col >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[col])
}

func cellInt(record []string, col int) int {
	s := cell(record, col)
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func blankRecord(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
