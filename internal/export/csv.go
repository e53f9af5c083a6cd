// Package export renders stored metrics as CSV files compatible with
// the spreadsheets users already keep.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/notepulse/notepulse/internal/store"
)

// utf8BOM keeps Excel happy with the Japanese headers.
const utf8BOM = "\ufeff"

// WriteDetail writes one row per (date, article) day with its three
// counters.
func WriteDetail(w io.Writer, entries []store.MetricEntry) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"日付", "記事タイトル", "PV", "スキ", "コメント"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.Date,
			e.Title,
			strconv.Itoa(e.PV),
			strconv.Itoa(e.Likes),
			strconv.Itoa(e.Comments),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s/%s: %w", e.Date, e.Title, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSummary writes one row per article with its cumulative totals
// and last recorded date. Articles with no metrics yet are omitted.
func WriteSummary(w io.Writer, summaries []store.ArticleSummary) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"記事タイトル", "累計PV", "累計スキ", "累計コメント", "最終更新日"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range summaries {
		if s.LastDate == "" {
			continue
		}
		row := []string{
			s.Title,
			strconv.Itoa(s.PV),
			strconv.Itoa(s.Likes),
			strconv.Itoa(s.Comments),
			s.LastDate,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", s.Title, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
