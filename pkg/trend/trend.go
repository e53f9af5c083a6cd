// Package trend aggregates stored daily metrics into timelines and
// period comparisons for the dashboard surfaces.
package trend

import (
	"fmt"
	"sort"
	"time"

	"github.com/notepulse/notepulse/internal/store"
)

// Period selects the timeline aggregation granularity.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod validates a period string. Empty means daily.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDaily:
		return PeriodDaily, nil
	case PeriodWeekly:
		return PeriodWeekly, nil
	case PeriodMonthly:
		return PeriodMonthly, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

const dateLayout = "2006-01-02"

// BucketKey maps a calendar day onto its aggregation bucket. Weeks
// start on Sunday; unparseable dates bucket under themselves.
func BucketKey(date string, p Period) string {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	switch p {
	case PeriodWeekly:
		return d.AddDate(0, 0, -int(d.Weekday())).Format(dateLayout)
	case PeriodMonthly:
		return d.Format("2006-01")
	default:
		return date
	}
}

// Bucket is one aggregated timeline point.
type Bucket struct {
	Key      string `json:"key"`
	PV       int    `json:"pv"`
	Likes    int    `json:"likes"`
	Comments int    `json:"comments"`
}

// Timeline aggregates metric entries into sorted buckets.
func Timeline(entries []store.MetricEntry, p Period) []Bucket {
	byKey := make(map[string]*Bucket)
	for _, e := range entries {
		key := BucketKey(e.Date, p)
		b, ok := byKey[key]
		if !ok {
			b = &Bucket{Key: key}
			byKey[key] = b
		}
		b.PV += e.PV
		b.Likes += e.Likes
		b.Comments += e.Comments
	}

	buckets := make([]Bucket, 0, len(byKey))
	for _, b := range byKey {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}

// Change is one metric's movement between two periods.
type Change struct {
	Before    int `json:"before"`
	After     int `json:"after"`
	PctChange int `json:"pct_change"`
}

// Comparison holds per-metric movement between two periods.
type Comparison struct {
	PV       Change `json:"pv"`
	Likes    Change `json:"likes"`
	Comments Change `json:"comments"`
}

// Compare computes percent change per metric between two period
// totals. A zero baseline reports zero percent rather than dividing.
func Compare(before, after store.MetricTotals) Comparison {
	return Comparison{
		PV:       change(before.PV, after.PV),
		Likes:    change(before.Likes, after.Likes),
		Comments: change(before.Comments, after.Comments),
	}
}

func change(before, after int) Change {
	pct := 0
	if before > 0 {
		pct = (after - before) * 100 / before
	}
	return Change{Before: before, After: after, PctChange: pct}
}

// Direction is a per-article movement indicator.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Classify compares an article's recent window against the previous
// one and returns the direction with its percent value. Movements
// under 5% read as flat, matching how the dashboard rounds.
func Classify(previous, recent int) (Direction, int) {
	if previous == 0 {
		if recent > 0 {
			return DirectionUp, 100
		}
		return DirectionFlat, 0
	}
	pct := (recent - previous) * 100 / previous
	switch {
	case pct >= 5:
		return DirectionUp, pct
	case pct <= -5:
		return DirectionDown, pct
	}
	return DirectionFlat, pct
}
