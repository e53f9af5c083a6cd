package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of an article master record. Draft is
// only ever assigned at import time for backfill registrations and is
// never regressed to automatically.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Article is the master record for one upstream article.
type Article struct {
	ID          int64     `db:"id" json:"id"`
	ExternalKey string    `db:"external_key" json:"external_key,omitempty"`
	Title       string    `db:"title" json:"title"`
	URL         string    `db:"url" json:"url,omitempty"`
	Status      Status    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DailyMetric is one article's incremental activity for one calendar
// day. Exactly one row exists per (article, date).
type DailyMetric struct {
	ArticleID int64  `db:"article_id" json:"article_id"`
	Date      string `db:"date" json:"date"`
	PV        int    `db:"pv" json:"pv"`
	Likes     int    `db:"likes" json:"likes"`
	Comments  int    `db:"comments" json:"comments"`
}

// MetricTotals aggregates the three counters.
type MetricTotals struct {
	PV       int `db:"pv" json:"pv"`
	Likes    int `db:"likes" json:"likes"`
	Comments int `db:"comments" json:"comments"`
}

// MetricEntry is a daily metric row joined with its article title.
type MetricEntry struct {
	Date      string `db:"date" json:"date"`
	ArticleID int64  `db:"article_id" json:"article_id"`
	Title     string `db:"title" json:"title"`
	PV        int    `db:"pv" json:"pv"`
	Likes     int    `db:"likes" json:"likes"`
	Comments  int    `db:"comments" json:"comments"`
}

// ArticleSummary is one article with its cumulative totals.
type ArticleSummary struct {
	ID          int64  `db:"id" json:"id"`
	ExternalKey string `db:"external_key" json:"external_key,omitempty"`
	Title       string `db:"title" json:"title"`
	URL         string `db:"url" json:"url,omitempty"`
	Status      Status `db:"status" json:"status"`
	PV          int    `db:"pv" json:"pv"`
	Likes       int    `db:"likes" json:"likes"`
	Comments    int    `db:"comments" json:"comments"`
	LastDate    string `db:"last_date" json:"last_date,omitempty"`
}

// AccountStat is a manually entered account-level figure for one day.
// Nil fields were not provided and never overwrite stored values.
type AccountStat struct {
	Date      string `db:"date" json:"date"`
	Followers *int   `db:"followers" json:"followers,omitempty"`
	Revenue   *int   `db:"revenue" json:"revenue,omitempty"`
}

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrIdentityConflict is returned when storage maps two distinct
	// external keys onto one identity. It is surfaced, never merged.
	ErrIdentityConflict = errors.New("article identity conflict")
)

// Store is the persistence interface.
type Store interface {
	EnsureArticle(ctx context.Context, key, title, url string, status Status) (*Article, bool, error)
	CreateArticleByTitle(ctx context.Context, title string, status Status) (*Article, error)
	GetArticleByTitle(ctx context.Context, title string) (*Article, error)
	ListArticles(ctx context.Context) ([]Article, error)
	PromoteArticles(ctx context.Context, ids []int64) (int64, error)

	ReplaceDay(ctx context.Context, date string, rows []DailyMetric) error
	ApplyCumulative(ctx context.Context, articleID int64, date string, cum MetricTotals) (MetricTotals, error)
	SumMetricsBefore(ctx context.Context, articleID int64, date string) (MetricTotals, error)
	MetricsInRange(ctx context.Context, start, end string) ([]MetricEntry, error)
	TotalsAll(ctx context.Context) (MetricTotals, error)
	ArticleSummaries(ctx context.Context) ([]ArticleSummary, error)

	UpsertAccountStats(ctx context.Context, stat AccountStat) error
	LatestAccountStats(ctx context.Context) (*AccountStat, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// dsnFor appends driver options for file databases: WAL journaling, a
// busy timeout, and immediate transactions so writers take the write
// lock when a transaction begins, not on its first write. In-memory
// databases take no options.
func dsnFor(path string) string {
	if path == ":memory:" {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsnFor(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const articleColumns = `id, COALESCE(external_key, '') AS external_key, title, url, status, created_at, updated_at`

// EnsureArticle resolves an external key to its article, creating the
// master record if absent. The create step is insert-if-absent then
// read, keyed on external_key, so concurrent resolution of the same
// key never produces duplicates. On repeat sightings title and url are
// refreshed last-write-wins; status is left untouched. The second
// return value reports whether the record was created by this call.
func (s *SQLiteStore) EnsureArticle(ctx context.Context, key, title, url string, status Status) (*Article, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("ensure article: empty external key")
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (external_key, title, url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_key) DO NOTHING
	`, key, title, url, status, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert article %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert article %s: %w", key, err)
	}
	created := n > 0

	if !created {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE articles SET title = ?, url = ?, updated_at = ? WHERE external_key = ?
		`, title, url, now, key); err != nil {
			return nil, false, fmt.Errorf("refresh article %s: %w", key, err)
		}
	}

	var a Article
	err = s.db.GetContext(ctx, &a,
		`SELECT `+articleColumns+` FROM articles WHERE external_key = ?`, key)
	if err != nil {
		return nil, false, fmt.Errorf("get article %s: %w", key, err)
	}
	if a.ExternalKey != key {
		return nil, false, fmt.Errorf("article %s resolved to key %s: %w", key, a.ExternalKey, ErrIdentityConflict)
	}
	return &a, created, nil
}

// CreateArticleByTitle registers an article that has no known external
// key yet, as happens for rows matched by title in cumulative imports.
func (s *SQLiteStore) CreateArticleByTitle(ctx context.Context, title string, status Status) (*Article, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (external_key, title, url, status, created_at, updated_at)
		VALUES (NULL, ?, '', ?, ?, ?)
	`, title, status, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert article %q: %w", title, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert article %q: %w", title, err)
	}

	var a Article
	if err := s.db.GetContext(ctx, &a,
		`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get article %d: %w", id, err)
	}
	return &a, nil
}

// GetArticleByTitle returns the oldest article with the given title,
// or ErrNotFound.
func (s *SQLiteStore) GetArticleByTitle(ctx context.Context, title string) (*Article, error) {
	var a Article
	err := s.db.GetContext(ctx, &a,
		`SELECT `+articleColumns+` FROM articles WHERE title = ? ORDER BY id LIMIT 1`, title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article by title %q: %w", title, err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListArticles(ctx context.Context) ([]Article, error) {
	var articles []Article
	err := s.db.SelectContext(ctx, &articles,
		`SELECT `+articleColumns+` FROM articles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}

// PromoteArticles flips the given articles from draft to published and
// returns how many rows changed. Already-published articles are left
// alone.
func (s *SQLiteStore) PromoteArticles(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`UPDATE articles SET status = 'published', updated_at = ? WHERE id IN (?) AND status = 'draft'`,
		time.Now().UTC(), ids)
	if err != nil {
		return 0, fmt.Errorf("promote articles: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("promote articles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote articles: %w", err)
	}
	return n, nil
}

// ReplaceDay replaces every metric row for the given date with the
// supplied rows in one transaction. This is the authoritative-snapshot
// write: repeated applies for the same date are idempotent.
func (s *SQLiteStore) ReplaceDay(ctx context.Context, date string, rows []DailyMetric) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_metrics WHERE date = ?`, date); err != nil {
		return fmt.Errorf("clear day %s: %w", date, err)
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO article_metrics (article_id, date, pv, likes, comments)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(article_id, date) DO UPDATE SET
				pv = excluded.pv, likes = excluded.likes, comments = excluded.comments
		`, r.ArticleID, date, r.PV, r.Likes, r.Comments); err != nil {
			return fmt.Errorf("insert metric article %d: %w", r.ArticleID, err)
		}
	}
	return tx.Commit()
}

const sumBeforeQuery = `
	SELECT COALESCE(SUM(pv), 0) AS pv,
	       COALESCE(SUM(likes), 0) AS likes,
	       COALESCE(SUM(comments), 0) AS comments
	FROM article_metrics WHERE article_id = ? AND date < ?`

// SumMetricsBefore returns the cumulative totals recorded for an
// article strictly before the given date.
func (s *SQLiteStore) SumMetricsBefore(ctx context.Context, articleID int64, date string) (MetricTotals, error) {
	var t MetricTotals
	if err := s.db.GetContext(ctx, &t, sumBeforeQuery, articleID, date); err != nil {
		return t, fmt.Errorf("sum metrics before %s for article %d: %w", date, articleID, err)
	}
	return t, nil
}

// ApplyCumulative converts a cumulative-to-date total into the delta
// for the given date and upserts it, all inside one transaction so a
// concurrent reconciliation of the same article and date cannot
// interleave between the prior-sum read and the write. Deltas are
// clamped at zero per metric; history is never decreased. The prior
// sums are returned so callers can report clamp anomalies.
func (s *SQLiteStore) ApplyCumulative(ctx context.Context, articleID int64, date string, cum MetricTotals) (MetricTotals, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return MetricTotals{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var prior MetricTotals
	if err := tx.GetContext(ctx, &prior, sumBeforeQuery, articleID, date); err != nil {
		return prior, fmt.Errorf("sum metrics before %s for article %d: %w", date, articleID, err)
	}

	delta := MetricTotals{
		PV:       max(0, cum.PV-prior.PV),
		Likes:    max(0, cum.Likes-prior.Likes),
		Comments: max(0, cum.Comments-prior.Comments),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO article_metrics (article_id, date, pv, likes, comments)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(article_id, date) DO UPDATE SET
			pv = excluded.pv, likes = excluded.likes, comments = excluded.comments
	`, articleID, date, delta.PV, delta.Likes, delta.Comments); err != nil {
		return prior, fmt.Errorf("upsert delta article %d date %s: %w", articleID, date, err)
	}

	if err := tx.Commit(); err != nil {
		return prior, fmt.Errorf("commit delta article %d: %w", articleID, err)
	}
	return prior, nil
}

// MetricsInRange lists metric rows joined with article titles, date
// ascending. Empty bounds are open.
func (s *SQLiteStore) MetricsInRange(ctx context.Context, start, end string) ([]MetricEntry, error) {
	var entries []MetricEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT m.date, m.article_id, a.title, m.pv, m.likes, m.comments
		FROM article_metrics m
		JOIN articles a ON a.id = m.article_id
		WHERE (? = '' OR m.date >= ?) AND (? = '' OR m.date <= ?)
		ORDER BY m.date, a.title
	`, start, start, end, end)
	if err != nil {
		return nil, fmt.Errorf("metrics in range: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) TotalsAll(ctx context.Context) (MetricTotals, error) {
	var t MetricTotals
	err := s.db.GetContext(ctx, &t, `
		SELECT COALESCE(SUM(pv), 0) AS pv,
		       COALESCE(SUM(likes), 0) AS likes,
		       COALESCE(SUM(comments), 0) AS comments
		FROM article_metrics`)
	if err != nil {
		return t, fmt.Errorf("total metrics: %w", err)
	}
	return t, nil
}

// ArticleSummaries lists every article with cumulative totals and the
// last recorded date, sorted by page views descending.
func (s *SQLiteStore) ArticleSummaries(ctx context.Context) ([]ArticleSummary, error) {
	var sums []ArticleSummary
	err := s.db.SelectContext(ctx, &sums, `
		SELECT a.id, COALESCE(a.external_key, '') AS external_key, a.title, a.url, a.status,
		       COALESCE(SUM(m.pv), 0) AS pv,
		       COALESCE(SUM(m.likes), 0) AS likes,
		       COALESCE(SUM(m.comments), 0) AS comments,
		       COALESCE(MAX(m.date), '') AS last_date
		FROM articles a
		LEFT JOIN article_metrics m ON m.article_id = a.id
		GROUP BY a.id
		ORDER BY pv DESC, a.title
	`)
	if err != nil {
		return nil, fmt.Errorf("article summaries: %w", err)
	}
	return sums, nil
}

// UpsertAccountStats records manual account figures for one date. Nil
// fields keep whatever is already stored for that date.
func (s *SQLiteStore) UpsertAccountStats(ctx context.Context, stat AccountStat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_stats (date, followers, revenue)
		VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			followers = COALESCE(excluded.followers, account_stats.followers),
			revenue = COALESCE(excluded.revenue, account_stats.revenue)
	`, stat.Date, stat.Followers, stat.Revenue)
	if err != nil {
		return fmt.Errorf("upsert account stats %s: %w", stat.Date, err)
	}
	return nil
}

// LatestAccountStats returns the most recent account stats row, or
// ErrNotFound when none have been recorded.
func (s *SQLiteStore) LatestAccountStats(ctx context.Context) (*AccountStat, error) {
	var stat AccountStat
	err := s.db.GetContext(ctx, &stat,
		`SELECT date, followers, revenue FROM account_stats ORDER BY date DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest account stats: %w", err)
	}
	return &stat, nil
}
