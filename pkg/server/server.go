package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/notepulse/notepulse/internal/export"
	"github.com/notepulse/notepulse/internal/ingest"
	"github.com/notepulse/notepulse/internal/store"
	"github.com/notepulse/notepulse/pkg/alert"
	"github.com/notepulse/notepulse/pkg/trend"
)

// Server provides the HTTP API.
type Server struct {
	store      store.Store
	sync       *ingest.SyncService
	reconciler *ingest.Reconciler
	alerts     *alert.Manager
	port       int
}

// New creates a new HTTP server.
func New(s store.Store, sync *ingest.SyncService, reconciler *ingest.Reconciler, alerts *alert.Manager, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if alerts == nil {
		alerts = alert.NewManager(nil)
	}
	return &Server{
		store:      s,
		sync:       sync,
		reconciler: reconciler,
		alerts:     alerts,
		port:       port,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/api/v1/import", s.handleImport)
	mux.HandleFunc("/api/v1/articles", s.handleArticles)
	mux.HandleFunc("/api/v1/summary", s.handleSummary)
	mux.HandleFunc("/api/v1/timeline", s.handleTimeline)
	mux.HandleFunc("/api/v1/compare", s.handleCompare)
	mux.HandleFunc("/api/v1/export", s.handleExport)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/status", s.handleStatus)

	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("notepulse server listening on %s\n", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	result, err := s.sync.Sync(r.Context())
	if err != nil {
		if errors.Is(err, ingest.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleImport accepts a cumulative CSV export in the request body.
// Query params: date (required, YYYY-MM-DD), backfill, promote.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date parameter required"})
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field \"file\" required"})
			return
		}
		defer f.Close()
		body = f
	}

	rows, skipped, err := ingest.DecodeCumulativeCSV(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := s.reconciler.Reconcile(r.Context(), rows, ingest.ImportOptions{
		Date:          date,
		BackfillOnly:  r.URL.Query().Get("backfill") == "true",
		PromoteDrafts: r.URL.Query().Get("promote") == "true",
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	result.Skipped += skipped

	if s.alerts.HasNotifiers() {
		if err := s.alerts.Broadcast(r.Context(), result.Notification(date)); err != nil {
			fmt.Fprintf(os.Stderr, "import: alert: %v\n", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// articleView is an article summary with its recent trend direction.
type articleView struct {
	store.ArticleSummary
	Trend    trend.Direction `json:"trend"`
	TrendPct int             `json:"trend_pct"`
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	summaries, err := s.store.ArticleSummaries(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// PV over the last 7 days vs the 7 before, per article.
	now := time.Now().UTC()
	recentStart := now.AddDate(0, 0, -6).Format("2006-01-02")
	priorStart := now.AddDate(0, 0, -13).Format("2006-01-02")
	entries, err := s.store.MetricsInRange(r.Context(), priorStart, now.Format("2006-01-02"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	recent := make(map[int64]int)
	prior := make(map[int64]int)
	for _, e := range entries {
		if e.Date >= recentStart {
			recent[e.ArticleID] += e.PV
		} else {
			prior[e.ArticleID] += e.PV
		}
	}

	views := make([]articleView, 0, len(summaries))
	for _, sum := range summaries {
		dir, pct := trend.Classify(prior[sum.ID], recent[sum.ID])
		views = append(views, articleView{ArticleSummary: sum, Trend: dir, TrendPct: pct})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  views,
		"count": len(views),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	totals, err := s.store.TotalsAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	articles, err := s.store.ListArticles(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := map[string]any{
		"totals":   totals,
		"articles": len(articles),
	}

	if stat, err := s.store.LatestAccountStats(r.Context()); err == nil {
		resp["account"] = stat
	} else if !errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	period, err := trend.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	entries, err := s.store.MetricsInRange(r.Context(), r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	buckets := trend.Timeline(entries, period)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  buckets,
		"count": len(buckets),
	})
}

// handleCompare compares the most recent window against the one before
// it. Window length follows the period: 1 day, 7 days or 30 days.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	period, err := trend.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	days := 1
	switch period {
	case trend.PeriodWeekly:
		days = 7
	case trend.PeriodMonthly:
		days = 30
	}

	now := time.Now().UTC()
	recentStart := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	priorStart := now.AddDate(0, 0, -(2*days - 1)).Format("2006-01-02")

	entries, err := s.store.MetricsInRange(r.Context(), priorStart, now.Format("2006-01-02"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var before, after store.MetricTotals
	for _, e := range entries {
		if e.Date >= recentStart {
			after.PV += e.PV
			after.Likes += e.Likes
			after.Comments += e.Comments
		} else {
			before.PV += e.PV
			before.Likes += e.Likes
			before.Comments += e.Comments
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"period":     period,
		"comparison": trend.Compare(before, after),
	})
}

// handleExport streams a CSV. type=detail (default) or type=summary;
// detail accepts start/end date bounds.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "detail"
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=notepulse-%s.csv", kind))

	switch kind {
	case "detail":
		entries, err := s.store.MetricsInRange(r.Context(), r.URL.Query().Get("start"), r.URL.Query().Get("end"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := export.WriteDetail(w, entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	case "summary":
		summaries, err := s.store.ArticleSummaries(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := export.WriteSummary(w, summaries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		w.Header().Del("Content-Disposition")
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type must be detail or summary"})
	}
}

// handleStats records manual account figures for a date. Body:
// {"date":"YYYY-MM-DD","followers":123,"revenue":4500} — omitted
// fields keep their stored values.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var stat store.AccountStat
	if err := json.NewDecoder(r.Body).Decode(&stat); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if _, err := time.Parse("2006-01-02", stat.Date); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}
	if stat.Followers != nil && *stat.Followers < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "followers must be >= 0"})
		return
	}
	if stat.Revenue != nil && *stat.Revenue < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "revenue must be >= 0"})
		return
	}

	if err := s.store.UpsertAccountStats(r.Context(), stat); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded", "date": stat.Date})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	writeJSON(w, http.StatusOK, s.sync.Status())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
