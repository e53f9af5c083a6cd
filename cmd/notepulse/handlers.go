package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/notepulse/notepulse/internal/config"
	"github.com/notepulse/notepulse/internal/export"
	"github.com/notepulse/notepulse/internal/ingest"
	"github.com/notepulse/notepulse/internal/scheduler"
	"github.com/notepulse/notepulse/internal/store"
	"github.com/notepulse/notepulse/pkg/alert"
	"github.com/notepulse/notepulse/pkg/note"
	"github.com/notepulse/notepulse/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildSyncService(cfg *config.Config, db store.Store) *ingest.SyncService {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := note.NewClient(httpClient)

	var discoverer ingest.ArticleDiscoverer
	if cfg.Discovery.Enabled && cfg.Note.Username != "" {
		discoverer = note.NewDiscovery(httpClient)
	}

	creds := note.Credentials{
		AuthToken:    cfg.Note.AuthToken,
		SessionToken: cfg.Note.SessionToken,
	}
	return ingest.NewSyncService(client, discoverer, db, creds, cfg.Note.Username, cfg.Note.MaxPages)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runSync(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	svc := buildSyncService(cfg, db)
	result, err := svc.Sync(context.Background())
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("synced %d articles for %s (%d pages, %s)\n",
		result.Records, result.Date, result.Pages, result.Reason)
	if result.Skipped > 0 {
		fmt.Printf("skipped %d records without identity\n", result.Skipped)
	}
	if result.Discovered > 0 {
		fmt.Printf("discovered %d articles via RSS\n", result.Discovered)
	}
	return nil
}

func runImport(path, date string, backfill, promote bool) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %q", date)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, skipped, err := ingest.DecodeCumulativeCSV(f)
	if err != nil {
		return fmt.Errorf("decode csv: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	result, err := ingest.NewReconciler(db).Reconcile(ctx, rows, ingest.ImportOptions{
		Date:          date,
		BackfillOnly:  backfill,
		PromoteDrafts: promote,
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	result.Skipped += skipped

	fmt.Printf("imported %d deltas for %s\n", result.DeltasWritten, date)
	if result.Skipped > 0 {
		fmt.Printf("skipped %d rows\n", result.Skipped)
	}
	if result.Promoted > 0 {
		fmt.Printf("promoted %d draft articles\n", result.Promoted)
	}
	for _, a := range result.Anomalies {
		fmt.Fprintf(os.Stderr, "anomaly: %s %s (%s)\n", a.Title, a.Metric, a.Reason)
	}

	if alertMgr := buildAlertManager(cfg); alertMgr.HasNotifiers() {
		if err := alertMgr.Broadcast(ctx, result.Notification(date)); err != nil {
			fmt.Fprintf(os.Stderr, "alert: %v\n", err)
		}
	}
	return nil
}

func runExport(kind, start, end, out string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	ctx := context.Background()
	switch kind {
	case "detail":
		entries, err := db.MetricsInRange(ctx, start, end)
		if err != nil {
			return fmt.Errorf("load metrics: %w", err)
		}
		return export.WriteDetail(w, entries)
	case "summary":
		summaries, err := db.ArticleSummaries(ctx)
		if err != nil {
			return fmt.Errorf("load summaries: %w", err)
		}
		return export.WriteSummary(w, summaries)
	}
	return fmt.Errorf("unknown export type %q (want detail or summary)", kind)
}

func runStats(date string, followers, revenue int) error {
	if followers < 0 && revenue < 0 {
		return fmt.Errorf("nothing to record: pass --followers and/or --revenue")
	}
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %q", date)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	stat := store.AccountStat{Date: date}
	if followers >= 0 {
		stat.Followers = &followers
	}
	if revenue >= 0 {
		stat.Revenue = &revenue
	}

	if err := db.UpsertAccountStats(context.Background(), stat); err != nil {
		return fmt.Errorf("record stats: %w", err)
	}

	fmt.Printf("recorded account stats for %s\n", date)
	return nil
}

func runArticles(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	summaries, err := db.ArticleSummaries(context.Background())
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("no articles tracked yet (try: notepulse sync)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PV\tLIKES\tCOMMENTS\tSTATUS\tLAST DATE\tTITLE")
	for _, s := range summaries {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
			s.PV, s.Likes, s.Comments, s.Status, s.LastDate, s.Title)
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	svc := buildSyncService(cfg, db)
	srv := server.New(db, svc, ingest.NewReconciler(db), buildAlertManager(cfg), port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	svc := buildSyncService(cfg, db)
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(svc, alertMgr, cfg.Schedule.ParseSyncInterval())

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	srv := server.New(db, svc, ingest.NewReconciler(db), alertMgr, port)
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe()
}
