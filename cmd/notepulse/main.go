package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notepulse",
		Short: "Track per-article engagement metrics from note.com",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(syncCmd())
	root.AddCommand(importCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(articlesCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func syncCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch today's stats from note.com and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func importCmd() *cobra.Command {
	var (
		date     string
		backfill bool
		promote  bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a cumulative CSV export as daily deltas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0], date, backfill, promote)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "import date YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&backfill, "backfill", false, "register unknown articles as drafts")
	cmd.Flags().BoolVar(&promote, "promote", false, "promote matched draft articles to published")
	cmd.MarkFlagRequired("date")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		kind  string
		start string
		end   string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored metrics as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(kind, start, end, out)
		},
	}

	cmd.Flags().StringVar(&kind, "type", "detail", "export type: detail or summary")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (detail only)")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD (detail only)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default: stdout)")
	return cmd
}

func statsCmd() *cobra.Command {
	var (
		date      string
		followers int
		revenue   int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Record account-level figures for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(date, followers, revenue)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&followers, "followers", -1, "follower count")
	cmd.Flags().IntVar(&revenue, "revenue", -1, "revenue in yen")
	return cmd
}

func articlesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Show tracked articles with cumulative totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArticles(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with periodic sync and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
