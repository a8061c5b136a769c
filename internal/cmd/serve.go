package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/hub"
	"github.com/atikulmunna/logscope/internal/metrics"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/parser"
	"github.com/atikulmunna/logscope/internal/security"
	"github.com/atikulmunna/logscope/internal/server"
	"github.com/atikulmunna/logscope/internal/source"
	"github.com/atikulmunna/logscope/internal/tailer"
	"github.com/atikulmunna/logscope/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve <dir>",
	Short: "Serve the report API for the logs under a directory",
	Long: `Serve loads the logs under <dir> and exposes reports, CSV exports,
Prometheus metrics and a websocket stream over HTTP. With --live, new
lines appended to the access logs are added to the table and streamed.

Routes:
  GET /healthz                 status and record counts
  GET /api/stats               per-server load stats and live throughput
  GET /api/report?top=N        full report as JSON
  GET /api/errors?type=T       application errors, optionally of one type
  GET /api/export/access.csv   access records (?bots=true for bots only)
  GET /api/export/errors.csv   application errors (?type=T)
  GET /ws                      live records with findings
  GET /metrics                 Prometheus metrics`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("port", "p", "8080", "HTTP port")
	serveCmd.Flags().Bool("live", true, "follow the access logs for new lines")
	cobra.CheckErr(viper.BindPFlag("port", serveCmd.Flags().Lookup("port")))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	tbl, err := a.loadTable(ctx, args[0], m)
	if err != nil {
		return err
	}
	m.ObserveReport(initialFindings(ctx, a, tbl.Access()))

	opts, cleanup, err := a.reportOptions(ctx, viper.GetBool("resolve"))
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := server.Config{
		Table:   tbl,
		Report:  opts,
		Metrics: m,
		Port:    viper.GetString("port"),
		Logger:  a.log,
	}

	g, ctx := errgroup.WithContext(ctx)

	if live, _ := cmd.Flags().GetBool("live"); live {
		patterns, err := livePatterns(args[0], a.layout)
		if err != nil {
			return err
		}
		w, err := watcher.New(patterns, a.log)
		if err != nil {
			return err
		}
		// The table already holds everything up to now, so follow from the end.
		t := tailer.New(w, nil, tailer.Options{}, a.log)
		h := hub.New(t.Lines(), hub.Config{
			Parser:   parser.NewAccessParser(),
			Enricher: a.enricher,
			Engine:   a.engine,
			Label:    shardLabel(args[0]),
			Table:    tbl,
			Observer: m,
			Logger:   a.log,
		})
		agg := aggregator.NewLive(h.Subscribe(), h.Dropped, t.FileCount)
		cfg.Hub, cfg.Live = h, agg

		g.Go(func() error { w.Start(ctx); return nil })
		g.Go(func() error { t.Start(ctx); return nil })
		g.Go(func() error { h.Start(ctx); return nil })
		g.Go(func() error { agg.Start(ctx); return nil })
	}

	srv := server.New(cfg)
	fmt.Fprintf(os.Stderr, "logscope serving %s on http://localhost:%s\n", args[0], cfg.Port)
	g.Go(func() error { return srv.Start(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("server stopped")
	return nil
}

func initialFindings(ctx context.Context, a *app, recs []model.AccessRecord) security.Report {
	rep, err := a.engine.Analyze(ctx, recs)
	if err != nil {
		a.log.Warn("initial analysis interrupted", zap.Error(err))
	}
	return rep
}

// livePatterns returns the absolute pattern of the live access log for every
// shard under root. Rotated siblings (.1, .gz) are left out; they hold lines
// the table already loaded.
func livePatterns(root string, layout source.Layout) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	live := strings.TrimPrefix(strings.TrimRight(layout.AccessGlob, "*"), "**/")
	if live == "" {
		live = "*"
	}
	return []string{filepath.Join(abs, "**", live)}, nil
}

// shardLabel maps a followed file to the name of its top-level directory
// under root, which is how loaded shards are labeled.
func shardLabel(root string) func(string) string {
	abs, _ := filepath.Abs(root)
	return func(path string) string {
		rel, err := filepath.Rel(abs, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return source.ServerLabel(path)
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 2 {
			return filepath.Base(abs)
		}
		return parts[0]
	}
}
