package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/hub"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/output"
	"github.com/atikulmunna/logscope/internal/parser"
	"github.com/atikulmunna/logscope/internal/tailer"
	"github.com/atikulmunna/logscope/internal/watcher"
)

const checkpointFile = ".logscope-state.json"

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Follow access logs and stream parsed requests",
	Long: `Watch one or more access logs (or glob patterns) and stream each new
request to the terminal as it is written, flagged when it looks like SQL
injection or XSS. Files created later that match a pattern, such as a
rotated log, are followed too.

Examples:
  logscope watch /var/log/nginx/nginx-access.log
  logscope watch "/srv/logs/**/nginx-access.log*"
  logscope watch access.log --status 4xx,5xx --output json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("status", "", "only show these status classes (comma-separated: 2xx,4xx,5xx,unknown)")
	watchCmd.Flags().Bool("flagged", false, "only show requests with findings")
	watchCmd.Flags().Bool("from-start", false, "read files without a checkpoint from the beginning")
	watchCmd.Flags().String("checkpoint", checkpointFile, "file that stores read offsets")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// --- Set up context with graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	statusFilter, _ := cmd.Flags().GetString("status")
	flaggedOnly, _ := cmd.Flags().GetBool("flagged")
	fromStart, _ := cmd.Flags().GetBool("from-start")
	ckptPath, _ := cmd.Flags().GetString("checkpoint")

	// --- Initialize watcher ---
	w, err := watcher.New(args, a.log)
	if err != nil {
		return err
	}

	watchedPaths := w.Paths()
	if len(watchedPaths) == 0 {
		return fmt.Errorf("no files matched the given patterns: %v", args)
	}

	fmt.Fprintf(os.Stderr, "logscope watching %d file(s):\n", len(watchedPaths))
	for _, p := range watchedPaths {
		fmt.Fprintf(os.Stderr, "   • %s\n", p)
	}
	fmt.Fprintln(os.Stderr)

	// --- Initialize checkpoint and tailer ---
	ckpt, err := tailer.NewCheckpoint(filepath.Clean(ckptPath))
	if err != nil {
		return err
	}
	t := tailer.New(w, ckpt, tailer.Options{FromStart: fromStart}, a.log)

	h := hub.New(t.Lines(), hub.Config{
		Parser:   parser.NewAccessParser(),
		Enricher: a.enricher,
		Logger:   a.log,
	})
	records := h.Subscribe()

	// --- Choose renderer ---
	var renderer output.Renderer
	if jsonOutput() {
		renderer = output.NewJSONRenderer(os.Stdout)
	} else {
		renderer = output.NewTextRenderer(os.Stdout)
	}

	classes := statusClassSet(statusFilter)

	// --- Start pipeline ---
	go w.Start(ctx)
	go t.Start(ctx)
	go h.Start(ctx)

	// --- Render output ---
	for rec := range records {
		if !shouldShow(rec, classes) {
			continue
		}
		findings := a.engine.Inspect(rec)
		if flaggedOnly && len(findings) == 0 {
			continue
		}
		if err := renderer.Render(rec, findings); err != nil {
			a.log.Warn("render error", zap.Error(err))
		}
	}

	a.log.Info("watch stopped",
		zap.Int64("parsed", h.Parsed()),
		zap.Int64("skipped", h.Skipped()),
		zap.Int64("dropped", h.Dropped()))
	return nil
}

func statusClassSet(filter string) map[string]bool {
	set := make(map[string]bool)
	for _, c := range strings.Split(filter, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			set[c] = true
		}
	}
	return set
}

// shouldShow returns true if the record passes the status class filter.
func shouldShow(rec model.AccessRecord, classes map[string]bool) bool {
	if len(classes) == 0 {
		return true // no filter = show all
	}
	return classes[aggregator.StatusClass(rec)]
}
