package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/output"
	"github.com/atikulmunna/logscope/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Export parsed records as CSV",
	Long: `Export parses the logs under <dir> and writes the records as CSV.

Kinds:
  access  every access record (default)
  bots    access records classified as bots or crawlers
  errors  application error records, optionally of one --type

Examples:
  logscope export ./logs > access.csv
  logscope export ./logs --kind bots --out bot_crawler_requests.csv
  logscope export ./logs --kind errors --type "Fatal Error (Critical)"`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("kind", "access", "records to export: access, bots, errors")
	exportCmd.Flags().String("type", "", "error type filter for --kind errors")
	exportCmd.Flags().String("out", "-", "output file (- for stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	kind, _ := cmd.Flags().GetString("kind")
	errType, _ := cmd.Flags().GetString("type")
	outPath, _ := cmd.Flags().GetString("out")

	switch kind {
	case "access", "bots", "errors":
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	tbl, err := a.loadTable(ctx, args[0], nil)
	if err != nil {
		return err
	}

	w, err := openOutput(outPath)
	if err != nil {
		return err
	}
	defer w.Close()

	var rows int
	switch kind {
	case "access":
		recs := tbl.Access()
		rows, err = len(recs), output.WriteAccessCSV(w, recs)
	case "bots":
		recs := report.BotRecords(tbl.Access())
		rows, err = len(recs), output.WriteAccessCSV(w, recs)
	case "errors":
		recs := tbl.ErrorsOfType(errType)
		rows, err = len(recs), output.WriteErrorCSV(w, recs)
	}
	if err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	a.log.Info("exported", zap.String("kind", kind), zap.Int("rows", rows), zap.String("out", outPath))
	return nil
}
