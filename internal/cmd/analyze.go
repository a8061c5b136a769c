package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/atikulmunna/logscope/internal/output"
	"github.com/atikulmunna/logscope/internal/report"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dir>",
	Short: "Analyze the logs under a directory and print a report",
	Long: `Analyze reads every server directory under <dir>, parses its access and
error logs, and prints the full report: traffic overview, ranked request
tables, error requests, security findings, file types, bots and
application errors.

Examples:
  logscope analyze ~/site-logs/shop_production
  logscope analyze ./logs --resolve --top 20
  logscope analyze ./logs --output json > report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Int("error-limit", 0, "rows in the error request list (0 lists all)")
	cobra.CheckErr(viper.BindPFlag("error_limit", analyzeCmd.Flags().Lookup("error-limit")))
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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

	opts, cleanup, err := a.reportOptions(ctx, viper.GetBool("resolve"))
	if err != nil {
		return err
	}
	defer cleanup()
	opts.ErrorLimit = viper.GetInt("error_limit")

	r, err := report.Build(ctx, tbl, opts)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	if jsonOutput() {
		return output.WriteReportJSON(os.Stdout, r)
	}
	return output.WriteReport(os.Stdout, r)
}
