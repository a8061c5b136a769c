package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/derive"
	"github.com/atikulmunna/logscope/internal/logging"
	"github.com/atikulmunna/logscope/internal/parser"
	"github.com/atikulmunna/logscope/internal/report"
	"github.com/atikulmunna/logscope/internal/resolve"
	"github.com/atikulmunna/logscope/internal/rules"
	"github.com/atikulmunna/logscope/internal/security"
	"github.com/atikulmunna/logscope/internal/source"
	"github.com/atikulmunna/logscope/internal/table"
)

// app holds what every command builds from configuration.
type app struct {
	log      *zap.Logger
	rules    rules.Rules
	engine   *security.Engine
	enricher *derive.Enricher
	layout   source.Layout
}

func newApp() (*app, error) {
	log, err := logging.New(logging.Config{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
	})
	if err != nil {
		return nil, err
	}

	r, err := rules.LoadFile(viper.GetString("rules"))
	if err != nil {
		return nil, err
	}
	if m := viper.GetString("error_marker"); m != "" {
		r.ErrorMarker = m
	}
	if n := viper.GetInt("top"); n > 0 {
		r.TopN = n
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	layout := source.DefaultLayout()
	if g := viper.GetString("access_glob"); g != "" {
		layout.AccessGlob = g
	}
	if g := viper.GetString("error_glob"); g != "" {
		layout.ErrorGlob = g
	}

	return &app{
		log:      log,
		rules:    r,
		engine:   security.New(r),
		enricher: derive.NewEnricher(derive.NewBotClassifier(r.BotAgents)),
		layout:   layout,
	}, nil
}

// loadTable discovers and parses every shard under dir.
func (a *app) loadTable(ctx context.Context, dir string, obs table.Observer) (*table.Table, error) {
	shards, err := source.Discover(dir, a.layout)
	if err != nil {
		return nil, err
	}
	a.log.Info("discovered shards", zap.String("root", dir), zap.Int("shards", len(shards)))

	l := &table.Loader{
		Access:   parser.NewAccessParser(),
		Errors:   parser.NewErrorParser(a.rules.ErrorMarker),
		Enricher: a.enricher,
		Workers:  viper.GetInt("workers"),
		Observer: obs,
		Logger:   a.log,
	}
	return l.Load(ctx, shards)
}

// reportOptions returns the report options and a cleanup for the
// resolver, which is only created when withDNS is set.
func (a *app) reportOptions(ctx context.Context, withDNS bool) (report.Options, func(), error) {
	opts := report.Options{
		TopN:   a.rules.TopN,
		Engine: a.engine,
		Logger: a.log,
	}
	if !withDNS {
		return opts, func() {}, nil
	}
	res, err := resolve.New(ctx, resolve.DefaultOptions(), nil, a.log)
	if err != nil {
		return report.Options{}, nil, err
	}
	opts.Resolver = res
	return opts, func() { _ = res.Close() }, nil
}

// openOutput returns stdout for "" or "-" and a created file otherwise.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func jsonOutput() bool {
	return strings.EqualFold(outputFmt, "json")
}
