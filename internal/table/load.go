package table

import (
	"context"
	"io"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atikulmunna/logscope/internal/derive"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/parser"
	"github.com/atikulmunna/logscope/internal/source"
)

// Opener opens one log file.
type Opener func(path string) (io.ReadCloser, error)

// Observer is notified once per loaded shard.
type Observer interface {
	ObserveShard(ShardStats)
}

// Loader parses shards into a Table.
type Loader struct {
	Access   *parser.AccessParser
	Errors   *parser.ErrorParser
	Enricher *derive.Enricher
	Open     Opener
	Workers  int
	Observer Observer
	Logger   *zap.Logger
}

type shardResult struct {
	stats  ShardStats
	access []model.AccessRecord
	errors []model.ErrorRecord
}

// Load parses every shard and returns the assembled table. Shards are
// parsed concurrently; the table lists them in input order with each
// shard's lines in file order. Unreadable files are logged and counted,
// and only context cancellation fails the load.
func (l *Loader) Load(ctx context.Context, shards []source.Shard) (*Table, error) {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	open := l.Open
	if open == nil {
		open = source.Open
	}
	workers := l.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]shardResult, len(shards))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sh := range shards {
		g.Go(func() error {
			res, err := l.loadShard(ctx, sh, open, log.With(zap.String("server", sh.Server)))
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := New()
	for _, res := range results {
		t.AppendAccess(res.access...)
		t.AppendErrors(res.errors...)
		t.addShard(res.stats)
		if l.Observer != nil {
			l.Observer.ObserveShard(res.stats)
		}
	}
	log.Info("table loaded",
		zap.String("session", t.ID),
		zap.Int("shards", len(shards)),
		zap.Int("access_records", len(t.access)),
		zap.Int("error_records", len(t.errors)))
	return t, nil
}

func (l *Loader) loadShard(ctx context.Context, sh source.Shard, open Opener, log *zap.Logger) (shardResult, error) {
	res := shardResult{stats: ShardStats{Server: sh.Server}}

	for _, path := range sh.AccessFiles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := readFile(open, path, log, func(src parser.LineSource) error {
			b, err := parser.ParseAccess(l.Access, src, sh.Server)
			l.Enricher.EnrichAll(b.Records)
			res.access = append(res.access, b.Records...)
			res.stats.AccessLines += b.Lines
			res.stats.AccessSkipped += b.Skipped
			return err
		})
		if err != nil {
			log.Warn("could not read access log", zap.String("file", path), zap.Error(err))
			res.stats.FileErrors = append(res.stats.FileErrors, path)
		}
	}

	for _, path := range sh.ErrorFiles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := readFile(open, path, log, func(src parser.LineSource) error {
			b, err := parser.ParseErrors(l.Errors, src, sh.Server)
			res.errors = append(res.errors, b.Records...)
			res.stats.ErrorLines += b.Lines
			res.stats.ErrorSkipped += b.Skipped
			return err
		})
		if err != nil {
			log.Warn("could not read error log", zap.String("file", path), zap.Error(err))
			res.stats.FileErrors = append(res.stats.FileErrors, path)
		}
	}

	log.Debug("shard parsed",
		zap.Int("access_lines", res.stats.AccessLines),
		zap.Int("access_skipped", res.stats.AccessSkipped),
		zap.Int("error_lines", res.stats.ErrorLines),
		zap.Int("error_skipped", res.stats.ErrorSkipped))
	return res, nil
}

func readFile(open Opener, path string, log *zap.Logger, fn func(parser.LineSource) error) error {
	rc, err := open(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	lr := source.NewLineReader(rc)
	err = fn(lr)
	if n := lr.Oversized(); n > 0 {
		log.Warn("skipped oversized lines", zap.String("file", path), zap.Int("lines", n), zap.Int("limit", source.MaxLineSize))
	}
	return err
}
