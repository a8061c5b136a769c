// Package report assembles the complete analysis view of a record table:
// traffic overview, ranked request tables, security findings, file types,
// bot traffic and application errors.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/security"
	"github.com/atikulmunna/logscope/internal/table"
)

// DefaultBotSample is the number of bot requests listed in a report.
const DefaultBotSample = 50

// HostResolver maps addresses to host names. *resolve.Resolver satisfies it.
type HostResolver interface {
	Hostnames(ctx context.Context, ips []string) map[string]string
}

// Options controls report assembly.
type Options struct {
	TopN       int // rows per ranked table; 0 means 10
	BotSample  int // 0 means DefaultBotSample
	ErrorLimit int // rows in the error list; 0 lists all

	Engine   *security.Engine
	Resolver HostResolver // optional; adds host names to the top IPs
	Logger   *zap.Logger
}

// IPCount is a ranked client address.
type IPCount struct {
	IP       string `json:"ip"`
	Count    int    `json:"count"`
	Hostname string `json:"hostname,omitempty"`
}

// Bots summarizes crawler and scripted traffic.
type Bots struct {
	Requests      int                        `json:"requests"`
	ErrorRate     float64                    `json:"error_rate"`
	TopUserAgents []aggregator.Count[string] `json:"top_user_agents"`
	TopPaths      []aggregator.Count[string] `json:"top_paths"`
	Sample        []model.AccessRecord       `json:"sample"`
}

// AppErrors summarizes the application error log.
type AppErrors struct {
	Total  int                        `json:"total"`
	ByType []aggregator.Count[string] `json:"by_type"`
}

// Report is the full analysis of one table.
type Report struct {
	Session     string             `json:"session"`
	GeneratedAt time.Time          `json:"generated_at"`
	Shards      []table.ShardStats `json:"shards"`

	Overview aggregator.Overview     `json:"overview"`
	Hourly   []aggregator.HourBucket `json:"hourly"`

	TopPaths      []aggregator.Count[string] `json:"top_paths"`
	TopStatus     []aggregator.Count[int]    `json:"top_status"`
	TopUserAgents []aggregator.Count[string] `json:"top_user_agents"`
	TopIPs        []IPCount                  `json:"top_ips"`
	TopReferrers  []aggregator.Count[string] `json:"top_referrers"`

	Errors   []model.AccessRecord `json:"errors"`
	Security security.Report      `json:"security"`

	TopExtensions []aggregator.Count[string] `json:"top_extensions"`
	TopFiles      []aggregator.Count[string] `json:"top_files"`

	Bots      Bots      `json:"bots"`
	AppErrors AppErrors `json:"app_errors"`
}

// Build analyzes the table. Only cancellation of ctx makes it fail.
func Build(ctx context.Context, t *table.Table, opts Options) (*Report, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("report: no security engine")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	n := opts.TopN
	if n <= 0 {
		n = 10
	}
	sample := opts.BotSample
	if sample <= 0 {
		sample = DefaultBotSample
	}

	started := time.Now()
	access := t.Access()
	errs := t.Errors()

	sec, err := opts.Engine.Analyze(ctx, access)
	if err != nil {
		return nil, fmt.Errorf("running detectors: %w", err)
	}

	r := &Report{
		Session:     t.ID,
		GeneratedAt: started.UTC(),
		Shards:      t.Shards(),
		Overview:    aggregator.Summarize(access),
		Hourly:      aggregator.Hourly(access),
		Security:    sec,
	}

	r.TopPaths = top(access, n, func(rec model.AccessRecord) (string, bool) { return rec.Path, rec.Path != "" })
	r.TopStatus = aggregator.TopN(aggregator.GroupCount(access, func(rec model.AccessRecord) (int, bool) {
		return rec.StatusCode()
	}), n)
	r.TopUserAgents = top(access, n, func(rec model.AccessRecord) (string, bool) { return rec.UserAgent, rec.UserAgent != "" })
	r.TopReferrers = top(access, n, func(rec model.AccessRecord) (string, bool) { return rec.Referrer, rec.Referrer != "" })
	r.TopExtensions = top(access, n, func(rec model.AccessRecord) (string, bool) { return rec.Extension, true })
	r.TopFiles = top(access, n, func(rec model.AccessRecord) (string, bool) { return rec.Path, rec.Extension != "" })

	for _, c := range top(access, n, func(rec model.AccessRecord) (string, bool) { return rec.IP, true }) {
		r.TopIPs = append(r.TopIPs, IPCount{IP: c.Key, Count: c.Count})
	}
	if opts.Resolver != nil && len(r.TopIPs) > 0 {
		ips := make([]string, len(r.TopIPs))
		for i, c := range r.TopIPs {
			ips[i] = c.IP
		}
		names := opts.Resolver.Hostnames(ctx, ips)
		for i := range r.TopIPs {
			r.TopIPs[i].Hostname = names[r.TopIPs[i].IP]
		}
	}

	r.Errors = ErrorList(access, opts.ErrorLimit)
	r.Bots = botSummary(access, n, sample)
	r.AppErrors = AppErrors{
		Total: len(errs),
		ByType: aggregator.TopN(aggregator.GroupCount(errs, func(e model.ErrorRecord) (string, bool) {
			return e.Type, true
		}), 0),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info("report built",
		zap.String("session", r.Session),
		zap.Int("records", len(access)),
		zap.Int("errors", len(errs)),
		zap.Duration("took", time.Since(started)))
	return r, nil
}

func top(recs []model.AccessRecord, n int, key func(model.AccessRecord) (string, bool)) []aggregator.Count[string] {
	return aggregator.TopN(aggregator.GroupCount(recs, key), n)
}

// ErrorList returns the records with status 400 or above, newest first.
// Records without a time sort last in their original order.
func ErrorList(recs []model.AccessRecord, limit int) []model.AccessRecord {
	var out []model.AccessRecord
	for _, r := range recs {
		if r.IsError() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Time, out[j].Time
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.After(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BotRecords returns the records classified as bots, in table order.
func BotRecords(recs []model.AccessRecord) []model.AccessRecord {
	var out []model.AccessRecord
	for _, r := range recs {
		if r.IsBot {
			out = append(out, r)
		}
	}
	return out
}

func botSummary(recs []model.AccessRecord, n, sample int) Bots {
	bots := BotRecords(recs)
	if len(bots) == 0 {
		return Bots{}
	}
	var errs int
	for i := range bots {
		if bots[i].IsError() {
			errs++
		}
	}
	b := Bots{
		Requests:      len(bots),
		ErrorRate:     aggregator.Rate(errs, len(bots)),
		TopUserAgents: top(bots, n, func(r model.AccessRecord) (string, bool) { return r.UserAgent, true }),
		TopPaths:      top(bots, n, func(r model.AccessRecord) (string, bool) { return r.Path, r.Path != "" }),
	}
	if len(bots) > sample {
		bots = bots[:sample]
	}
	b.Sample = bots
	return b
}
