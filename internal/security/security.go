// Package security runs pattern-based heuristics over access records.
//
// The detectors flag requests that resemble brute-force, SQL-injection or
// XSS attempts and IPs with an abnormal error rate. They are heuristics,
// not a WAF: keyword lists such as the SQL one include short words like
// OR and AND and will match ordinary traffic. Detectors never modify their
// input and treat absent fields as non-matching.
package security

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/rules"
)

// Detector names, used as finding kinds and metric labels.
const (
	KindBruteForce   = "brute_force"
	KindSQLInjection = "sql_injection"
	KindXSS          = "xss"
	KindHighErrorIP  = "high_error_ip"
)

// Fields a pattern can be found in.
const (
	FieldPath     = "path"
	FieldReferrer = "referrer"
)

// Finding is one record flagged by a pattern detector.
type Finding struct {
	Kind    string             `json:"kind"`
	Field   string             `json:"field"`
	Pattern string             `json:"pattern"`
	Record  model.AccessRecord `json:"record"`
}

// BruteForceHit is one (ip, path) pair with repeated failed logins.
type BruteForceHit struct {
	IP    string `json:"ip"`
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// IPErrorStat is the error profile of one client IP.
type IPErrorStat struct {
	IP            string  `json:"ip"`
	TotalRequests int     `json:"total_requests"`
	ErrorRequests int     `json:"error_requests"`
	ErrorRate     float64 `json:"error_rate"`
}

// Engine holds the compiled rule set. It is safe for concurrent use.
type Engine struct {
	rules      rules.Rules
	loginMark  string
	sqlLower   []string
	xssLower   []string
	bfStatuses []int
}

// New builds an Engine from r.
func New(r rules.Rules) *Engine {
	return &Engine{
		rules:      r,
		loginMark:  strings.ToLower(r.BruteForce.PathMarker),
		sqlLower:   lowerAll(r.SQLKeywords),
		xssLower:   lowerAll(r.XSSPatterns),
		bfStatuses: r.BruteForce.Statuses,
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// BruteForce groups failed requests to login paths by (ip, path) and
// returns the groups whose count exceeds the threshold, ordered by ip then path.
func (e *Engine) BruteForce(records []model.AccessRecord) []BruteForceHit {
	type key struct{ ip, path string }
	counts := aggregator.GroupCount(records, func(r model.AccessRecord) (key, bool) {
		if !strings.Contains(strings.ToLower(r.Path), e.loginMark) || !r.HasStatus(e.bfStatuses...) {
			return key{}, false
		}
		return key{r.IP, r.Path}, true
	})

	var hits []BruteForceHit
	for _, k := range counts.Keys() {
		if n := counts.Get(k); n > e.rules.BruteForce.Threshold {
			hits = append(hits, BruteForceHit{IP: k.ip, Path: k.path, Count: n})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].IP != hits[j].IP {
			return hits[i].IP < hits[j].IP
		}
		return hits[i].Path < hits[j].Path
	})
	return hits
}

// SQLInjection flags records whose path or referrer contains a SQL keyword.
func (e *Engine) SQLInjection(records []model.AccessRecord) []Finding {
	return e.scan(records, KindSQLInjection, e.sqlLower)
}

// XSS flags records whose path or referrer contains a script-injection pattern.
func (e *Engine) XSS(records []model.AccessRecord) []Finding {
	return e.scan(records, KindXSS, e.xssLower)
}

// Inspect runs the per-record detectors on a single record. It is used on
// live streams where batch detectors do not apply.
func (e *Engine) Inspect(r model.AccessRecord) []Finding {
	var out []Finding
	if f, ok := match(r, KindSQLInjection, e.sqlLower); ok {
		out = append(out, f)
	}
	if f, ok := match(r, KindXSS, e.xssLower); ok {
		out = append(out, f)
	}
	return out
}

func (e *Engine) scan(records []model.AccessRecord, kind string, patterns []string) []Finding {
	var out []Finding
	for _, r := range records {
		if f, ok := match(r, kind, patterns); ok {
			out = append(out, f)
		}
	}
	return out
}

// match reports the first pattern found, checking the path before the referrer.
func match(r model.AccessRecord, kind string, patterns []string) (Finding, bool) {
	for _, field := range [...]struct{ name, value string }{
		{FieldPath, r.Path},
		{FieldReferrer, r.Referrer},
	} {
		if field.value == "" {
			continue
		}
		v := strings.ToLower(field.value)
		for _, p := range patterns {
			if strings.Contains(v, p) {
				return Finding{Kind: kind, Field: field.name, Pattern: p, Record: r}, true
			}
		}
	}
	return Finding{}, false
}

// HighErrorIPs returns the IPs whose error rate and request count both
// exceed the configured thresholds, highest rate first, capped at the
// configured limit. Only records with a status count as requests.
func (e *Engine) HighErrorIPs(records []model.AccessRecord) []IPErrorStat {
	withStatus := func(r model.AccessRecord) (string, bool) { return r.IP, r.Status != nil }
	total := aggregator.GroupCount(records, withStatus)
	errs := aggregator.GroupCount(records, func(r model.AccessRecord) (string, bool) {
		return r.IP, r.IsError()
	})

	var out []IPErrorStat
	for _, ip := range total.Keys() {
		n := total.Get(ip)
		rate := aggregator.Rate(errs.Get(ip), n)
		if rate > e.rules.ErrorRate.Rate && n > e.rules.ErrorRate.MinRequests {
			out = append(out, IPErrorStat{
				IP:            ip,
				TotalRequests: n,
				ErrorRequests: errs.Get(ip),
				ErrorRate:     rate,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ErrorRate > out[j].ErrorRate })
	if len(out) > e.rules.ErrorRate.Limit {
		out = out[:e.rules.ErrorRate.Limit]
	}
	return out
}

// NotFoundIPs ranks IPs by their number of 404 responses.
func (e *Engine) NotFoundIPs(records []model.AccessRecord, n int) []aggregator.Count[string] {
	return aggregator.TopN(aggregator.GroupCount(records, func(r model.AccessRecord) (string, bool) {
		return r.IP, r.HasStatus(404)
	}), n)
}

// Report is the output of every batch detector over one record set.
type Report struct {
	BruteForce   []BruteForceHit            `json:"brute_force"`
	SQLInjection []Finding                  `json:"sql_injection"`
	XSS          []Finding                  `json:"xss"`
	HighErrorIPs []IPErrorStat              `json:"high_error_ips"`
	NotFoundIPs  []aggregator.Count[string] `json:"not_found_ips"`
}

// Analyze runs all detectors over records concurrently. Detectors share
// the slice read-only.
func (e *Engine) Analyze(ctx context.Context, records []model.AccessRecord) (Report, error) {
	var rep Report
	g, ctx := errgroup.WithContext(ctx)
	run := func(fn func()) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn()
			return nil
		})
	}
	run(func() { rep.BruteForce = e.BruteForce(records) })
	run(func() { rep.SQLInjection = e.SQLInjection(records) })
	run(func() { rep.XSS = e.XSS(records) })
	run(func() { rep.HighErrorIPs = e.HighErrorIPs(records) })
	run(func() { rep.NotFoundIPs = e.NotFoundIPs(records, e.rules.TopN) })
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return rep, nil
}
