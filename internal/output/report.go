// Package output renders records and reports for terminals, pipes and
// spreadsheet exports.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/report"
)

// RootLabel stands in for the empty extension and the "-" referrer,
// both of which mean the site root was requested directly.
const RootLabel = "[root]"

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleHeading = lipgloss.NewStyle().Bold(true).Underline(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleBorder  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// DisplayReferrer returns the label shown for a referrer.
func DisplayReferrer(ref string) string {
	if ref == "" || ref == model.NoValue {
		return RootLabel
	}
	return ref
}

// DisplayExtension returns the label shown for an extension.
func DisplayExtension(ext string) string {
	if ext == "" {
		return RootLabel
	}
	return ext
}

// WriteReportJSON writes r as indented JSON.
func WriteReportJSON(w io.Writer, r *report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteReport writes r as a sequence of terminal tables.
func WriteReport(w io.Writer, r *report.Report) error {
	var b strings.Builder

	b.WriteString(styleTitle.Render("logscope report") + " " + styleMuted.Render(r.Session) + "\n\n")

	o := r.Overview
	section(&b, "Overview", []string{"Metric", "Value"}, [][]string{
		{"Requests", humanize.Comma(int64(o.TotalRequests))},
		{"Unique IPs", humanize.Comma(int64(o.UniqueIPs))},
		{"Errors (4xx/5xx)", humanize.Comma(int64(o.Errors))},
		{"Error rate", percent(o.ErrorRate)},
		{"Bot requests", humanize.Comma(int64(o.Bots))},
		{"Bytes sent", humanize.Bytes(uint64(max(o.Bytes, 0)))},
	})

	if len(r.Shards) > 0 {
		rows := make([][]string, 0, len(r.Shards))
		for _, s := range r.Shards {
			rows = append(rows, []string{
				s.Server,
				humanize.Comma(int64(s.AccessLines)),
				humanize.Comma(int64(s.AccessSkipped)),
				humanize.Comma(int64(s.ErrorLines)),
				strconv.Itoa(len(s.FileErrors)),
			})
		}
		section(&b, "Servers", []string{"Server", "Access lines", "Skipped", "Error lines", "Unreadable files"}, rows)
	}

	if len(r.Hourly) > 0 {
		rows := make([][]string, 0, len(r.Hourly))
		for _, h := range r.Hourly {
			rows = append(rows, []string{h.Hour.Format("2006-01-02 15:00"), strconv.Itoa(h.Requests), strconv.Itoa(h.Errors)})
		}
		section(&b, "Requests per hour (UTC)", []string{"Hour", "Requests", "Errors"}, rows)
	}

	section(&b, "Top paths", []string{"Path", "Requests"}, countRows(r.TopPaths, nil))
	statusRows := make([][]string, 0, len(r.TopStatus))
	for _, c := range r.TopStatus {
		statusRows = append(statusRows, []string{strconv.Itoa(c.Key), strconv.Itoa(c.Count)})
	}
	section(&b, "Status codes", []string{"Status", "Requests"}, statusRows)
	section(&b, "Top user agents", []string{"User agent", "Requests"}, countRows(r.TopUserAgents, nil))

	ipRows := make([][]string, 0, len(r.TopIPs))
	for _, c := range r.TopIPs {
		ipRows = append(ipRows, []string{c.IP, orNA(c.Hostname), strconv.Itoa(c.Count)})
	}
	section(&b, "Top client IPs", []string{"IP", "Hostname", "Requests"}, ipRows)
	section(&b, "Top referrers", []string{"Referrer", "Requests"}, countRows(r.TopReferrers, DisplayReferrer))

	errRows := make([][]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		errRows = append(errRows, recordRow(e))
	}
	section(&b, "Error requests (newest first)", []string{"Time", "IP", "Method", "Path", "Status", "User agent"}, errRows)

	sec := r.Security
	heRows := make([][]string, 0, len(sec.HighErrorIPs))
	for _, s := range sec.HighErrorIPs {
		heRows = append(heRows, []string{s.IP, strconv.Itoa(s.TotalRequests), strconv.Itoa(s.ErrorRequests), percent(s.ErrorRate)})
	}
	section(&b, "High error-rate IPs", []string{"IP", "Requests", "Errors", "Error rate"}, heRows)
	section(&b, "Top 404 IPs", []string{"IP", "404s"}, countRows(sec.NotFoundIPs, nil))

	bfRows := make([][]string, 0, len(sec.BruteForce))
	for _, h := range sec.BruteForce {
		bfRows = append(bfRows, []string{h.IP, h.Path, strconv.Itoa(h.Count)})
	}
	section(&b, "Brute-force attempts", []string{"IP", "Path", "Failures"}, bfRows)

	sqlRows := make([][]string, 0, len(sec.SQLInjection))
	for _, f := range sec.SQLInjection {
		sqlRows = append(sqlRows, []string{f.Record.IP, f.Field, f.Pattern, f.Record.Path})
	}
	section(&b, "Possible SQL injection", []string{"IP", "Field", "Keyword", "Path"}, sqlRows)
	xssRows := make([][]string, 0, len(sec.XSS))
	for _, f := range sec.XSS {
		xssRows = append(xssRows, []string{f.Record.IP, f.Field, f.Pattern, f.Record.Path})
	}
	section(&b, "Possible XSS", []string{"IP", "Field", "Pattern", "Path"}, xssRows)

	section(&b, "Top file types", []string{"Extension", "Requests"}, countRows(r.TopExtensions, DisplayExtension))
	section(&b, "Top files", []string{"File", "Requests"}, countRows(r.TopFiles, nil))

	bots := r.Bots
	if bots.Requests > 0 {
		b.WriteString(styleHeading.Render("Bots and crawlers") + "\n")
		fmt.Fprintf(&b, "%s requests, error rate %s\n\n", humanize.Comma(int64(bots.Requests)), percent(bots.ErrorRate))
		section(&b, "Top bot user agents", []string{"User agent", "Requests"}, countRows(bots.TopUserAgents, nil))
		section(&b, "Top bot paths", []string{"Path", "Requests"}, countRows(bots.TopPaths, nil))
		sample := make([][]string, 0, len(bots.Sample))
		for _, rec := range bots.Sample {
			sample = append(sample, recordRow(rec))
		}
		section(&b, fmt.Sprintf("Bot requests (first %d)", len(bots.Sample)), []string{"Time", "IP", "Method", "Path", "Status", "User agent"}, sample)
	}

	section(&b, fmt.Sprintf("Application errors (%s)", humanize.Comma(int64(r.AppErrors.Total))),
		[]string{"Type", "Count"}, countRows(r.AppErrors.ByType, nil))

	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title string, headers []string, rows [][]string) {
	b.WriteString(styleHeading.Render(title) + "\n")
	if len(rows) == 0 {
		b.WriteString(styleMuted.Render("none") + "\n\n")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styleBorder).
		Headers(headers...).
		Rows(rows...)
	b.WriteString(t.Render() + "\n\n")
}

func countRows(counts []aggregator.Count[string], label func(string) string) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		k := c.Key
		if label != nil {
			k = label(k)
		}
		rows = append(rows, []string{k, strconv.Itoa(c.Count)})
	}
	return rows
}

func recordRow(r model.AccessRecord) []string {
	ts, status := model.NoValue, model.NoValue
	if r.Time != nil {
		ts = r.Time.Format("2006-01-02 15:04:05")
	}
	if s, ok := r.StatusCode(); ok {
		status = strconv.Itoa(s)
	}
	return []string{ts, r.IP, orDash(r.Method), orDash(r.Path), status, r.UserAgent}
}

func percent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 1, 64) + "%"
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
