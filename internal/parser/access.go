// Package parser turns raw access-log and error-log lines into records.
//
// Parsers are tolerant: a line that cannot be turned into a record is
// reported as skipped, and a line that is only partly readable yields a
// record with the unreadable fields left absent.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atikulmunna/logscope/internal/model"
)

// TimeLayout is the bracketed access-log timestamp, e.g. 17/Feb/2026:12:00:00 +0000.
const TimeLayout = "02/Jan/2006:15:04:05 -0700"

var (
	quotedRe    = regexp.MustCompile(`"([^"]*)"`)
	bracketedRe = regexp.MustCompile(`\[([^\]]+)\]`)

	// status and size are bare tokens right after a closing quote.
	statusSizeRe = regexp.MustCompile(`"\s*(\d{3})\s+(\d+)\s`)
	// request time is a bare number sitting between two quoted fields.
	reqTimeRe = regexp.MustCompile(`" ([\d.]+) "`)

	ipv4Re = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
	ipv6Re = regexp.MustCompile(`^[a-fA-F0-9:]+$`)
)

// AccessParser handles combined-format access lines that carry a
// trusted-proxy client chain as their fourth quoted field:
//
//	ip - user [time] "request" status size "referrer" "user-agent" req_time "proxy-chain"
//
// Quoted fields are taken by position; status, size and request time are
// found by independent anchored scans since they are not quoted.
type AccessParser struct{}

func NewAccessParser() *AccessParser { return &AccessParser{} }

// Parse returns the record for line, or false if line is not an access record.
func (p *AccessParser) Parse(line string) (model.AccessRecord, bool) {
	quoted := quotedRe.FindAllStringSubmatch(line, -1)
	bracketed := bracketedRe.FindAllStringSubmatch(line, -1)
	if len(quoted) < 4 || len(bracketed) < 1 {
		return model.AccessRecord{}, false
	}

	rec := model.AccessRecord{
		Referrer:   quoted[1][1],
		UserAgent:  quoted[2][1],
		ProxyChain: quoted[3][1],
	}

	rec.Status, rec.Size = statusAndSize(line)

	if m := reqTimeRe.FindStringSubmatch(line); m != nil {
		rt := m[1]
		rec.ReqTime = &rt
	}

	if parts := strings.Fields(quoted[0][1]); len(parts) == 3 {
		rec.Method, rec.Path, rec.Protocol = parts[0], parts[1], parts[2]
	}

	if t, err := time.Parse(TimeLayout, bracketed[0][1]); err == nil {
		rec.Time = &t
	}

	rec.IP = ClientIP(rec.ProxyChain)
	return rec, true
}

// statusAndSize recovers both values from the same anchor. They are
// returned together or not at all.
func statusAndSize(line string) (*int, *int64) {
	m := statusSizeRe.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	status, err := strconv.Atoi(m[1])
	if err != nil || status < 100 || status > 599 {
		return nil, nil
	}
	size, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, nil
	}
	return &status, &size
}

// ClientIP returns the leftmost hop of a proxy chain when it is a valid
// address literal, and model.NoValue otherwise.
func ClientIP(chain string) string {
	ip := model.NoValue
	if chain != "" {
		ip = strings.TrimSpace(strings.SplitN(chain, ",", 2)[0])
	}
	if !ValidIP(ip) {
		return model.NoValue
	}
	return ip
}

// ValidIP is a syntactic check: four dot-separated groups of one to three
// digits, or hex digits and colons with at least one colon.
func ValidIP(s string) bool {
	if ipv4Re.MatchString(s) {
		return true
	}
	return strings.Contains(s, ":") && ipv6Re.MatchString(s)
}
