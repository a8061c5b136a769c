package aggregator

import (
	"sort"
	"time"

	"github.com/atikulmunna/logscope/internal/model"
)

// maxHourlySpan bounds gap filling; a wider span (usually one stray
// timestamp) yields only the non-empty buckets.
const maxHourlySpan = 24 * 366 * 2

// HourBucket is the traffic of one UTC hour.
type HourBucket struct {
	Hour     time.Time `json:"hour"`
	Requests int       `json:"requests"`
	Errors   int       `json:"errors"`
}

// Hourly buckets timestamped records by UTC hour, filling empty hours
// between the first and the last one with zeros. Records without a time
// are left out.
func Hourly(records []model.AccessRecord) []HourBucket {
	buckets := make(map[time.Time]*HourBucket)
	var first, last time.Time
	seen := false
	for i := range records {
		r := &records[i]
		if r.Time == nil {
			continue
		}
		h := r.Time.UTC().Truncate(time.Hour)
		b, ok := buckets[h]
		if !ok {
			b = &HourBucket{Hour: h}
			buckets[h] = b
			if !seen || h.Before(first) {
				first = h
			}
			if !seen || h.After(last) {
				last = h
			}
			seen = true
		}
		b.Requests++
		if r.IsError() {
			b.Errors++
		}
	}
	if len(buckets) == 0 {
		return nil
	}

	span := int(last.Sub(first) / time.Hour)
	if span <= maxHourlySpan {
		out := make([]HourBucket, 0, span+1)
		for h := first; !h.After(last); h = h.Add(time.Hour) {
			if b, ok := buckets[h]; ok {
				out = append(out, *b)
			} else {
				out = append(out, HourBucket{Hour: h})
			}
		}
		return out
	}

	out := make([]HourBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out
}

// Overview is the headline traffic summary of a batch.
type Overview struct {
	TotalRequests int     `json:"total_requests"`
	UniqueIPs     int     `json:"unique_ips"`
	Errors        int     `json:"errors"`
	ErrorRate     float64 `json:"error_rate"`
	Bots          int     `json:"bots"`
	Bytes         int64   `json:"bytes"`
}

// Summarize computes the Overview. The error rate is over all records,
// including those whose status could not be recovered.
func Summarize(records []model.AccessRecord) Overview {
	ips := make(map[string]struct{})
	var o Overview
	for i := range records {
		r := &records[i]
		ips[r.IP] = struct{}{}
		if r.IsError() {
			o.Errors++
		}
		if r.IsBot {
			o.Bots++
		}
		if r.Size != nil {
			o.Bytes += *r.Size
		}
	}
	o.TotalRequests = len(records)
	o.UniqueIPs = len(ips)
	o.ErrorRate = Rate(o.Errors, o.TotalRequests)
	return o
}
