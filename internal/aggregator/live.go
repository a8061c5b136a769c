package aggregator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/atikulmunna/logscope/internal/model"
)

// Stats holds a point-in-time snapshot of live metrics.
type Stats struct {
	Uptime        string           `json:"uptime"`
	TotalEvents   int64            `json:"total_events"`
	EPS           float64          `json:"eps"`
	StatusClasses map[string]int64 `json:"status_classes"`
	Errors        int64            `json:"errors"`
	Bots          int64            `json:"bots"`
	DroppedLogs   int64            `json:"dropped_logs"`
	FilesWatched  int              `json:"files_watched"`
}

// Aggregator consumes a live record stream and computes time-windowed metrics.
type Aggregator struct {
	mu            sync.RWMutex
	startTime     time.Time
	totalEvents   int64
	errors        int64
	bots          int64
	statusClasses map[string]int64
	window        []time.Time // arrival times for EPS (last 5 seconds)
	dropped       func() int64
	fileCount     func() int
	records       <-chan model.AccessRecord
}

// NewLive creates an Aggregator reading from a hub subscriber channel.
// droppedFn and fileCountFn provide live values from the hub and the watcher.
func NewLive(records <-chan model.AccessRecord, droppedFn func() int64, fileCountFn func() int) *Aggregator {
	return &Aggregator{
		startTime:     time.Now(),
		statusClasses: make(map[string]int64),
		dropped:       droppedFn,
		fileCount:     fileCountFn,
		records:       records,
	}
}

// Snapshot returns the current metrics.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	classes := make(map[string]int64, len(a.statusClasses))
	for k, v := range a.statusClasses {
		classes[k] = v
	}

	cutoff := time.Now().Add(-5 * time.Second)
	var recent int
	for _, t := range a.window {
		if t.After(cutoff) {
			recent++
		}
	}

	return Stats{
		Uptime:        time.Since(a.startTime).Truncate(time.Second).String(),
		TotalEvents:   a.totalEvents,
		EPS:           float64(recent) / 5.0,
		StatusClasses: classes,
		Errors:        a.errors,
		Bots:          a.bots,
		DroppedLogs:   a.dropped(),
		FilesWatched:  a.fileCount(),
	}
}

// Start consumes records until the context is cancelled or the channel closes.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-a.records:
			if !ok {
				return
			}
			a.record(rec)
		case <-ticker.C:
			a.prune()
		}
	}
}

func (a *Aggregator) record(rec model.AccessRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalEvents++
	a.statusClasses[StatusClass(rec)]++
	if rec.IsError() {
		a.errors++
	}
	if rec.IsBot {
		a.bots++
	}
	a.window = append(a.window, time.Now())
}

// prune drops arrival times older than 5 seconds.
func (a *Aggregator) prune() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-5 * time.Second)
	i := 0
	for _, t := range a.window {
		if t.After(cutoff) {
			a.window[i] = t
			i++
		}
	}
	a.window = a.window[:i]
}

// StatusClass returns "2xx".."5xx", "1xx", or "unknown" when there is no status.
func StatusClass(rec model.AccessRecord) string {
	s, ok := rec.StatusCode()
	if !ok {
		return "unknown"
	}
	return strconv.Itoa(s/100) + "xx"
}
