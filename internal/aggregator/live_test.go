package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atikulmunna/logscope/internal/model"
)

func TestEPSCalculation(t *testing.T) {
	ch := make(chan model.AccessRecord, 100)
	agg := NewLive(ch, func() int64 { return 0 }, func() int { return 2 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go agg.Start(ctx)

	for i := 0; i < 10; i++ {
		ch <- model.AccessRecord{IP: "1.1.1.1", Status: status(200)}
	}

	time.Sleep(200 * time.Millisecond)

	stats := agg.Snapshot()
	assert.Equal(t, int64(10), stats.TotalEvents)
	assert.Greater(t, stats.EPS, 0.0)
}

func TestStatusClassCounts(t *testing.T) {
	ch := make(chan model.AccessRecord, 100)
	agg := NewLive(ch, func() int64 { return 3 }, func() int { return 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go agg.Start(ctx)

	ch <- model.AccessRecord{Status: status(200)}
	ch <- model.AccessRecord{Status: status(204)}
	ch <- model.AccessRecord{Status: status(404), IsBot: true}
	ch <- model.AccessRecord{Status: status(502)}
	ch <- model.AccessRecord{}

	time.Sleep(200 * time.Millisecond)

	stats := agg.Snapshot()
	assert.Equal(t, int64(2), stats.StatusClasses["2xx"])
	assert.Equal(t, int64(1), stats.StatusClasses["4xx"])
	assert.Equal(t, int64(1), stats.StatusClasses["unknown"])
	assert.Equal(t, int64(2), stats.Errors)
	assert.Equal(t, int64(1), stats.Bots)
	assert.Equal(t, int64(3), stats.DroppedLogs)
	assert.Equal(t, 1, stats.FilesWatched)
}
