package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atikulmunna/logscope/internal/derive"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/parser"
	"github.com/atikulmunna/logscope/internal/rules"
	"github.com/atikulmunna/logscope/internal/security"
	"github.com/atikulmunna/logscope/internal/table"
)

const accessLine = `10.0.0.1 - - [17/Feb/2026:12:00:00 +0000] "GET /style.css HTTP/1.1" 200 10 "-" "Googlebot/2.1" 0.01 "198.51.100.4, 10.0.0.1"`

func testConfig() Config {
	r := rules.Default()
	return Config{
		Parser:   parser.NewAccessParser(),
		Enricher: derive.NewEnricher(derive.NewBotClassifier(r.BotAgents)),
		Engine:   security.New(r),
	}
}

type countingObserver struct {
	mu       sync.Mutex
	live     int
	findings int
	skipped  map[string]int
}

func (o *countingObserver) ObserveLive(_ model.AccessRecord, f []security.Finding) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live++
	o.findings += len(f)
}

func (o *countingObserver) ObserveSkipped(server string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.skipped == nil {
		o.skipped = map[string]int{}
	}
	o.skipped[server]++
}

func TestHubBroadcast(t *testing.T) {
	input := make(chan model.RawLine, 10)
	h := New(input, testConfig())

	sub1 := h.Subscribe()
	sub2 := h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Start(ctx)

	input <- model.RawLine{Text: accessLine, Source: "/logs/site_prod/app_server_10.0.0.5/nginx-access.log"}

	// Both subscribers should receive it.
	for i, sub := range []<-chan model.AccessRecord{sub1, sub2} {
		select {
		case rec := <-sub:
			assert.Equal(t, "198.51.100.4", rec.IP, "sub%d", i+1)
			assert.Equal(t, "app_server_10.0.0.5", rec.Server, "sub%d", i+1)
			assert.Equal(t, "css", rec.Extension, "sub%d", i+1)
			assert.True(t, rec.IsBot, "sub%d", i+1)
		case <-time.After(1 * time.Second):
			t.Fatalf("sub%d: timed out", i+1)
		}
	}

	cancel()
}

func TestHubSkipsAndObserves(t *testing.T) {
	input := make(chan model.RawLine, 10)
	cfg := testConfig()
	obs := &countingObserver{}
	tbl := table.New()
	cfg.Observer = obs
	cfg.Table = tbl
	cfg.Label = func(string) string { return "edge" }
	h := New(input, cfg)
	sub := h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Start(ctx)

	input <- model.RawLine{Text: "not an access line", Source: "x.log"}
	input <- model.RawLine{Text: `1.1.1.1 - - [17/Feb/2026:12:00:00 +0000] "GET /?q=<script> HTTP/1.1" 200 1 "-" "-" 0.1 "1.1.1.1"`, Source: "x.log"}
	close(input)

	var got int
	for range sub {
		got++
	}
	require.Equal(t, 1, got)
	assert.Equal(t, int64(1), h.Parsed())
	assert.Equal(t, int64(1), h.Skipped())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.live)
	assert.Equal(t, map[string]int{"edge": 1}, obs.skipped)
	assert.Equal(t, 1, obs.findings)

	n, _ := tbl.Len()
	assert.Equal(t, 1, n, "record appended to table")
}

func TestHubUnsubscribe(t *testing.T) {
	h := New(make(chan model.RawLine), testConfig())
	sub := h.Subscribe()
	h.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok, "unsubscribed channel should be closed")
}

func TestHubSlowConsumer(t *testing.T) {
	input := make(chan model.RawLine, 10)
	h := New(input, testConfig())

	// Subscribe but never read, which simulates a slow consumer.
	_ = h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Start(ctx)

	// Fill beyond the subscriber buffer (1024).
	for i := 0; i < subscriberBuffer+100; i++ {
		input <- model.RawLine{Text: accessLine, Source: "test.log"}
	}

	// Give hub time to process.
	time.Sleep(500 * time.Millisecond)

	assert.Positive(t, h.Dropped(), "slow consumer should drop records")

	cancel()
}
