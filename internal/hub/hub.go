// Package hub turns a stream of raw access-log lines into enriched records
// and fans them out to subscribers.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/derive"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/parser"
	"github.com/atikulmunna/logscope/internal/security"
	"github.com/atikulmunna/logscope/internal/source"
)

const subscriberBuffer = 1024

// Appender stores live records. *table.Table satisfies it.
type Appender interface {
	AppendAccess(recs ...model.AccessRecord)
}

// Observer is told about every line the hub handles.
type Observer interface {
	ObserveLive(rec model.AccessRecord, findings []security.Finding)
	ObserveSkipped(server string)
}

// Config wires the hub's collaborators. Parser and Enricher are required.
type Config struct {
	Parser   *parser.AccessParser
	Enricher *derive.Enricher
	Engine   *security.Engine         // optional; flags suspicious records
	Label    func(path string) string // server label for a source file
	Table    Appender                 // optional
	Observer Observer                 // optional
	Logger   *zap.Logger
}

// Hub receives raw lines, parses them, and broadcasts records to all subscribers.
type Hub struct {
	cfg         Config
	input       <-chan model.RawLine
	mu          sync.RWMutex
	subscribers []chan model.AccessRecord
	dropped     atomic.Int64
	parsed      atomic.Int64
	skipped     atomic.Int64
}

// New creates a Hub that reads from the input channel.
func New(input <-chan model.RawLine, cfg Config) *Hub {
	if cfg.Label == nil {
		cfg.Label = source.ServerLabel
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Hub{cfg: cfg, input: input}
}

// Subscribe returns a buffered channel that will receive parsed records.
// Multiple consumers can subscribe; each gets a copy of every record.
func (h *Hub) Subscribe() <-chan model.AccessRecord {
	ch := make(chan model.AccessRecord, subscriberBuffer)
	h.mu.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(sub <-chan model.AccessRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, ch := range h.subscribers {
		if ch == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Dropped returns the total number of records dropped due to slow consumers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Parsed returns the number of lines that produced a record.
func (h *Hub) Parsed() int64 { return h.parsed.Load() }

// Skipped returns the number of lines that were not access records.
func (h *Hub) Skipped() int64 { return h.skipped.Load() }

// Start begins reading from the input channel, parsing, and broadcasting.
// Blocks until the context is cancelled or the input channel is closed.
func (h *Hub) Start(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-h.input:
			if !ok {
				return
			}
			h.handle(raw)
		}
	}
}

func (h *Hub) handle(raw model.RawLine) {
	server := h.cfg.Label(raw.Source)
	rec, ok := h.cfg.Parser.Parse(raw.Text)
	if !ok {
		h.skipped.Add(1)
		if h.cfg.Observer != nil {
			h.cfg.Observer.ObserveSkipped(server)
		}
		return
	}
	h.parsed.Add(1)
	rec.Server = server
	h.cfg.Enricher.Enrich(&rec)

	var findings []security.Finding
	if h.cfg.Engine != nil {
		findings = h.cfg.Engine.Inspect(rec)
		for _, f := range findings {
			h.cfg.Logger.Warn("suspicious request",
				zap.String("kind", f.Kind),
				zap.String("field", f.Field),
				zap.String("pattern", f.Pattern),
				zap.String("ip", rec.IP),
				zap.String("server", rec.Server))
		}
	}
	if h.cfg.Table != nil {
		h.cfg.Table.AppendAccess(rec)
	}
	if h.cfg.Observer != nil {
		h.cfg.Observer.ObserveLive(rec, findings)
	}
	h.broadcast(rec)
}

// broadcast sends a record to all subscribers.
// If a subscriber's channel is full, the record is dropped for that subscriber.
func (h *Hub) broadcast(rec model.AccessRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- rec:
		default:
			n := h.dropped.Add(1)
			h.cfg.Logger.Debug("dropped record for slow consumer", zap.Int64("total_dropped", n))
		}
	}
}

// closeAll closes all subscriber channels.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}
