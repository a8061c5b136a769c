// Package metrics exposes parse and detection counters for Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/security"
	"github.com/atikulmunna/logscope/internal/table"
)

const namespace = "logscope"

// Line outcomes.
const (
	OutcomeParsed  = "parsed"
	OutcomeSkipped = "skipped"
)

// Metrics owns a private registry so tests and embedders never touch the
// global one.
type Metrics struct {
	registry *prometheus.Registry

	linesTotal      *prometheus.CounterVec
	fileErrorsTotal *prometheus.CounterVec
	detectionsTotal *prometheus.CounterVec
	liveRecords     *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

var _ table.Observer = (*Metrics)(nil)

// New registers all collectors, plus the Go runtime and process collectors.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Log lines read, by log kind, shard and outcome",
		},
		[]string{"kind", "server", "outcome"},
	)
	m.fileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_errors_total",
			Help:      "Log files that could not be read, by shard",
		},
		[]string{"server"},
	)
	m.detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Security findings, by detector",
		},
		[]string{"kind"},
	)
	m.liveRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_records_total",
			Help:      "Records seen on the live stream, by status class",
		},
		[]string{"class"},
	)
	m.wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected websocket clients",
	})

	cs := []prometheus.Collector{
		m.linesTotal,
		m.fileErrorsTotal,
		m.detectionsTotal,
		m.liveRecords,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// ObserveShard counts the lines of one loaded shard.
func (m *Metrics) ObserveShard(s table.ShardStats) {
	m.linesTotal.WithLabelValues("access", s.Server, OutcomeParsed).Add(float64(s.AccessLines - s.AccessSkipped))
	m.linesTotal.WithLabelValues("access", s.Server, OutcomeSkipped).Add(float64(s.AccessSkipped))
	m.linesTotal.WithLabelValues("error", s.Server, OutcomeParsed).Add(float64(s.ErrorLines - s.ErrorSkipped))
	m.linesTotal.WithLabelValues("error", s.Server, OutcomeSkipped).Add(float64(s.ErrorSkipped))
	if n := len(s.FileErrors); n > 0 {
		m.fileErrorsTotal.WithLabelValues(s.Server).Add(float64(n))
	}
}

// ObserveReport counts the findings of a security pass.
func (m *Metrics) ObserveReport(r security.Report) {
	m.detectionsTotal.WithLabelValues(security.KindBruteForce).Add(float64(len(r.BruteForce)))
	m.detectionsTotal.WithLabelValues(security.KindSQLInjection).Add(float64(len(r.SQLInjection)))
	m.detectionsTotal.WithLabelValues(security.KindXSS).Add(float64(len(r.XSS)))
	m.detectionsTotal.WithLabelValues(security.KindHighErrorIP).Add(float64(len(r.HighErrorIPs)))
}

// ObserveLive counts one streamed record and its findings.
func (m *Metrics) ObserveLive(rec model.AccessRecord, findings []security.Finding) {
	m.liveRecords.WithLabelValues(aggregator.StatusClass(rec)).Inc()
	for _, f := range findings {
		m.detectionsTotal.WithLabelValues(f.Kind).Inc()
	}
}

// ObserveSkipped counts a live line that did not parse.
func (m *Metrics) ObserveSkipped(server string) {
	m.linesTotal.WithLabelValues("access", server, OutcomeSkipped).Inc()
}

// ClientConnected and ClientDisconnected track websocket subscribers.
func (m *Metrics) ClientConnected()    { m.wsClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.wsClients.Dec() }

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
