package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/security"
	"github.com/atikulmunna/logscope/internal/table"
)

func TestObserveShard(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObserveShard(table.ShardStats{
		Server:        "app_server_1",
		AccessLines:   10,
		AccessSkipped: 2,
		ErrorLines:    4,
		ErrorSkipped:  1,
		FileErrors:    []string{"a.log"},
	})

	assert.Equal(t, 8.0, testutil.ToFloat64(m.linesTotal.WithLabelValues("access", "app_server_1", OutcomeParsed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.linesTotal.WithLabelValues("access", "app_server_1", OutcomeSkipped)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.linesTotal.WithLabelValues("error", "app_server_1", OutcomeParsed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fileErrorsTotal.WithLabelValues("app_server_1")))
}

func TestObserveLiveAndReport(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	status := 404
	m.ObserveLive(model.AccessRecord{Status: &status}, []security.Finding{{Kind: security.KindXSS}})
	m.ObserveLive(model.AccessRecord{}, nil)
	m.ObserveReport(security.Report{
		BruteForce: []security.BruteForceHit{{IP: "1.1.1.1"}},
		XSS:        []security.Finding{{Kind: security.KindXSS}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveRecords.WithLabelValues("4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveRecords.WithLabelValues("unknown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.detectionsTotal.WithLabelValues(security.KindXSS)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detectionsTotal.WithLabelValues(security.KindBruteForce)))

	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsClients))
}

func TestHandlerExposesCounters(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.ObserveSkipped("edge")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `logscope_lines_total{kind="access",outcome="skipped",server="edge"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
