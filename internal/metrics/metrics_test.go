package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Queued("DELETE")
		m.Coalesced("DELETE")
		m.Processed("DELETE", ResultSuccess, time.Second)
		m.Retried()
		m.Expired(3)
		m.SetState(1, 2, 3)
	})
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Queued("CREATE_OR_UPDATE")
	m.Queued("CREATE_OR_UPDATE")
	m.Coalesced("CREATE_OR_UPDATE")
	m.Processed("CREATE_OR_UPDATE", ResultFailed, 10*time.Millisecond)
	m.Retried()
	m.Expired(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkItemsQueued.WithLabelValues("CREATE_OR_UPDATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkItemsCoalesced.WithLabelValues("CREATE_OR_UPDATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkItemsProcessed.WithLabelValues("CREATE_OR_UPDATE", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReindexRetries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReindexExpired))
}

func TestSetState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetState(4, 1, 3)

	expected := `
# HELP dirindex_reindex_ledger_size Number of work items awaiting retry
# TYPE dirindex_reindex_ledger_size gauge
dirindex_reindex_ledger_size 3
`
	require.NoError(t, testutil.CollectAndCompare(m.LedgerSize, strings.NewReader(expected)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PendingKeys))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueLength))
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Queued("DELETE")
	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, m)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `dirindex_work_items_queued_total{kind="DELETE"} 1`)
}
