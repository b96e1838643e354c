package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Operation("submit_sample", OutcomeOK)
	m.Enrichment(OutcomeError)
	m.EnqueueFailed()
	m.ConsumerBatch("samples.enrich", 3)
}

func TestOperationCounter(t *testing.T) {
	m := New()
	m.Operation("submit_sample", OutcomeOK)
	m.Operation("submit_sample", OutcomeOK)
	m.Operation("submit_sample", OutcomeConflict)

	body := scrape(t, m)
	assert.Contains(t, body, `biokeeper_operations_total{operation="submit_sample",outcome="ok"} 2`)
	assert.Contains(t, body, `biokeeper_operations_total{operation="submit_sample",outcome="conflict"} 1`)
}

func TestHandlerExposesEnrichment(t *testing.T) {
	m := New()
	m.Enrichment(OutcomeOK)
	m.EnqueueFailed()

	body := scrape(t, m)
	assert.Contains(t, body, `biokeeper_enrichments_total{outcome="ok"} 1`)
	assert.Contains(t, body, "biokeeper_enrichment_enqueue_failures_total 1")
}
