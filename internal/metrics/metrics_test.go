package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector(30 * time.Second)

	c.SampleIngested()
	c.SampleIngested()
	c.SampleRejected("validation")
	c.EvaluationObserve("delayed", time.Millisecond)
	c.SetFleet(4, 1)
	c.RouteReload("applied", 3)
	c.RouteReload("unchanged", 9)
	c.NATSSetConnected(true)

	body := scrape(t, c)
	assert.Contains(t, body, "campusbus_samples_ingested_total 2")
	assert.Contains(t, body, `campusbus_samples_rejected_total{reason="validation"} 1`)
	assert.Contains(t, body, `campusbus_evaluations_total{status="delayed"} 1`)
	assert.Contains(t, body, "campusbus_tracked_vehicles 4")
	assert.Contains(t, body, "campusbus_delayed_vehicles 1")
	assert.Contains(t, body, "campusbus_routes_loaded 3")
	assert.Contains(t, body, `campusbus_route_reloads_total{result="unchanged"} 1`)
	assert.Contains(t, body, "campusbus_nats_connected 1")
	assert.Contains(t, body, "campusbus_refresh_interval_seconds 30")
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SampleIngested()
		c.SampleRejected("validation")
		c.EvaluationObserve("on_time", time.Second)
		c.SetFleet(1, 1)
		c.SetWSClients(2)
		c.RouteReload("failed", 0)
		c.ArrivalRecorded()
		c.NATSPublishedInc()
		c.NATSPublishErrInc()
		c.PublishObserve(time.Second)
		c.NATSSetConnected(false)
	})
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
