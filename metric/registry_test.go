package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scanstreams/errors"
)

func TestCoreMetricsRecord(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordMessageReceived("matcher", "representations")
	core.RecordMessageReceived("matcher", "representations")
	core.RecordMessagePublished("matcher", "matches")
	core.RecordMessageProcessed("matcher", "representations", "ok")
	core.RecordProcessingDuration("matcher", "handle", 25*time.Millisecond)
	core.RecordError("matcher", "malformed")
	core.RecordBrokerStatus(true)
	core.RecordBrokerReconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(
		core.MessagesReceived.WithLabelValues("matcher", "representations")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		core.MessagesPublished.WithLabelValues("matcher", "matches")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		core.ErrorsTotal.WithLabelValues("matcher", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.BrokerConnected))

	core.RecordBrokerStatus(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(core.BrokerConnected))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scanstreams", Name: "test_gauge", Help: "test",
	})

	require.NoError(t, registry.RegisterGauge("explorer", "test_gauge", gauge))

	err := registry.RegisterGauge("explorer", "test_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregisterAllowsReRegistration(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scanstreams", Name: "test_gauge", Help: "test",
	})

	require.NoError(t, registry.RegisterGauge("explorer", "test_gauge", gauge))
	assert.True(t, registry.Unregister("explorer", "test_gauge"))
	assert.False(t, registry.Unregister("explorer", "test_gauge"))
	require.NoError(t, registry.RegisterGauge("explorer", "test_gauge", gauge))
}

func TestServerDefaults(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())
}

func TestServerHealthHandlerOverride(t *testing.T) {
	called := false
	server := NewServer(9090, "/metrics", NewMetricsRegistry())
	server.SetHealthHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	recorder := httptest.NewRecorder()
	server.health.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}
