package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCollects(t *testing.T) {
	r := NewRegistry()
	r.EventsDetected.WithLabelValues("BTCUSDT", "1h", "BOS", "bullish").Inc()
	r.EventsDetected.WithLabelValues("BTCUSDT", "1h", "BOS", "bullish").Inc()
	r.ObserveAnalysis("1h", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.EventsDetected.WithLabelValues("BTCUSDT", "1h", "BOS", "bullish")))

	// Two registries must not collide.
	_ = NewRegistry()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "structure_events_detected_total")
	assert.Contains(t, string(body), "structure_analysis_duration_seconds_bucket")
}
