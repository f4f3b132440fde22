package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New("classifier")

	m.ObserveRequest("/classify", http.MethodPost, 200, 12*time.Millisecond)
	m.ObserveRequest("/classify", http.MethodPost, 200, 3*time.Millisecond)
	m.ObserveRequest("/classify", http.MethodPost, 503, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestTotal.WithLabelValues("/classify", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestTotal.WithLabelValues("/classify", "POST", "503")))
}

func TestModelState(t *testing.T) {
	m := New("predictor")

	m.ModelState("loaded", true, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoaded))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MappingsLoaded))

	m.ModelState("load_failed", false, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ModelLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reloads.WithLabelValues("load_failed")))
}

func TestHandlerExposesServiceLabel(t *testing.T) {
	m := New("predictor")
	m.CategoryFallback("predictor")
	m.ObserveInference(40 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `civic_category_fallbacks_total{component="predictor",service="predictor"} 1`), body)
	assert.Contains(t, body, "civic_inference_latency_ms_count")
}
