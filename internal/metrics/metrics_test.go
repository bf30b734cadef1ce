package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGeneration(t *testing.T) {
	before := testutil.ToFloat64(generations.WithLabelValues("sdxl", OutcomeSuccess))
	RecordGeneration("sdxl", OutcomeSuccess, 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(generations.WithLabelValues("sdxl", OutcomeSuccess)))

	unknown := testutil.ToFloat64(generations.WithLabelValues("unknown", OutcomeInvalid))
	RecordGeneration("", OutcomeInvalid, time.Millisecond)
	assert.Equal(t, unknown+1, testutil.ToFloat64(generations.WithLabelValues("unknown", OutcomeInvalid)))
}

func TestCreditCounters(t *testing.T) {
	spent := testutil.ToFloat64(creditsSpent.WithLabelValues("sdxl"))
	AddCreditsSpent("sdxl", 2)
	assert.Equal(t, spent+2, testutil.ToFloat64(creditsSpent.WithLabelValues("sdxl")))

	refunded := testutil.ToFloat64(creditsRefunded)
	AddCreditsRefunded(4)
	assert.Equal(t, refunded+4, testutil.ToFloat64(creditsRefunded))

	misses := testutil.ToFloat64(styleMisses)
	IncStyleMiss()
	assert.Equal(t, misses+1, testutil.ToFloat64(styleMisses))
}

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(InstrumentHandler)
	r.HandleFunc("/api/images/{id}/visibility", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPatch, "/api/images/42/visibility", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(httpRequests.WithLabelValues("PATCH", "/api/images/{id}/visibility", "202"))
	assert.Equal(t, float64(1), got)
}

func TestHandlerExposesMetrics(t *testing.T) {
	IncInferenceRetry("model is loading")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "dreamforge_inference_retries_total"))
}
