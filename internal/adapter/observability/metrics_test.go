package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
)

func TestHTTPMetricsMiddleware_RecordsRequest(t *testing.T) {
	observability.HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(observability.HTTPMetricsMiddleware)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/jobs/123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(observability.HTTPRequestsTotal.WithLabelValues("/jobs/{id}", "GET", "OK")))
}

func TestRecordHelpers_DoNotPanic(t *testing.T) {
	observability.RecordDispatch("async")
	observability.RecordSettlement("done")
	observability.RecordRefund("job_failed")
	observability.RecordDebit("ok")
	observability.RecordCredit("refund")
	observability.RecordPublish("confirmed", 0.02)
	observability.RecordPublishRetry("dispatch.tasks")
	observability.RecordRPCTimeout()
	observability.SetOutboxBacklog(3)
}
