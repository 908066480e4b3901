package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	ok := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))

	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	bad.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))
}

func TestObserveSegment(t *testing.T) {
	m := New()
	m.ObserveSegment(false, 1024)
	m.ObserveSegment(true, 100)
	m.ObserveSegment(true, 100)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.segmentsServedTotal.WithLabelValues("full")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.segmentsServedTotal.WithLabelValues("partial")))
	assert.Equal(t, 1224.0, testutil.ToFloat64(m.segmentBytesTotal))
}

func TestHandler_refreshes_gauges(t *testing.T) {
	m := New()
	m.IncManifest("master")

	rec := httptest.NewRecorder()
	m.Handler(func() { m.SetActiveSessions(3) }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "cdnsim_sessions 3"), body)
	assert.True(t, strings.Contains(body, `cdnsim_manifests_served_total{kind="master"} 1`), body)
}
