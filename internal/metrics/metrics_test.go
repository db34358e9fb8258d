package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersExposed(t *testing.T) {
	m := NewNop()
	m.Uploads.WithLabelValues(OutcomeAccepted, "pet").Inc()
	m.Transitions.WithLabelValues("committed").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads.WithLabelValues(OutcomeAccepted, "pet")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("committed")))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pawdir_media_uploads_total{outcome="accepted",owner="pet"} 1`)
}
