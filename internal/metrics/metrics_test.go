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

func TestObserveDeliver(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("post", ResultOK))
	ObserveDeliver("post", ResultOK, time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("post", ResultOK)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveDeliver("like", ResultRejected, time.Now())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `talk_operations_total{op="like",result="rejected"}`))
	assert.True(t, strings.Contains(body, "talk_deliver_duration_seconds"))
}
