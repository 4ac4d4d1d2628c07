package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestStatsUpdater_Counters(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	RegisterEngineMetrics(su)
	su.Run()
	defer su.Stop()

	su.Incr(EventsReceived)
	su.Incr(EventsReceived)
	su.Decr(EventsReceived)
	su.Incr("not_registered")

	assert.Eventually(t, func() bool {
		v, ok := su.Value(EventsReceived)
		return ok && v == 1
	}, time.Second, 10*time.Millisecond, "expected events_received to settle at 1")

	_, ok := su.Value("not_registered")
	assert.False(t, ok, "expected unregistered metric to be ignored")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "Uptime")
	assert.Contains(t, body, DecryptFailures)
}
