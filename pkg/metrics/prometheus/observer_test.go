package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCountsEvents(t *testing.T) {
	o := NewObserver()
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventCallStarted})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventCallStarted})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventCallEnded, Tags: map[string]string{metrics.TagReason: "watchdog"}})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventTurnAbandoned, Tags: map[string]string{metrics.TagReason: "empty_transcript"}})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPlaybackDone, Value: 50})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventWatchdogFired})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSTTDone, Value: 420})

	assert.Equal(t, float64(1), testutil.ToFloat64(o.callsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.callsEnded.WithLabelValues("watchdog")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.turnsAbandoned.WithLabelValues("empty_transcript")))
	assert.Equal(t, float64(50), testutil.ToFloat64(o.playbackFrames.WithLabelValues("complete")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.watchdogFired))
	assert.Equal(t, 1, testutil.CollectAndCount(o.stageDuration))
}

func TestObserverHandlerServesMetrics(t *testing.T) {
	o := NewObserver()
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventReportGraded, Tags: map[string]string{metrics.TagStatus: "PASSED"}})

	w := httptest.NewRecorder()
	o.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `callprobe_reports_total{status="PASSED"} 1`)
}
