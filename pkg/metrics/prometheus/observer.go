// Package prometheus exports call engine events as Prometheus metrics.
package prometheus

import (
	"net/http"

	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callprobe"

// Observer translates metrics.MetricsEvent into collectors on its own registry.
type Observer struct {
	registry *prometheus.Registry

	callsActive    prometheus.Gauge
	callsEnded     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	turnsAbandoned *prometheus.CounterVec
	replies        *prometheus.CounterVec
	playbackFrames *prometheus.CounterVec
	bufferTrims    *prometheus.CounterVec
	watchdogFired  prometheus.Counter
	reports        *prometheus.CounterVec
	breakerEvents  *prometheus.CounterVec
}

// NewObserver builds the collectors and registers them with a fresh registry.
func NewObserver() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		callsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of call sessions currently registered",
		}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of call sessions torn down",
		}, []string{"reason"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Duration of each turn cycle stage in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"stage"}),
		turnsAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_abandoned_total",
			Help:      "Turn cycles that ended without a reply",
		}, []string{"reason"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies produced per kind (speech, wait, end_call, override)",
		}, []string{"kind"}),
		playbackFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_total",
			Help:      "Outbound audio frames sent per playback status",
		}, []string{"status"}),
		bufferTrims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_trims_total",
			Help:      "Audio buffer cap enforcements",
		}, []string{"phase"}),
		watchdogFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_fired_total",
			Help:      "Calls force-ended because the remote party went silent",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Graded call reports per status",
		}, []string{"status"}),
		breakerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_breaker_events_total",
			Help:      "Rate limit and circuit breaker transitions per provider",
		}, []string{"provider", "event"}),
	}
	o.registry.MustRegister(
		o.callsActive,
		o.callsEnded,
		o.stageDuration,
		o.turnsAbandoned,
		o.replies,
		o.playbackFrames,
		o.bufferTrims,
		o.watchdogFired,
		o.reports,
		o.breakerEvents,
	)
	return o
}

// Registry exposes the underlying registry, mostly for tests.
func (o *Observer) Registry() *prometheus.Registry { return o.registry }

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

func (o *Observer) RecordEvent(ev metrics.MetricsEvent) {
	tag := func(k, fallback string) string {
		if v := ev.Tags[k]; v != "" {
			return v
		}
		return fallback
	}
	switch ev.Name {
	case metrics.EventCallStarted:
		o.callsActive.Inc()
	case metrics.EventCallEnded:
		o.callsActive.Dec()
		o.callsEnded.WithLabelValues(tag(metrics.TagReason, "unknown")).Inc()
	case metrics.EventSTTDone:
		o.stageDuration.WithLabelValues("stt").Observe(ev.Value / 1000)
	case metrics.EventReplyReady:
		o.stageDuration.WithLabelValues("reply").Observe(ev.Value / 1000)
		o.replies.WithLabelValues(tag(metrics.TagKind, "speech")).Inc()
	case metrics.EventTTSDone:
		o.stageDuration.WithLabelValues("tts").Observe(ev.Value / 1000)
	case metrics.EventTurnAbandoned:
		o.turnsAbandoned.WithLabelValues(tag(metrics.TagReason, "unknown")).Inc()
	case metrics.EventPlaybackDone:
		o.playbackFrames.WithLabelValues(tag(metrics.TagStatus, "complete")).Add(ev.Value)
	case metrics.EventBufferTrimmed:
		o.bufferTrims.WithLabelValues(tag(metrics.TagPhase, "unknown")).Inc()
	case metrics.EventWatchdogFired:
		o.watchdogFired.Inc()
	case metrics.EventReportGraded:
		o.reports.WithLabelValues(tag(metrics.TagStatus, "unknown")).Inc()
	case metrics.EventRateLimit, metrics.EventBreakerOpen, metrics.EventBreakerClose, metrics.EventBreakerDenied:
		o.breakerEvents.WithLabelValues(tag(metrics.TagProvider, "unknown"), ev.Name).Inc()
	}
}
