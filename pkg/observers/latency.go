package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callprobe/pkg/metrics"
)

// LatencyObserver logs how long each turn cycle took from boundary to first
// outbound frame, broken down per stage.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	boundary  time.Time
	sttDone   time.Time
	replyDone time.Time
	ttsDone   time.Time
	traceID   string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	callSID := ev.Tags[metrics.TagCallSID]
	if callSID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventTurnBoundary:
		o.traces[callSID] = &trace{boundary: ev.Time, traceID: ev.Tags[metrics.TagTraceID]}
		return
	case metrics.EventTurnAbandoned, metrics.EventCallEnded:
		delete(o.traces, callSID)
		return
	}
	t := o.traces[callSID]
	if t == nil {
		return
	}
	switch ev.Name {
	case metrics.EventSTTDone:
		t.sttDone = ev.Time
	case metrics.EventReplyReady:
		t.replyDone = ev.Time
	case metrics.EventTTSDone:
		t.ttsDone = ev.Time
	case metrics.EventPlaybackStart:
		o.log.Info("turn_latency",
			"call_sid", callSID,
			"trace_id", t.traceID,
			"stt_ms", durationMs(t.boundary, t.sttDone),
			"reply_ms", durationMs(t.sttDone, t.replyDone),
			"tts_ms", durationMs(t.replyDone, t.ttsDone),
			"first_frame_ms", durationMs(t.boundary, ev.Time),
		)
		delete(o.traces, callSID)
	}
}

// Pending reports how many cycles are being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
