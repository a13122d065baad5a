package observers

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/redact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagged(name, callSID string) metrics.MetricsEvent {
	return metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: map[string]string{metrics.TagCallSID: callSID}}
}

func TestTimelineObserverBoundsAndTakes(t *testing.T) {
	obs := NewTimelineObserver(2)
	obs.RecordEvent(tagged(metrics.EventCallStarted, "CA1"))
	obs.RecordEvent(tagged(metrics.EventTurnBoundary, "CA1"))
	obs.RecordEvent(tagged(metrics.EventSTTDone, "CA1"))
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSTTDone})

	list := obs.Take("CA1")
	require.Len(t, list, 2)
	assert.Equal(t, metrics.EventTurnBoundary, list[0].Event)
	assert.Equal(t, metrics.EventSTTDone, list[1].Event)
	assert.Nil(t, list[1].Tags)
	assert.Empty(t, obs.Take("CA1"))
}

func TestTimelineObserverDropsEventsAfterCallEnded(t *testing.T) {
	obs := NewTimelineObserver(10)
	obs.RecordEvent(tagged(metrics.EventCallStarted, "CA1"))
	require.Len(t, obs.Take("CA1"), 1)

	obs.RecordEvent(tagged(metrics.EventReportGraded, "CA1"))
	obs.RecordEvent(tagged(metrics.EventCallEnded, "CA1"))
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Empty(t, obs.calls)
}

func TestTimelineObserverRedactsStringFields(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)
	obs := NewTimelineObserver(10)
	ev := tagged(metrics.EventSTTDone, "CA1")
	ev.Fields = map[string]any{"text": "mail me at jane@example.com", "audio_ms": 200}
	obs.RecordEvent(ev)

	list := obs.Take("CA1")
	require.Len(t, list, 1)
	assert.NotContains(t, list[0].Fields["text"], "jane@example.com")
	assert.Equal(t, 200, list[0].Fields["audio_ms"])
}

func TestUsageObserverSumsPerCall(t *testing.T) {
	obs := NewUsageObserver()
	stt := tagged(metrics.EventSTTDone, "CA1")
	stt.Fields = map[string]any{FieldAudioMillis: 1500}
	obs.RecordEvent(stt)
	obs.RecordEvent(stt)
	reply := tagged(metrics.EventReplyReady, "CA1")
	reply.Fields = map[string]any{FieldTokens: 42}
	obs.RecordEvent(reply)
	tts := tagged(metrics.EventTTSDone, "CA1")
	tts.Fields = map[string]any{FieldAudioMillis: int64(2500)}
	obs.RecordEvent(tts)

	u := obs.Take("CA1")
	assert.InDelta(t, 3.0, u.STTAudioSec, 1e-9)
	assert.InDelta(t, 2.5, u.TTSAudioSec, 1e-9)
	assert.Equal(t, 42, u.LLMTokens)
	assert.Equal(t, 2, u.Turns)
	assert.Equal(t, Usage{}, obs.Take("CA1"))
}

func TestLatencyObserverLogsOnPlaybackStart(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	obs := NewLatencyObserver(log)

	obs.RecordEvent(tagged(metrics.EventTurnBoundary, "CA1"))
	obs.RecordEvent(tagged(metrics.EventSTTDone, "CA1"))
	require.Equal(t, 1, obs.Pending())
	obs.RecordEvent(tagged(metrics.EventPlaybackStart, "CA1"))

	assert.Zero(t, obs.Pending())
	assert.Contains(t, buf.String(), "turn_latency")
	assert.Contains(t, buf.String(), "call_sid=CA1")
}

func TestMultiObserverFansOut(t *testing.T) {
	a := metrics.NewMemoryObserver()
	b := metrics.NewMemoryObserver()
	NewMultiObserver(a, nil, b).RecordEvent(tagged(metrics.EventCallEnded, "CA1"))
	assert.Equal(t, 1, a.Count(metrics.EventCallEnded))
	assert.Equal(t, 1, b.Count(metrics.EventCallEnded))
}
