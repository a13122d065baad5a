package observers

import (
	"sync"

	"github.com/harunnryd/callprobe/pkg/metrics"
)

// Field keys read by UsageObserver.
const (
	FieldAudioMillis = "audio_ms"
	FieldTokens      = "tokens"
)

// Usage is the provider consumption of a single call.
type Usage struct {
	STTAudioSec float64 `json:"stt_audio_seconds"`
	TTSAudioSec float64 `json:"tts_audio_seconds"`
	LLMTokens   int     `json:"llm_tokens"`
	Turns       int     `json:"turns"`
}

// UsageObserver sums provider consumption per call.
type UsageObserver struct {
	mu    sync.Mutex
	stats map[string]*Usage
}

func NewUsageObserver() *UsageObserver {
	return &UsageObserver{stats: make(map[string]*Usage)}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	callSID := ev.Tags[metrics.TagCallSID]
	if callSID == "" {
		return
	}
	switch ev.Name {
	case metrics.EventSTTDone, metrics.EventReplyReady, metrics.EventTTSDone:
	default:
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	u := o.stats[callSID]
	if u == nil {
		u = &Usage{}
		o.stats[callSID] = u
	}
	switch ev.Name {
	case metrics.EventSTTDone:
		u.STTAudioSec += numberField(ev.Fields, FieldAudioMillis) / 1000
		u.Turns++
	case metrics.EventReplyReady:
		u.LLMTokens += int(numberField(ev.Fields, FieldTokens))
	case metrics.EventTTSDone:
		u.TTSAudioSec += numberField(ev.Fields, FieldAudioMillis) / 1000
	}
}

// Take returns and forgets the usage summary for callSID.
func (o *UsageObserver) Take(callSID string) Usage {
	o.mu.Lock()
	defer o.mu.Unlock()
	u := o.stats[callSID]
	delete(o.stats, callSID)
	if u == nil {
		return Usage{}
	}
	return *u
}

func numberField(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
