package observers

import (
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/redact"
)

// TimelineEntry is one engine event attached to a call report.
type TimelineEntry struct {
	Time   time.Time         `json:"time"`
	Event  string            `json:"event"`
	Value  float64           `json:"value,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

// TimelineObserver keeps a bounded per-call event timeline in memory until the
// call's report takes it.
type TimelineObserver struct {
	maxEntries int
	mu         sync.Mutex
	calls      map[string][]TimelineEntry
}

// NewTimelineObserver keeps at most maxEntries events per call (oldest dropped).
func NewTimelineObserver(maxEntries int) *TimelineObserver {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &TimelineObserver{maxEntries: maxEntries, calls: make(map[string][]TimelineEntry)}
}

// RecordEvent implements metrics.Observer.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	callSID := strings.TrimSpace(ev.Tags[metrics.TagCallSID])
	if callSID == "" {
		return
	}
	if ev.Name == metrics.EventCallEnded {
		// The report already took the timeline; drop stragglers.
		o.mu.Lock()
		delete(o.calls, callSID)
		o.mu.Unlock()
		return
	}
	entry := TimelineEntry{
		Time:   ev.Time.UTC(),
		Event:  ev.Name,
		Value:  ev.Value,
		Tags:   copyTags(ev.Tags),
		Fields: sanitizeFields(ev.Fields),
	}
	delete(entry.Tags, metrics.TagCallSID)
	if len(entry.Tags) == 0 {
		entry.Tags = nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	list := append(o.calls[callSID], entry)
	if len(list) > o.maxEntries {
		list = list[len(list)-o.maxEntries:]
	}
	o.calls[callSID] = list
}

// Take returns and forgets the timeline for callSID.
func (o *TimelineObserver) Take(callSID string) []TimelineEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.calls[callSID]
	delete(o.calls, callSID)
	return list
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
