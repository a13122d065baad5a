package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(MetricsEvent)

func (f ObserverFunc) RecordEvent(ev MetricsEvent) { f(ev) }

// AsyncObserver hands events to a slow inner observer on its own goroutine.
// A full queue drops the event instead of stalling the audio path.
type AsyncObserver struct {
	inner   Observer
	queue   chan MetricsEvent
	stopped chan struct{}
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner:   inner,
		queue:   make(chan MetricsEvent, buffer),
		stopped: make(chan struct{}),
	}
	go func() {
		defer close(a.stopped)
		for ev := range a.queue {
			a.inner.RecordEvent(ev)
		}
	}()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped counts events lost to a full queue.
func (a *AsyncObserver) Dropped() int64 { return a.dropped.Load() }

// Close flushes queued events and returns once the inner observer saw them.
// Later events are ignored. Safe to call more than once.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.stopped
}
