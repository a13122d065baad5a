package call

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	loud  = 2000.0
	quiet = 10.0
)

func frame(amp int16) []byte {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = amp
	}
	return audio.Bytes(samples)
}

func testConfig() Config {
	return Config{
		BoundaryDelay:     30 * time.Millisecond,
		WatchdogInitial:   time.Hour,
		WatchdogPostReply: time.Hour,
		TeardownPoll:      5 * time.Millisecond,
		TeardownMaxWait:   2 * time.Second,
		HangupTimeout:     time.Second,
	}
}

func newTestSession(t *testing.T, cfg Config, hooks Hooks, obs metrics.Observer) *Session {
	t.Helper()
	s := NewSession(context.Background(), SessionInfo{CallSID: "CA1", StreamID: "MZ1"}, cfg, hooks, obs, nil)
	t.Cleanup(func() { s.BeginEnding("test_done") })
	return s
}

func TestPreSpeechBufferTrimmedToTail(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	s := newTestSession(t, testConfig(), Hooks{}, obs)

	for i := 0; i < 60; i++ {
		s.Ingest(frame(0), quiet)
	}

	assert.Equal(t, turn.StateIdle, s.State())
	assert.Equal(t, 19, s.BufferedFrames())
	assert.Equal(t, 1, obs.Count(metrics.EventBufferTrimmed))
	ev, ok := obs.Last(metrics.EventBufferTrimmed)
	require.True(t, ok)
	assert.Equal(t, 41.0, ev.Value)
	assert.Equal(t, PhasePreSpeech, ev.Tags[metrics.TagPhase])
}

func TestInSpeechBufferKeepsNewestFrames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSpeechFrames = 100
	obs := metrics.NewMemoryObserver()
	s := newTestSession(t, cfg, Hooks{}, obs)

	for i := 0; i < 150; i++ {
		s.Ingest(frame(3000), loud)
	}

	assert.Equal(t, turn.StateListening, s.State())
	assert.Equal(t, 100, s.BufferedFrames())
	ev, ok := obs.Last(metrics.EventBufferTrimmed)
	require.True(t, ok)
	assert.Equal(t, PhaseInSpeech, ev.Tags[metrics.TagPhase])
}

func TestQuietFrameArmsSingleBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.BoundaryDelay = time.Hour
	s := newTestSession(t, cfg, Hooks{}, nil)

	s.Ingest(frame(3000), loud)
	require.Equal(t, turn.StateListening, s.State())
	assert.False(t, s.BoundaryArmed())

	s.Ingest(frame(0), quiet)
	assert.Equal(t, turn.StateDebouncing, s.State())
	assert.True(t, s.BoundaryArmed())

	s.mu.Lock()
	gen := s.boundaryGen
	s.mu.Unlock()
	s.Ingest(frame(0), quiet)
	s.mu.Lock()
	assert.Equal(t, gen, s.boundaryGen, "a second quiet frame must not re-arm the timer")
	s.mu.Unlock()
}

func TestSpeechResumingCancelsBoundary(t *testing.T) {
	var fired sync.WaitGroup
	fired.Add(1)
	var calls atomic.Int32
	s := newTestSession(t, testConfig(), Hooks{OnBoundary: func(s *Session, pcm []byte) {
		calls.Add(1)
		s.FinishCycle()
		fired.Done()
	}}, nil)

	s.Ingest(frame(3000), loud)
	s.Ingest(frame(0), quiet)
	s.Ingest(frame(3000), loud)
	assert.Equal(t, turn.StateListening, s.State())
	assert.False(t, s.BoundaryArmed())

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, calls.Load())

	s.Ingest(frame(0), quiet)
	fired.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestBoundaryFlushesUtterance(t *testing.T) {
	got := make(chan []byte, 1)
	obs := metrics.NewMemoryObserver()
	s := newTestSession(t, testConfig(), Hooks{OnBoundary: func(s *Session, pcm []byte) {
		assert.Equal(t, turn.StateProcessing, s.State())
		assert.True(t, s.InFlight())
		got <- pcm
		s.FinishCycle()
	}}, obs)

	for i := 0; i < 5; i++ {
		s.Ingest(frame(3000), loud)
	}
	s.Ingest(frame(0), quiet)

	select {
	case pcm := <-got:
		assert.Len(t, pcm, 6*320)
	case <-time.After(time.Second):
		t.Fatal("boundary never fired")
	}
	require.Eventually(t, func() bool { return s.State() == turn.StateIdle }, time.Second, 5*time.Millisecond)
	assert.False(t, s.InFlight())
	assert.Equal(t, 0, s.BufferedFrames())
	assert.Equal(t, 1, obs.Count(metrics.EventTurnBoundary))
}

func TestOneCycleInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	s := newTestSession(t, testConfig(), Hooks{OnBoundary: func(s *Session, pcm []byte) {
		entered <- struct{}{}
		<-release
		s.FinishCycle()
	}}, nil)

	s.Ingest(frame(3000), loud)
	s.Ingest(frame(0), quiet)
	<-entered

	// Speech heard while the cycle runs is buffered, not processed.
	s.Ingest(frame(3000), loud)
	for i := 0; i < 10; i++ {
		s.Ingest(frame(0), quiet)
	}
	assert.Equal(t, turn.StateProcessing, s.State())
	assert.False(t, s.BoundaryArmed())
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, entered, 0)

	close(release)
	require.Eventually(t, func() bool { return s.State() == turn.StateListening }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 11, s.BufferedFrames())

	s.Ingest(frame(0), quiet)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second cycle never started")
	}
}

func TestLoudFrameDisarmsWatchdog(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogInitial = time.Hour
	s := newTestSession(t, cfg, Hooks{}, nil)
	s.Start()
	require.True(t, s.WatchdogArmed())

	s.Ingest(frame(0), quiet)
	assert.True(t, s.WatchdogArmed())
	s.Ingest(frame(3000), loud)
	assert.False(t, s.WatchdogArmed())
}

func TestWatchdogFires(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogInitial = 20 * time.Millisecond
	fired := make(chan *Session, 1)
	obs := metrics.NewMemoryObserver()
	s := newTestSession(t, cfg, Hooks{OnWatchdog: func(s *Session) { fired <- s }}, obs)
	s.Start()

	select {
	case got := <-fired:
		assert.Same(t, s, got)
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
	assert.Equal(t, 1, obs.Count(metrics.EventWatchdogFired))
	assert.False(t, s.WatchdogArmed())
}

func TestRearmedWatchdogIgnoresStaleFire(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogInitial = 30 * time.Millisecond
	var mu sync.Mutex
	fires := 0
	s := newTestSession(t, cfg, Hooks{OnWatchdog: func(*Session) {
		mu.Lock()
		fires++
		mu.Unlock()
	}}, nil)
	s.Start()
	s.ArmWatchdog(time.Hour)

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fires)
	assert.True(t, s.WatchdogArmed())
}

func TestBeginEndingOnce(t *testing.T) {
	cfg := testConfig()
	cfg.BoundaryDelay = time.Hour
	s := newTestSession(t, cfg, Hooks{}, nil)
	s.Start()
	s.Ingest(frame(3000), loud)
	s.Ingest(frame(0), quiet)
	s.ArmWatchdog(time.Hour)

	assert.True(t, s.BeginEnding("stop"))
	assert.False(t, s.BeginEnding("watchdog_timeout"))
	assert.Equal(t, "stop", s.EndReason())
	assert.Equal(t, turn.StateEnding, s.State())
	assert.False(t, s.BoundaryArmed())
	assert.False(t, s.WatchdogArmed())

	before := s.BufferedFrames()
	s.Ingest(frame(3000), loud)
	assert.Equal(t, before, s.BufferedFrames())
	s.ArmPostReplyWatchdog()
	assert.False(t, s.WatchdogArmed())
}

func TestHistoryAndLanguage(t *testing.T) {
	s := newTestSession(t, testConfig(), Hooks{}, nil)
	s.AppendTurn("user", "Hello, how can I help?")
	s.AppendTurn("assistant", "I need an appointment.")
	s.AppendTurn("user", "Sure.")
	s.SetDetectedLanguage("")
	s.SetDetectedLanguage("es")

	h := s.History()
	require.Len(t, h, 3)
	h[0].Content = "mutated"
	assert.Equal(t, "Hello, how can I help?", s.History()[0].Content)
	assert.Equal(t, 2, s.UserTurns())
	assert.Equal(t, "es", s.DetectedLanguage())
}
