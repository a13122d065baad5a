package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/frames"
	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	sent      []frames.AudioFrame
	sentAt    []time.Time
	connected bool
	dropAfter int
	sendErr   error
}

func (f *fakeSender) Send(fr frames.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, fr.(frames.AudioFrame))
	f.sentAt = append(f.sentAt, time.Now())
	if f.dropAfter > 0 && len(f.sent) >= f.dropAfter {
		f.connected = false
	}
	return nil
}

func (f *fakeSender) Connected(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func pcmClip(samples int, amp int16, rate int) tts.Audio {
	s := make([]int16, samples)
	for i := range s {
		s[i] = amp
	}
	return tts.Audio{Data: audio.Bytes(s), Container: audio.ContainerPCM, SampleRate: rate}
}

func TestPrepareSlicesAndPads(t *testing.T) {
	p := NewPacer(&fakeSender{}, Config{Gain: 1})
	// 250 samples at 8kHz -> 250 mu-law bytes -> 2 frames of 160
	clip, err := p.Prepare(pcmClip(250, 0, 8000))
	require.NoError(t, err)
	require.Len(t, clip.Frames, 2)
	assert.Len(t, clip.Frames[1], 160)
	assert.Equal(t, audio.MuLawSilence, clip.Frames[1][159])
	assert.Equal(t, 31, clip.AudioMillis)
}

func TestPrepareResamples(t *testing.T) {
	p := NewPacer(&fakeSender{}, Config{})
	// 1600 samples at 16kHz is 100ms -> 800 samples at 8kHz -> 5 frames
	clip, err := p.Prepare(pcmClip(1600, 100, 16000))
	require.NoError(t, err)
	assert.Len(t, clip.Frames, 5)
}

func TestPrepareGainClamps(t *testing.T) {
	p := NewPacer(&fakeSender{}, Config{Gain: 4})
	clip, err := p.Prepare(pcmClip(160, 30000, 8000))
	require.NoError(t, err)
	decoded := audio.Samples(audio.DecodeMuLaw(clip.Frames[0]))
	for _, s := range decoded {
		assert.Greater(t, s, int16(0), "clamped sample must not wrap negative")
	}
}

func TestPrepareRejectsBadContainer(t *testing.T) {
	p := NewPacer(&fakeSender{}, Config{})
	_, err := p.Prepare(tts.Audio{Data: []byte{1, 2, 3}, Container: "ogg", SampleRate: 8000})
	require.Error(t, err)
	assert.Equal(t, errorsx.ReasonAudioDecode, errorsx.Reason(err))
}

func TestStreamSendsAllFramesInOrder(t *testing.T) {
	sender := &fakeSender{connected: true}
	obs := metrics.NewMemoryObserver()
	p := NewPacer(sender, Config{FrameDelay: time.Millisecond})
	p.SetObserver(obs)

	clip, err := p.Prepare(pcmClip(800, 500, 8000))
	require.NoError(t, err)
	res, err := p.Stream(context.Background(), "MZ1", "CA1", clip)
	require.NoError(t, err)
	assert.Equal(t, 5, res.FramesSent)
	assert.False(t, res.Aborted)

	require.Len(t, sender.sent, 5)
	for i, f := range sender.sent {
		assert.Equal(t, frames.EncodingMuLaw, f.Encoding())
		assert.Equal(t, "MZ1", f.MetaValue(frames.MetaStreamID))
		assert.Equal(t, clip.Frames[i], f.RawPayload())
		if i > 0 {
			assert.Greater(t, f.PTS(), sender.sent[i-1].PTS())
		}
	}
	assert.Equal(t, 1, obs.Count(metrics.EventPlaybackStart))
	done, ok := obs.Last(metrics.EventPlaybackDone)
	require.True(t, ok)
	assert.Equal(t, "completed", done.Tags[metrics.TagStatus])
	assert.Equal(t, float64(5), done.Value)
}

func TestStreamPacesFrames(t *testing.T) {
	const delay = 15 * time.Millisecond
	sender := &fakeSender{connected: true}
	p := NewPacer(sender, Config{FrameDelay: delay})
	clip, err := p.Prepare(pcmClip(960, 500, 8000))
	require.NoError(t, err)
	require.Len(t, clip.Frames, 6)

	start := time.Now()
	res, err := p.Stream(context.Background(), "MZ1", "CA1", clip)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, 6, res.FramesSent)

	assert.GreaterOrEqual(t, elapsed, 5*delay)
	for i := 1; i < len(sender.sentAt); i++ {
		assert.GreaterOrEqual(t, sender.sentAt[i].Sub(sender.sentAt[i-1]), delay, "gap before frame %d", i)
	}
	for _, f := range sender.sent {
		assert.Len(t, f.RawPayload(), 160)
	}
}

func TestStreamAbortsWhenDisconnected(t *testing.T) {
	sender := &fakeSender{connected: true, dropAfter: 2}
	p := NewPacer(sender, Config{})
	clip, err := p.Prepare(pcmClip(1600, 500, 8000))
	require.NoError(t, err)

	res, err := p.Stream(context.Background(), "MZ1", "CA1", clip)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.True(t, res.Aborted)
	assert.Equal(t, 2, res.FramesSent)
}

func TestStreamSendErrorAborts(t *testing.T) {
	sender := &fakeSender{connected: true, sendErr: errors.New("queue full")}
	p := NewPacer(sender, Config{})
	clip, _ := p.Prepare(pcmClip(320, 0, 8000))
	res, err := p.Stream(context.Background(), "MZ1", "CA1", clip)
	require.Error(t, err)
	assert.Equal(t, errorsx.ReasonTransportSend, errorsx.Reason(err))
	assert.Zero(t, res.FramesSent)
}

func TestStreamHonoursContext(t *testing.T) {
	sender := &fakeSender{connected: true}
	p := NewPacer(sender, Config{FrameDelay: time.Hour})
	clip, _ := p.Prepare(pcmClip(480, 0, 8000))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := p.Stream(ctx, "MZ1", "CA1", clip)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.FramesSent)
}
