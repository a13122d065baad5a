// Package playback streams synthesized speech to a call at real-time pace.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/frames"
	"github.com/harunnryd/callprobe/pkg/logging"
	"github.com/harunnryd/callprobe/pkg/metrics"
)

// ErrAborted is returned when the stream went away mid-playback.
var ErrAborted = errors.New("playback aborted: stream closed")

// Sender is the part of a transport the pacer needs.
type Sender interface {
	Send(frames.Frame) error
	Connected(streamID string) bool
}

type Config struct {
	// SampleRate of the transport leg.
	SampleRate int
	Gain       float64
	// FrameBytes is the size of one mu-law frame; 160 bytes is 20ms at 8kHz.
	FrameBytes int
	FrameDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.Gain <= 0 {
		c.Gain = 1
	}
	if c.FrameBytes <= 0 {
		c.FrameBytes = 160
	}
	if c.FrameDelay < 0 {
		c.FrameDelay = 0
	}
	return c
}

// Clip is audio ready to send: mu-law frames at the transport rate.
type Clip struct {
	Frames      [][]byte
	AudioMillis int
}

// Result describes one Stream call.
type Result struct {
	FramesSent int
	Aborted    bool
}

// Pacer converts provider audio into transport frames and sends them one by
// one with a fixed delay, checking the stream before every frame.
type Pacer struct {
	cfg    Config
	sender Sender
	obs    metrics.Observer
	logger *slog.Logger
	pts    *frames.PTSGen
}

func NewPacer(sender Sender, cfg Config) *Pacer {
	cfg = cfg.withDefaults()
	return &Pacer{
		cfg:    cfg,
		sender: sender,
		obs:    metrics.NoopObserver{},
		logger: logging.NewComponentLogger(slog.Default(), "playback"),
		pts:    frames.NewPTSGen(time.Duration(cfg.FrameBytes) * time.Second / time.Duration(cfg.SampleRate)),
	}
}

func (p *Pacer) SetObserver(obs metrics.Observer) {
	if obs != nil {
		p.obs = obs
	}
}

// Prepare decodes, resamples, amplifies with clamping, mu-law encodes and
// slices clip into fixed-size frames, padding the last with mu-law silence.
func (p *Pacer) Prepare(clip tts.Audio) (Clip, error) {
	decoded, err := audio.Decode(clip.Data, clip.Container, clip.SampleRate)
	if err != nil {
		return Clip{}, errorsx.Wrap(err, errorsx.ReasonAudioDecode)
	}
	pcm, err := audio.ResamplePCM16(decoded.PCM, decoded.SampleRate, p.cfg.SampleRate)
	if err != nil {
		return Clip{}, errorsx.Wrap(err, errorsx.ReasonAudioEncode)
	}
	pcm = audio.ApplyGain(pcm, p.cfg.Gain)
	ulaw := audio.EncodeMuLaw(pcm)
	return Clip{
		Frames:      audio.SliceFrames(ulaw, p.cfg.FrameBytes, audio.MuLawSilence),
		AudioMillis: audio.DurationMillis(pcm, p.cfg.SampleRate),
	}, nil
}

// Stream sends clip to streamID. It stops early when ctx is done or the
// stream is no longer connected.
func (p *Pacer) Stream(ctx context.Context, streamID, callSID string, clip Clip) (Result, error) {
	tags := map[string]string{
		metrics.TagCallSID:  callSID,
		metrics.TagStreamID: streamID,
	}
	p.record(metrics.EventPlaybackStart, tags, float64(len(clip.Frames)), map[string]any{"audio_ms": clip.AudioMillis})

	var res Result
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for i, chunk := range clip.Frames {
		if !p.sender.Connected(streamID) {
			return p.abort(res, tags, errorsx.Wrap(ErrAborted, errorsx.ReasonPlaybackAborted))
		}
		meta := map[string]string{
			frames.MetaStreamID: streamID,
			frames.MetaCallSID:  callSID,
			frames.MetaEncoding: frames.EncodingMuLaw,
			frames.MetaSource:   "playback",
		}
		f := frames.NewAudioFrame(streamID, p.pts.Next(streamID), chunk, p.cfg.SampleRate, meta)
		if err := p.sender.Send(f); err != nil {
			return p.abort(res, tags, errorsx.Wrap(err, errorsx.ReasonTransportSend))
		}
		res.FramesSent++
		if i == len(clip.Frames)-1 || p.cfg.FrameDelay == 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(p.cfg.FrameDelay)
		} else {
			timer.Reset(p.cfg.FrameDelay)
		}
		select {
		case <-ctx.Done():
			return p.abort(res, tags, ctx.Err())
		case <-timer.C:
		}
	}
	p.record(metrics.EventPlaybackDone, withStatus(tags, "completed"), float64(res.FramesSent), nil)
	return res, nil
}

// Forget drops per-stream timestamp state once a call is over.
func (p *Pacer) Forget(streamID string) { p.pts.Forget(streamID) }

func (p *Pacer) abort(res Result, tags map[string]string, err error) (Result, error) {
	res.Aborted = true
	p.logger.Info("playback_aborted",
		slog.String("call_sid", tags[metrics.TagCallSID]),
		slog.String("stream_sid", tags[metrics.TagStreamID]),
		slog.Int("frames_sent", res.FramesSent),
		slog.String("error", err.Error()))
	p.record(metrics.EventPlaybackDone, withStatus(tags, "aborted"), float64(res.FramesSent), nil)
	return res, err
}

func (p *Pacer) record(name string, tags map[string]string, value float64, fields map[string]any) {
	p.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags, Fields: fields})
}

func withStatus(tags map[string]string, status string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out[metrics.TagStatus] = status
	return out
}
