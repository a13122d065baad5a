package frames

import (
	"sync"
	"time"
)

type Kind string

const (
	KindAudio  Kind = "audio"
	KindSystem Kind = "system"
)

// System frame names emitted by transports.
const (
	SystemCallStart = "call_start"
	SystemCallEnd   = "call_end"
)

// Encoding values carried under MetaEncoding.
const (
	EncodingPCM16 = "pcm16"
	EncodingMuLaw = "mulaw"
)

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// header is the part every frame shares. Meta is copied on the way in and on
// the way out; MetaValue reads it in place.
type header struct {
	pts  int64
	meta map[string]string
}

func newHeader(streamID string, pts int64, meta map[string]string) header {
	merged := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		merged[k] = v
	}
	if streamID != "" {
		merged[MetaStreamID] = streamID
	}
	return header{pts: pts, meta: merged}
}

func (h header) PTS() int64                  { return h.pts }
func (h header) MetaValue(key string) string { return h.meta[key] }

func (h header) Meta() map[string]string {
	out := make(map[string]string, len(h.meta))
	for k, v := range h.meta {
		out[k] = v
	}
	return out
}

// AudioFrame is one mono chunk of audio. Inbound frames hold little-endian
// PCM16; outbound frames hold whatever MetaEncoding names.
type AudioFrame struct {
	header
	payload []byte
	rate    int
}

func NewAudioFrame(streamID string, pts int64, payload []byte, rate int, meta map[string]string) AudioFrame {
	return AudioFrame{header: newHeader(streamID, pts, meta), payload: payload, rate: rate}
}

func (AudioFrame) Kind() Kind { return KindAudio }

// RawPayload returns the frame bytes without copying.
func (a AudioFrame) RawPayload() []byte { return a.payload }
func (a AudioFrame) Rate() int          { return a.rate }

func (a AudioFrame) Encoding() string {
	if enc := a.meta[MetaEncoding]; enc != "" {
		return enc
	}
	return EncodingPCM16
}

// SystemFrame announces call lifecycle changes such as SystemCallStart.
type SystemFrame struct {
	header
	name string
}

func NewSystemFrame(streamID string, pts int64, name string, meta map[string]string) SystemFrame {
	return SystemFrame{header: newHeader(streamID, pts, meta), name: name}
}

func (SystemFrame) Kind() Kind     { return KindSystem }
func (s SystemFrame) Name() string { return s.name }

// PTSGen hands out monotonically increasing presentation timestamps per stream.
type PTSGen struct {
	mu    sync.Mutex
	value map[string]int64
	step  int64
}

func NewPTSGen(step time.Duration) *PTSGen {
	if step <= 0 {
		step = time.Millisecond
	}
	return &PTSGen{value: make(map[string]int64), step: step.Nanoseconds()}
}

func (g *PTSGen) Next(streamID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[streamID] + g.step
	g.value[streamID] = v
	return v
}

// Forget drops the counter for a finished stream.
func (g *PTSGen) Forget(streamID string) {
	g.mu.Lock()
	delete(g.value, streamID)
	g.mu.Unlock()
}
