package tts

import "context"

// Request is one reply to synthesize.
type Request struct {
	Text string
	// Language is the language the remote party was last heard speaking.
	Language string
}

// Audio is synthesized speech in the provider's container.
type Audio struct {
	Data []byte
	// Container is one of the audio.Container* values.
	Container  string
	SampleRate int
}

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text to audio.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}
