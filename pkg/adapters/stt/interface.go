package stt

import (
	"context"
	"time"
)

// Request carries one buffered utterance.
type Request struct {
	// Audio is a complete WAV container.
	Audio      []byte
	SampleRate int
	// LanguageHint is optional; an empty hint asks the provider to detect the language.
	LanguageHint string
}

// Result is the provider's transcription of a Request.
type Result struct {
	Text string
	// LanguageCode is the provider-detected language (BCP-47 or ISO 639-1).
	LanguageCode string
	Confidence   float64
	Duration     time.Duration
}

// Transcriber defines the contract for any batch STT vendor implementation.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts one utterance to text.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
